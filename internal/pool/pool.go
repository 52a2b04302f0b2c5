// Package pool manages shared SQLite connections for tile stores.
//
// Stores opened over the same database file share one connection and
// one lock, so statements on a shared handle never overlap; stores
// over distinct files proceed fully in parallel.
package pool

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Conn is one pooled connection. Its mutex serializes every statement
// issued on the underlying handle.
type Conn struct {
	mu sync.Mutex
	db *sql.DB
}

// Do runs fn with exclusive access to the connection. The lock is held
// for the duration of fn and released on every exit path, including a
// panic inside fn.
func (c *Conn) Do(fn func(db *sql.DB) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.db)
}

// Pool hands out connections keyed by database path.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{conns: make(map[string]*Conn)}
}

// Acquire returns the shared connection for path, opening the database
// read-only on first use.
func (p *Pool) Acquire(path string) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[path]; ok {
		return c, nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One handle per file; the Conn mutex does the serializing.
	db.SetMaxOpenConns(1)

	c := &Conn{db: db}
	p.conns[path] = c
	return c, nil
}

// Len returns the number of open connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every pooled connection. The pool must not be used
// afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for path, c := range p.conns {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", path, err)
		}
		delete(p.conns, path)
	}
	return firstErr
}
