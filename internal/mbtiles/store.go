// Package mbtiles provides read-only access to MBTiles tile databases.
//
// An MBTiles file is a single SQLite database holding a metadata
// key/value table and a tiles table (or view) keyed by zoom_level,
// tile_column and tile_row. Everything the store needs to know about a
// file — tile format, layer type, geographic extent, which zoom levels
// actually hold tiles — is inferred from the file itself when the
// store is opened; nothing is configured externally.
package mbtiles

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/mbtileserv/server/internal/pool"
	"github.com/mbtileserv/server/internal/tiling"
)

var (
	// ErrNoPool is returned by Open when no connection pool is supplied.
	ErrNoPool = errors.New("mbtiles: connection pool not supplied")

	// ErrEmptyStore is returned by Open when range discovery runs and
	// finds no tiles at any zoom level.
	ErrEmptyStore = errors.New("mbtiles: no data in store")

	// ErrReadOnly is returned by Add and Remove. MBTiles stores are
	// read-only for their entire lifetime.
	ErrReadOnly = errors.New("mbtiles: store is read-only")
)

// TileCoord addresses one tile in the pyramid. Rows use the TMS
// orientation MBTiles stores internally (row 0 at the south edge).
type TileCoord struct {
	Z int // zoom level
	X int // column
	Y int // row
}

// tileRange is the inclusive column/row box of tiles stored at one level.
type tileRange struct {
	colMin, colMax int
	rowMin, rowMax int
}

// Store is a read-only handle over one MBTiles file. The derived
// schema (format, layer type, extent, tiling scheme, level ranges) is
// computed once in Open and never mutated afterwards, so all methods
// other than the queries themselves are safe without locking.
type Store struct {
	conn      *pool.Conn
	format    TileFormat
	layerType LayerType
	extent    tiling.Extent
	scheme    *tiling.Scheme

	// ranges is nil when the store has no map table, in which case
	// every coordinate is presumptively valid.
	ranges map[string]tileRange
}

// Open opens the MBTiles file at path through the shared pool and runs
// schema detection. Missing or malformed metadata falls back to
// documented defaults; a store whose range-discovery index exists but
// holds no tiles fails with ErrEmptyStore.
func Open(p *pool.Pool, path string) (*Store, error) {
	if p == nil {
		return nil, ErrNoPool
	}

	conn, err := p.Acquire(path)
	if err != nil {
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.detectSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// IsValid reports whether c could have a stored tile. Without
// discovered ranges every coordinate passes; with ranges the check is
// a necessary but not sufficient condition, since a level's bounding
// box can contain gaps.
func (s *Store) IsValid(c TileCoord) bool {
	if s.ranges == nil {
		return true
	}
	r, ok := s.ranges[strconv.Itoa(c.Z)]
	if !ok {
		return false
	}
	return c.X >= r.colMin && c.X <= r.colMax && c.Y >= r.rowMin && c.Y <= r.rowMax
}

// Find returns the stored bytes for c, or (nil, nil) when no tile
// exists there. The payload is returned exactly as stored — no
// decoding, no transcoding.
func (s *Store) Find(c TileCoord) ([]byte, error) {
	if !s.IsValid(c) {
		return nil, nil
	}

	var data []byte
	err := s.conn.Do(func(db *sql.DB) error {
		row := db.QueryRow(
			"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_row = ? AND tile_column = ?",
			c.Z, c.Y, c.X)
		if err := row.Scan(&data); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("mbtiles: tile read failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Add is unsupported; the store never accepts writes.
func (s *Store) Add(TileCoord, []byte) error {
	return ErrReadOnly
}

// Remove is unsupported; the store never accepts writes.
func (s *Store) Remove(TileCoord) error {
	return ErrReadOnly
}

// Format returns the detected tile format.
func (s *Store) Format() TileFormat {
	return s.format
}

// LayerType returns the detected layer type.
func (s *Store) LayerType() LayerType {
	return s.layerType
}

// Extent returns the detected geographic extent in EPSG:3857 meters.
func (s *Store) Extent() tiling.Extent {
	return s.extent
}

// Scheme returns the tiling scheme inferred for this store.
func (s *Store) Scheme() *tiling.Scheme {
	return s.scheme
}
