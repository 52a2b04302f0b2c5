// Package render produces placeholder tiles with fogleman/gg.
//
// The store serves tiles exactly as persisted; rendering only happens
// for coordinates that have no stored tile, where the server can
// answer with a blank tile or a labeled debug tile instead of a 404.
package render

import (
	"bytes"
	"fmt"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
)

// Config contains renderer configuration.
type Config struct {
	TileSize int
}

// TileRenderer renders placeholder tiles.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool

	blankOnce sync.Once
	blank     []byte
	blankErr  error
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 8*1024))
			},
		},
	}
}

// BlankTile returns a fully transparent PNG tile. It is encoded once
// and the same bytes are reused for every miss.
func (r *TileRenderer) BlankTile() ([]byte, error) {
	r.blankOnce.Do(func() {
		dc := r.contextPool.Get().(*gg.Context)
		defer r.contextPool.Put(dc)

		dc.SetRGBA(0, 0, 0, 0)
		dc.Clear()
		r.blank, r.blankErr = r.encodeContext(dc)
	})
	return r.blank, r.blankErr
}

// DebugTile renders an outlined tile labeled with its coordinate.
func (r *TileRenderer) DebugTile(z, x, y int) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	size := float64(r.config.TileSize)

	dc.SetRGBA(1, 1, 1, 1)
	dc.Clear()

	dc.SetRGBA(0.8, 0.2, 0.2, 1)
	dc.SetLineWidth(1)
	dc.DrawRectangle(0.5, 0.5, size-1, size-1)
	dc.Stroke()

	dc.SetRGBA(0.1, 0.1, 0.1, 1)
	dc.DrawStringAnchored(fmt.Sprintf("%d/%d/%d", z, x, y), size/2, size/2, 0.5, 0.5)

	return r.encodeContext(dc)
}

// encodeContext encodes the context image as PNG using a pooled buffer.
func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer r.bufferPool.Put(buf)
	buf.Reset()

	if err := png.Encode(buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
