package mbtiles

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mbtileserv/server/internal/pool"
	"github.com/mbtileserv/server/internal/tiling"
)

// tileRow is one tiles-table row in a test fixture.
type tileRow struct {
	z, x, y int
	data    []byte
}

// createMBTiles builds an MBTiles fixture file and returns its path.
// When withMap is true an empty map table is created alongside, which
// is all schema detection looks at.
func createMBTiles(t *testing.T, meta map[string]string, withMap bool, tiles []tileRow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.mbtiles")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open fixture db: %v", err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE metadata (name TEXT, value TEXT);
	CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create fixture schema: %v", err)
	}
	if withMap {
		if _, err := db.Exec("CREATE TABLE map (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_id TEXT)"); err != nil {
			t.Fatalf("failed to create map table: %v", err)
		}
	}

	for name, value := range meta {
		if _, err := db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", name, value); err != nil {
			t.Fatalf("failed to insert metadata: %v", err)
		}
	}
	for _, tl := range tiles {
		if _, err := db.Exec(
			"INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)",
			tl.z, tl.x, tl.y, tl.data); err != nil {
			t.Fatalf("failed to insert tile: %v", err)
		}
	}
	return path
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()

	p := pool.New()
	t.Cleanup(func() { p.Close() })

	s, err := Open(p, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func TestOpen_NilPool(t *testing.T) {
	_, err := Open(nil, "ignored.mbtiles")
	if !errors.Is(err, ErrNoPool) {
		t.Fatalf("expected ErrNoPool, got %v", err)
	}
}

func TestOpen_Defaults(t *testing.T) {
	// No metadata rows at all: everything falls back to defaults.
	path := createMBTiles(t, nil, false, []tileRow{{0, 0, 0, []byte("x")}})
	s := openStore(t, path)

	if s.Format() != FormatPNG {
		t.Errorf("expected default format png, got %s", s.Format())
	}
	if s.LayerType() != LayerBase {
		t.Errorf("expected default layer type baselayer, got %s", s.LayerType())
	}
	if s.Extent() != tiling.WorldExtent() {
		t.Errorf("expected full-world extent, got %+v", s.Extent())
	}
	if s.Scheme().Levels() != nil {
		t.Errorf("expected unrestricted scheme, got levels %v", s.Scheme().Levels())
	}
}

func TestOpen_Metadata(t *testing.T) {
	meta := map[string]string{
		"type":   "OVERLAY", // parsing is case-insensitive
		"format": "Jpg",
		"bounds": "-10.5,-20.25,30,40",
	}
	path := createMBTiles(t, meta, false, []tileRow{{0, 0, 0, []byte("x")}})
	s := openStore(t, path)

	if s.LayerType() != LayerOverlay {
		t.Errorf("expected overlay, got %s", s.LayerType())
	}
	if s.Format() != FormatJPG {
		t.Errorf("expected jpg, got %s", s.Format())
	}

	minX, minY := tiling.ToMercator(-10.5, -20.25)
	maxX, maxY := tiling.ToMercator(30, 40)
	want := tiling.Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	if s.Extent() != want {
		t.Errorf("expected extent %+v, got %+v", want, s.Extent())
	}
}

func TestOpen_UnknownEnumValues(t *testing.T) {
	meta := map[string]string{
		"type":   "somethingelse",
		"format": "tiff",
	}
	path := createMBTiles(t, meta, false, nil)
	s := openStore(t, path)

	if s.Format() != FormatPNG {
		t.Errorf("expected png fallback, got %s", s.Format())
	}
	if s.LayerType() != LayerBase {
		t.Errorf("expected baselayer fallback, got %s", s.LayerType())
	}
}

func TestOpen_RangeDiscovery(t *testing.T) {
	tiles := []tileRow{
		{0, 0, 0, []byte("a")},
		{1, 0, 0, []byte("b")},
		{1, 1, 1, []byte("c")},
		{2, 1, 2, []byte("d")},
		{2, 3, 3, []byte("e")},
	}
	path := createMBTiles(t, nil, true, tiles)
	s := openStore(t, path)

	levels := s.Scheme().Levels()
	if len(levels) != 3 || levels[0] != 0 || levels[1] != 1 || levels[2] != 2 {
		t.Fatalf("expected levels [0 1 2], got %v", levels)
	}

	tests := []struct {
		name  string
		coord TileCoord
		want  bool
	}{
		{"z0 exact", TileCoord{0, 0, 0}, true},
		{"z0 outside column", TileCoord{0, 1, 0}, false},
		{"z1 min corner", TileCoord{1, 0, 0}, true},
		{"z1 max corner", TileCoord{1, 1, 1}, true},
		{"z1 outside row", TileCoord{1, 0, 2}, false},
		{"z2 inside box gap", TileCoord{2, 2, 2}, true}, // box check only, gaps pass
		{"z2 below row min", TileCoord{2, 1, 1}, false},
		{"z2 above column max", TileCoord{2, 4, 2}, false},
		{"undiscovered level", TileCoord{5, 0, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsValid(tt.coord); got != tt.want {
				t.Errorf("IsValid(%+v) = %v, expected %v", tt.coord, got, tt.want)
			}
		})
	}
}

func TestOpen_NoMapTable_AllValid(t *testing.T) {
	path := createMBTiles(t, nil, false, nil)
	s := openStore(t, path)

	coords := []TileCoord{
		{0, 0, 0},
		{7, 12, 99},
		{30, 1 << 20, 1 << 20},
	}
	for _, c := range coords {
		if !s.IsValid(c) {
			t.Errorf("expected IsValid(%+v) = true without ranges", c)
		}
	}
}

func TestOpen_EmptyStore(t *testing.T) {
	path := createMBTiles(t, nil, true, nil)

	p := pool.New()
	defer p.Close()

	_, err := Open(p, path)
	if !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("expected ErrEmptyStore, got %v", err)
	}
}

func TestFind(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01, 0x02}
	tiles := []tileRow{
		{3, 2, 5, payload},
		{3, 2, 6, nil}, // empty blob is a miss
	}
	path := createMBTiles(t, nil, true, tiles)
	s := openStore(t, path)

	t.Run("hit", func(t *testing.T) {
		data, err := s.Find(TileCoord{3, 2, 5})
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if !bytes.Equal(data, payload) {
			t.Errorf("expected payload returned byte for byte, got %v", data)
		}
	})

	t.Run("empty blob", func(t *testing.T) {
		data, err := s.Find(TileCoord{3, 2, 6})
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if len(data) != 0 {
			t.Errorf("expected empty-blob tile to read as miss, got %d bytes", len(data))
		}
	})

	t.Run("rejected by range", func(t *testing.T) {
		data, err := s.Find(TileCoord{9, 0, 0})
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if data != nil {
			t.Errorf("expected nil for out-of-range coordinate, got %d bytes", len(data))
		}
	})
}

func TestFind_NoRanges(t *testing.T) {
	path := createMBTiles(t, nil, false, []tileRow{{1, 0, 1, []byte("tile")}})
	s := openStore(t, path)

	data, err := s.Find(TileCoord{1, 0, 1})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if string(data) != "tile" {
		t.Errorf("expected stored tile, got %q", data)
	}

	data, err = s.Find(TileCoord{1, 1, 1})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if data != nil {
		t.Errorf("expected miss, got %d bytes", len(data))
	}
}

func TestAddRemove_ReadOnly(t *testing.T) {
	path := createMBTiles(t, nil, false, nil)
	s := openStore(t, path)

	if err := s.Add(TileCoord{0, 0, 0}, []byte("x")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from Add, got %v", err)
	}
	if err := s.Remove(TileCoord{0, 0, 0}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly from Remove, got %v", err)
	}

	// The store must be untouched.
	data, err := s.Find(TileCoord{0, 0, 0})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if data != nil {
		t.Errorf("expected store to stay empty, got %d bytes", len(data))
	}
}

func TestFind_Concurrent(t *testing.T) {
	var tiles []tileRow
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			tiles = append(tiles, tileRow{2, x, y, []byte(fmt.Sprintf("tile-%d-%d", x, y))})
		}
	}
	path := createMBTiles(t, nil, true, tiles)
	s := openStore(t, path)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				x, y := (i+j)%4, (i*j)%4
				data, err := s.Find(TileCoord{2, x, y})
				if err != nil {
					errs <- err
					return
				}
				want := fmt.Sprintf("tile-%d-%d", x, y)
				if string(data) != want {
					errs <- fmt.Errorf("got %q, expected %q", data, want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent find: %v", err)
	}
}

func TestOpen_SharedPool(t *testing.T) {
	// Two stores over the same file share one pooled connection.
	path := createMBTiles(t, nil, false, []tileRow{{0, 0, 0, []byte("x")}})

	p := pool.New()
	defer p.Close()

	s1, err := Open(p, path)
	if err != nil {
		t.Fatalf("failed to open first store: %v", err)
	}
	s2, err := Open(p, path)
	if err != nil {
		t.Fatalf("failed to open second store: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("expected 1 pooled connection, got %d", p.Len())
	}

	for _, s := range []*Store{s1, s2} {
		data, err := s.Find(TileCoord{0, 0, 0})
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if string(data) != "x" {
			t.Errorf("expected shared stores to read the same tile, got %q", data)
		}
	}
}
