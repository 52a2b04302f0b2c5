package mbtiles

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/mbtileserv/server/internal/tiling"
)

// detectSchema reads the store's own metadata and index tables to
// derive format, layer type, extent, level ranges and tiling scheme.
// It runs exactly once, at construction, under the connection lock.
func (s *Store) detectSchema() error {
	return s.conn.Do(func(db *sql.DB) error {
		s.layerType = parseOrDefault(readMetadata(db, "type"), layerTypes, LayerBase)
		s.format = parseOrDefault(readMetadata(db, "format"), tileFormats, FormatPNG)
		s.extent = parseBounds(readMetadata(db, "bounds"))

		// The map table's mere presence switches on range discovery;
		// its content is never read directly.
		hasMap, err := tableExists(db, "map")
		if err != nil {
			return fmt.Errorf("mbtiles: catalog query failed: %w", err)
		}
		if !hasMap {
			s.scheme = tiling.GlobalScheme(string(s.format))
			return nil
		}

		source, err := tileSource(db)
		if err != nil {
			return err
		}
		ranges, levels, err := discoverRanges(db, source)
		if err != nil {
			return err
		}
		s.ranges = ranges
		s.scheme = tiling.NewScheme(string(s.format), levels)
		return nil
	})
}

// readMetadata returns the value stored under key in the metadata
// table, or "" when the key is absent or the read fails. Optional
// metadata is never fatal; the caller falls back to a default.
func readMetadata(db *sql.DB, key string) string {
	var value string
	if err := db.QueryRow("SELECT value FROM metadata WHERE name = ?", key).Scan(&value); err != nil {
		return ""
	}
	return value
}

// parseBounds parses "minLon,minLat,maxLon,maxLat" in degrees and
// projects each corner to EPSG:3857. Anything malformed yields the
// full-world extent.
func parseBounds(raw string) tiling.Extent {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return tiling.WorldExtent()
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tiling.WorldExtent()
		}
		vals[i] = v
	}

	minX, minY := tiling.ToMercator(vals[0], vals[1])
	maxX, maxY := tiling.ToMercator(vals[2], vals[3])
	return tiling.Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// tableExists checks the SQLite catalog for a table with this name.
func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// tileSource resolves the queryable tile source: the tiles table
// itself, or the table a tiles view selects from.
func tileSource(db *sql.DB) (string, error) {
	var typ string
	var defn sql.NullString
	err := db.QueryRow("SELECT type, sql FROM sqlite_master WHERE name = 'tiles'").Scan(&typ, &defn)
	if err == sql.ErrNoRows {
		return "tiles", nil
	}
	if err != nil {
		return "", fmt.Errorf("mbtiles: catalog query failed: %w", err)
	}
	if typ != "view" || !defn.Valid {
		return "tiles", nil
	}
	return viewSource(defn.String), nil
}

// viewSource scrapes the single source name out of a view definition.
// This is a deliberately narrow best-effort parser: it handles the
// conventional "CREATE VIEW tiles AS SELECT ... FROM <source> INNER
// JOIN ..." shape written by mbtiles tooling and nothing more.
func viewSource(defn string) string {
	upper := strings.ToUpper(defn)
	from := strings.Index(upper, "FROM")
	if from < 0 {
		return "tiles"
	}

	rest := defn[from+len("FROM"):]
	restUpper := upper[from+len("FROM"):]
	end := len(rest)
	if i := strings.Index(restUpper, "INNER"); i >= 0 && i < end {
		end = i
	}
	if i := strings.Index(restUpper, "JOIN"); i >= 0 && i < end {
		end = i
	}

	name := strings.TrimSpace(rest[:end])
	name = strings.Trim(name, "\"'`[]")
	if name == "" {
		return "tiles"
	}
	return name
}

// discoverRanges aggregates the stored tile index per zoom level,
// returning the inclusive column/row box for each level and the
// ordered level set. Zero groups means the declared index is unusable,
// which aborts construction rather than defaulting.
func discoverRanges(db *sql.DB, source string) (map[string]tileRange, []int, error) {
	q := fmt.Sprintf(
		"SELECT zoom_level, MIN(tile_column), MAX(tile_column), MIN(tile_row), MAX(tile_row) FROM %s GROUP BY zoom_level",
		quoteIdent(source))
	rows, err := db.Query(q)
	if err != nil {
		return nil, nil, fmt.Errorf("mbtiles: range discovery failed: %w", err)
	}
	defer rows.Close()

	ranges := make(map[string]tileRange)
	var levels []int
	for rows.Next() {
		var z int
		var r tileRange
		if err := rows.Scan(&z, &r.colMin, &r.colMax, &r.rowMin, &r.rowMax); err != nil {
			return nil, nil, fmt.Errorf("mbtiles: range discovery failed: %w", err)
		}
		ranges[strconv.Itoa(z)] = r
		levels = append(levels, z)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("mbtiles: range discovery failed: %w", err)
	}
	if len(ranges) == 0 {
		return nil, nil, ErrEmptyStore
	}
	return ranges, levels, nil
}

// quoteIdent quotes a scraped identifier for safe interpolation.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
