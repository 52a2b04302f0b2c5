// Package tiling maps tile coordinates to geographic regions in the
// global spherical-mercator pyramid.
package tiling

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// EarthRadius is the spherical-mercator earth radius in meters (EPSG:3857).
const EarthRadius = 6378137.0

// OriginShift is half the side length of the spherical-mercator plane.
const OriginShift = 20037508.342789

// Extent is an axis-aligned bounding box in EPSG:3857 meters.
type Extent struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// WorldExtent returns the full extent of the spherical-mercator plane.
func WorldExtent() Extent {
	return Extent{MinX: -OriginShift, MinY: -OriginShift, MaxX: OriginShift, MaxY: OriginShift}
}

// ToMercator projects a lon/lat pair in degrees to EPSG:3857 meters.
// Pairs outside [-180,180]x[-90,90] are passed through unchanged: some
// tile stores persist bounds that are already projected, and there is
// no reliable way to tell those apart from garbage.
func ToMercator(lon, lat float64) (x, y float64) {
	if math.Abs(lon) > 180 || math.Abs(lat) > 90 {
		return lon, lat
	}
	x = lon * OriginShift / 180
	y = math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180) * OriginShift / 180
	return x, y
}

// FlipY converts a tile row between XYZ and TMS addressing at zoom z.
// The transform is its own inverse.
func FlipY(z, y int) int {
	return (1 << uint(z)) - 1 - y
}

// Scheme addresses tiles in the global pyramid, optionally restricted
// to the zoom levels a store actually contains.
type Scheme struct {
	format string
	levels []int
}

// NewScheme builds a scheme for the given tile format, restricted to
// the given zoom levels. An empty level set means the full pyramid.
func NewScheme(format string, levels []int) *Scheme {
	out := make([]int, len(levels))
	copy(out, levels)
	sort.Ints(out)
	return &Scheme{format: format, levels: out}
}

// GlobalScheme builds the standard unrestricted scheme.
func GlobalScheme(format string) *Scheme {
	return NewScheme(format, nil)
}

// Format returns the tile format label the scheme was built for.
func (s *Scheme) Format() string {
	return s.format
}

// Levels returns the restricted zoom levels in ascending order, or nil
// when the scheme covers the whole pyramid.
func (s *Scheme) Levels() []int {
	if len(s.levels) == 0 {
		return nil
	}
	out := make([]int, len(s.levels))
	copy(out, s.levels)
	return out
}

// HasLevel reports whether the scheme addresses tiles at zoom z.
func (s *Scheme) HasLevel(z int) bool {
	if len(s.levels) == 0 {
		return z >= 0
	}
	i := sort.SearchInts(s.levels, z)
	return i < len(s.levels) && s.levels[i] == z
}

// MinZoom returns the lowest addressable zoom level.
func (s *Scheme) MinZoom() int {
	if len(s.levels) == 0 {
		return 0
	}
	return s.levels[0]
}

// MaxZoom returns the highest addressable zoom level. For an
// unrestricted scheme this is the conventional web-mercator maximum.
func (s *Scheme) MaxZoom() int {
	if len(s.levels) == 0 {
		return 22
	}
	return s.levels[len(s.levels)-1]
}

// TileBound returns the geographic (lon/lat degree) bound of an XYZ tile.
func (s *Scheme) TileBound(z, x, y int) orb.Bound {
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)).Bound()
}

// TileExtent returns the EPSG:3857 extent of an XYZ tile.
func (s *Scheme) TileExtent(z, x, y int) Extent {
	b := s.TileBound(z, x, y)
	minX, minY := ToMercator(b.Min[0], b.Min[1])
	maxX, maxY := ToMercator(b.Max[0], b.Max[1])
	return Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}
