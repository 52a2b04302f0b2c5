package mbtiles

import "strings"

// TileFormat is the pixel encoding of stored tiles.
type TileFormat string

const (
	FormatPNG  TileFormat = "png"
	FormatJPG  TileFormat = "jpg"
	FormatWEBP TileFormat = "webp"
	FormatPBF  TileFormat = "pbf"
)

// LayerType is the semantic role of a tile set.
type LayerType string

const (
	LayerBase    LayerType = "baselayer"
	LayerOverlay LayerType = "overlay"
)

var (
	tileFormats = []TileFormat{FormatPNG, FormatJPG, FormatWEBP, FormatPBF}
	layerTypes  = []LayerType{LayerBase, LayerOverlay}
)

// parseOrDefault matches raw case-insensitively against the known
// variants and falls back to def when nothing matches. Metadata in the
// wild is unreliable; an unknown value is never an error.
func parseOrDefault[T ~string](raw string, known []T, def T) T {
	for _, k := range known {
		if strings.EqualFold(raw, string(k)) {
			return k
		}
	}
	return def
}

// ContentType returns the MIME type for tiles of this format.
func (f TileFormat) ContentType() string {
	switch f {
	case FormatJPG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	case FormatPBF:
		return "application/x-protobuf"
	default:
		return "image/png"
	}
}

// Raster reports whether the format is a raster image encoding.
func (f TileFormat) Raster() bool {
	return f != FormatPBF
}
