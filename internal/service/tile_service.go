// Package service provides business logic for the tile server.
package service

import (
	"github.com/mbtileserv/server/internal/cache"
	"github.com/mbtileserv/server/internal/mbtiles"
	"github.com/mbtileserv/server/internal/tiling"
)

// TileServiceConfig contains tile service configuration.
type TileServiceConfig struct {
	DatasetID string
	Store     *mbtiles.Store
	Cache     *cache.Manager
}

// TileService serves tiles for one dataset, putting the shared cache
// in front of the store's read path.
type TileService struct {
	datasetID string
	store     *mbtiles.Store
	cache     *cache.Manager
}

// Metadata describes a dataset for API clients. Bounds are in
// EPSG:3857 meters, matching the extent the store detected.
type Metadata struct {
	Dataset   string        `json:"dataset"`
	Format    string        `json:"format"`
	LayerType string        `json:"layer_type"`
	Bounds    tiling.Extent `json:"bounds"`
	MinZoom   int           `json:"minzoom"`
	MaxZoom   int           `json:"maxzoom"`
	Levels    []int         `json:"levels,omitempty"`
}

// NewTileService creates a new tile service.
func NewTileService(cfg TileServiceConfig) *TileService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	return &TileService{
		datasetID: datasetID,
		store:     cfg.Store,
		cache:     cfg.Cache,
	}
}

// GetTile returns the stored bytes for an XYZ tile request, or nil
// when the store has no tile there. Rows are flipped to the TMS
// orientation MBTiles uses internally before hitting the store.
func (s *TileService) GetTile(z, x, y int) ([]byte, error) {
	if z < 0 || z > 30 || x < 0 || y < 0 {
		return nil, nil
	}
	tilesPerAxis := 1 << uint(z)
	if x >= tilesPerAxis || y >= tilesPerAxis {
		return nil, nil
	}

	cacheKey := cache.TileKey(s.datasetID, z, x, y)
	if data, ok := s.cache.GetTile(cacheKey); ok {
		return data, nil
	}

	data, err := s.store.Find(mbtiles.TileCoord{Z: z, X: x, Y: tiling.FlipY(z, y)})
	if err != nil {
		return nil, err
	}
	if data == nil {
		// Misses are not cached; range rejection already makes the
		// common ones cheap.
		return nil, nil
	}

	s.cache.SetTile(cacheKey, data)
	return data, nil
}

// Format returns the dataset's detected tile format.
func (s *TileService) Format() mbtiles.TileFormat {
	return s.store.Format()
}

// Metadata returns the dataset description derived at open time.
func (s *TileService) Metadata() *Metadata {
	scheme := s.store.Scheme()
	return &Metadata{
		Dataset:   s.datasetID,
		Format:    string(s.store.Format()),
		LayerType: string(s.store.LayerType()),
		Bounds:    s.store.Extent(),
		MinZoom:   scheme.MinZoom(),
		MaxZoom:   scheme.MaxZoom(),
		Levels:    scheme.Levels(),
	}
}
