// Package config handles configuration loading for the MBTiles server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Title       string   `yaml:"title"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatasetConfig describes one MBTiles file to serve.
type DatasetConfig struct {
	Path string `yaml:"path"`
}

// DataConfig maps dataset IDs to their MBTiles files. YAML order is
// preserved; the first dataset is the default.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig
	order          []string
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB        int `yaml:"tile_size_mb"`
	TileTTLMinutes    int `yaml:"tile_ttl_minutes"`
	MetadataCacheSize int `yaml:"metadata_cache_size"`
}

// RenderConfig contains placeholder-tile settings.
type RenderConfig struct {
	TileSize    int    `yaml:"tile_size"`
	MissingTile string `yaml:"missing_tile"` // none, blank or debug
}

// UnmarshalYAML decodes the data section. Each entry is either a bare
// path string or a mapping with a path key:
//
//	data:
//	  world: ./data/world.mbtiles
//	  hills:
//	    path: ./data/hillshade.mbtiles
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data section must be a mapping of dataset id to mbtiles path")
	}

	d.Datasets = make(map[string]DatasetConfig)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]

		var ds DatasetConfig
		if valNode.Kind == yaml.ScalarNode {
			ds.Path = valNode.Value
		} else if err := valNode.Decode(&ds); err != nil {
			return fmt.Errorf("dataset %q: %w", keyNode.Value, err)
		}

		d.Datasets[keyNode.Value] = ds
		d.order = append(d.order, keyNode.Value)
	}

	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// DatasetIDs returns dataset IDs in YAML order.
func (d *DataConfig) DatasetIDs() []string {
	return d.order
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Cache: CacheConfig{
			TileSizeMB:        512,
			TileTTLMinutes:    10,
			MetadataCacheSize: 256,
		},
		Render: RenderConfig{
			TileSize:    256,
			MissingTile: "none",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.MetadataCacheSize == 0 {
		cfg.Cache.MetadataCacheSize = defaults.Cache.MetadataCacheSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.MissingTile == "" {
		cfg.Render.MissingTile = defaults.Render.MissingTile
	}
}
