// Package main is the entry point for the MBTiles server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbtileserv/server/internal/api"
	"github.com/mbtileserv/server/internal/cache"
	"github.com/mbtileserv/server/internal/config"
	"github.com/mbtileserv/server/internal/mbtiles"
	"github.com/mbtileserv/server/internal/pool"
	"github.com/mbtileserv/server/internal/render"
	"github.com/mbtileserv/server/internal/service"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(cfg.Data.DatasetIDs()) == 0 {
		log.Fatal("No datasets configured; add an mbtiles file under the data section")
	}

	log.Printf("Starting MBTiles server on port %d", cfg.Server.Port)

	// One connection pool shared by every store; stores over the same
	// file share a locked connection.
	connPool := pool.New()
	defer connPool.Close()

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB:   cfg.Cache.TileSizeMB,
		TileTTL:           time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		MetadataCacheSize: cfg.Cache.MetadataCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize: cfg.Render.TileSize,
	})

	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Server.Title)

	log.Printf("Opening %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		store, err := mbtiles.Open(connPool, ds.Path)
		if err != nil {
			log.Fatalf("Failed to open mbtiles for dataset %q: %v", datasetID, err)
		}

		scheme := store.Scheme()
		log.Printf("  [%s] %s: format=%s type=%s zoom=%d..%d",
			datasetID, ds.Path, store.Format(), store.LayerType(), scheme.MinZoom(), scheme.MaxZoom())
		if levels := scheme.Levels(); levels != nil {
			log.Printf("  [%s] Discovered tile index, levels: %v", datasetID, levels)
		}

		registry.Register(datasetID, service.NewTileService(service.TileServiceConfig{
			DatasetID: datasetID,
			Store:     store,
			Cache:     cacheManager,
		}))
	}

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Cache:       cacheManager,
		Renderer:    tileRenderer,
		MissingTile: cfg.Render.MissingTile,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
