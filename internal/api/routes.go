// Package api provides HTTP handlers for the MBTiles server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzip"

	"github.com/mbtileserv/server/internal/cache"
	"github.com/mbtileserv/server/internal/mbtiles"
	"github.com/mbtileserv/server/internal/render"
	"github.com/mbtileserv/server/internal/service"
)

// Missing-tile modes: what to answer when a coordinate has no stored
// tile.
const (
	MissingTileNone  = "none"  // 404
	MissingTileBlank = "blank" // transparent PNG
	MissingTileDebug = "debug" // labeled outline PNG
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	Cache       *cache.Manager
	Renderer    *render.TileRenderer
	MissingTile string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		// NOTE: chi treats '.' as a param delimiter when the pattern is
		// `{y}.png`, so the handler captures the whole segment and
		// strips a trailing extension itself.
		r.Get("/tiles/{z}/{x}/{y}", datasetTileHandler(cfg))

		r.Get("/api/metadata", datasetMetadataHandler(cfg.Cache))
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the tile
// service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.TileService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.TileService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// datasetTileHandler serves one tile by XYZ coordinate.
func datasetTileHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)

		z, err := strconv.Atoi(chi.URLParam(r, "z"))
		if err != nil {
			http.Error(w, "invalid z parameter", http.StatusBadRequest)
			return
		}
		x, err := strconv.Atoi(chi.URLParam(r, "x"))
		if err != nil {
			http.Error(w, "invalid x parameter", http.StatusBadRequest)
			return
		}
		y, err := strconv.Atoi(stripTileExt(chi.URLParam(r, "y")))
		if err != nil {
			http.Error(w, "invalid y parameter", http.StatusBadRequest)
			return
		}

		data, err := svc.GetTile(z, x, y)
		if err != nil {
			http.Error(w, "failed to read tile: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if data == nil {
			writeMissingTile(w, cfg, z, x, y)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Content-Type", svc.Format().ContentType())

		// Vector tiles are conventionally stored gzip-deflated. Pass
		// them through when the client can take them, decompress
		// otherwise.
		if svc.Format() == mbtiles.FormatPBF && isGzipped(data) {
			if acceptsGzip(r) {
				w.Header().Set("Content-Encoding", "gzip")
			} else {
				data, err = gunzip(data)
				if err != nil {
					http.Error(w, "failed to decode tile: "+err.Error(), http.StatusInternalServerError)
					return
				}
			}
		}

		w.Write(data)
	}
}

// writeMissingTile answers a miss according to the configured mode.
func writeMissingTile(w http.ResponseWriter, cfg RouterConfig, z, x, y int) {
	var (
		data []byte
		err  error
	)
	switch cfg.MissingTile {
	case MissingTileBlank:
		data, err = cfg.Renderer.BlankTile()
	case MissingTileDebug:
		data, err = cfg.Renderer.DebugTile(z, x, y)
	default:
		http.Error(w, "tile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to render tile: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// datasetMetadataHandler serves the dataset description, caching the
// serialized document since it never changes after open.
func datasetMetadataHandler(cacheManager *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc := getDatasetService(r)
		md := svc.Metadata()

		cacheKey := "meta:" + md.Dataset
		body, ok := cacheManager.GetMetadata(cacheKey)
		if !ok {
			var err error
			body, err = json.Marshal(md)
			if err != nil {
				http.Error(w, "failed to encode metadata: "+err.Error(), http.StatusInternalServerError)
				return
			}
			cacheManager.SetMetadata(cacheKey, body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// stripTileExt drops a known tile extension from the row segment.
func stripTileExt(seg string) string {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".pbf", ".mvt"} {
		if strings.HasSuffix(seg, ext) {
			return strings.TrimSuffix(seg, ext)
		}
	}
	return seg
}

func isGzipped(data []byte) bool {
	return len(data) > 1 && data[0] == 0x1f && data[1] == 0x8b
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
