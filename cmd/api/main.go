//	@title			Gallery API
//	@version		1.0
//	@description	Upload, browse, serve and delete JPEG images.
//
//	@host		localhost:3001
//	@BasePath	/

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/radif/gallery/internal/collection"
	"github.com/radif/gallery/internal/config"
	"github.com/radif/gallery/internal/db"
	"github.com/radif/gallery/internal/logging"
	"github.com/radif/gallery/internal/media"
	"github.com/radif/gallery/internal/metrics"
	appMiddleware "github.com/radif/gallery/internal/middleware"
	"github.com/radif/gallery/internal/storage"
	"github.com/radif/gallery/internal/web"

	_ "github.com/radif/gallery/docs/swagger"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.AppEnv, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := newStorage(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("object storage init failed")
	}

	var compressor media.Compressor
	if cfg.CompressUploads {
		compressor = media.NewJPEGCompressor(cfg.CompressSize, cfg.CompressQuality)
	}

	// Wire dependencies: storage → service → handler
	mediaSvc := media.NewService(store, compressor, logger)
	mediaHandler := media.NewHandler(mediaSvc, logger)

	settings := web.Settings{MaxUploadBytes: cfg.MaxUploadBytes}
	if compressor != nil {
		settings.CompressSize = cfg.CompressSize
	}
	pages, err := web.NewHandler(mediaSvc, settings, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("template init failed")
	}

	var collectionHandler *collection.Handler
	if cfg.CollectionsEnabled() {
		pool, err := connectDatabase(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database init failed")
		}
		defer pool.Close()

		collectionSvc := collection.NewService(collection.NewRepository(pool), mediaSvc, logger)
		collectionHandler = collection.NewHandler(collectionSvc, logger)
	} else {
		logger.Info().Msg("DATABASE_URL not set, collections API disabled")
	}

	r := newRouter(cfg, logger, mediaHandler, pages, collectionHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// No write deadline: images are streamed.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Str("storage", cfg.StorageDriver).Msg("server listening")
		logger.Info().Msgf("swagger UI at http://localhost:%s/swagger/", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	logger.Info().Msg("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return
	}

	logger.Info().Msg("server stopped")
}

func newStorage(cfg *config.Config, logger zerolog.Logger) (storage.Storage, error) {
	if cfg.StorageDriver == config.DriverMinio {
		return storage.NewMinioStorage(
			cfg.StorageEndpoint,
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			cfg.StorageBucket,
			cfg.StorageUseSSL,
			logger,
		)
	}
	return storage.NewFilesystemStorage(cfg.StorageRoot, logger), nil
}

func connectDatabase(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// newRouter builds the HTTP surface. collections may be nil.
func newRouter(cfg *config.Config, logger zerolog.Logger, images *media.Handler, pages *web.Handler, collections *collection.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// Swagger UI, available at http://localhost:3001/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Pages
	r.Get("/", pages.Home)
	r.Get("/about", pages.About)
	r.Get("/settings", pages.Settings)
	r.Get("/contact", pages.Contact)
	r.Get("/gallery", pages.Gallery)
	r.Handle("/static/*", web.Static())

	// Images
	r.With(chiMiddleware.RequestSize(cfg.MaxUploadBytes)).Post("/upload", images.Upload)
	r.Get("/images/{key}", images.Serve)
	r.Delete("/images/{key}", images.Delete)
	r.Delete("/image/{key}", images.Delete)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/images", images.List)
		if collections != nil {
			r.Route("/collections", func(r chi.Router) {
				r.Use(chiMiddleware.RequestSize(1 << 20))
				collections.Routes(r)
			})
		}
	})

	return r
}
