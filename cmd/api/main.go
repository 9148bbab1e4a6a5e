package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"fundroom/api/internal/app"
	"fundroom/api/internal/archive"
	"fundroom/api/internal/config"
	"fundroom/api/internal/docgen"
	"fundroom/api/internal/logger"
	"fundroom/api/internal/objectstore"
	"fundroom/api/internal/rendercache"
	"fundroom/api/internal/search"
	"fundroom/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()
	ctx := context.Background()

	if err := store.ApplyMigrations(cfg.DatabaseURL); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	dataStore := store.NewPostgresStore(db)
	integrations := app.Integrations{
		Renderer: docgen.NewGenerator(cfg.PandocPath, cfg.RenderTimeout),
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	var primary search.PrimaryIndex
	if meiliClient != nil {
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts, log)
	integrations.Search = searchService
	go searchService.ReindexFromPG(ctx, pgfts)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := rendercache.NewRedisCache(cfg.RedisURL, cfg.RenderCacheTTL)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer cache.Close()
		integrations.Cache = cache
		log.Info("render cache enabled", zap.Duration("ttl", cfg.RenderCacheTTL))
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		documents, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatal("object storage connection failed", zap.Error(err))
		}
		integrations.Documents = documents
		log.Info("document storage enabled", zap.String("bucket", cfg.MinIOBucket))
	}

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatal("failed to create archive dir", zap.Error(err))
		}
		integrations.Archive = archive.New(cfg.ArchiveDir)
		log.Info("audit mirror enabled", zap.String("dir", cfg.ArchiveDir))
	}

	service := app.New(cfg, dataStore, integrations, log)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RenderTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("fundroom API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	searchService.Wait()
}
