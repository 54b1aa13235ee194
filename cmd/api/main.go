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

	"go.uber.org/zap"

	"carta/api/internal/app"
	"carta/api/internal/artifacts"
	"carta/api/internal/config"
	"carta/api/internal/gitrepo"
	"carta/api/internal/logging"
	"carta/api/internal/search"
	"carta/api/internal/session"
	"carta/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger.Named("migrate")); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal("failed to create history dir", zap.Error(err))
	}

	deps := app.Deps{
		Store:   store.NewPostgresStore(db),
		History: gitrepo.New(cfg.HistoryDir),
		Logger:  logger,
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger.Named("search"))
	deps.Search = searchService

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for publish preferences and token revocation")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		logger.Warn("REDIS_URL is empty, publish preferences and revoked tokens are kept in memory")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := artifacts.NewMinio(artifacts.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("object storage setup failed", zap.Error(err))
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Fatal("object storage bucket failed", zap.Error(err))
		}
		deps.Artifacts = objects
	}

	service := app.New(cfg, deps)

	records, err := service.SearchRecords(ctx)
	if err != nil {
		logger.Warn("search reindex skipped", zap.Error(err))
	} else {
		searchService.ReindexAll(records)
		logger.Info("search index rebuilt", zap.Int("menus", len(records)))
	}

	sweeper, err := app.NewSweeper(service, cfg.SweepSchedule, cfg.EditorSessionTTL)
	if err != nil {
		logger.Fatal("invalid sweep schedule", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
	}
	sweeper.Start()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("carta api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	sweeper.Stop()
	service.CloseAllEditors(shutdownCtx)
	service.WaitBackground()
	logger.Info("carta api stopped")
}
