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

	"artive/api/internal/app"
	"artive/api/internal/authpw"
	"artive/api/internal/config"
	"artive/api/internal/email"
	"artive/api/internal/lineage"
	"artive/api/internal/media"
	"artive/api/internal/metrics"
	"artive/api/internal/search"
	"artive/api/internal/session"
	"artive/api/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		sessions = redisStore
		logger.Info("refresh tokens stored in redis")
	} else {
		logger.Info("refresh tokens stored in postgres")
	}

	var uploads app.MediaUploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaStore, err := media.Connect(ctx, media.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MediaPublicURL,
			MaxBytes:  cfg.MediaMaxBytes,
		})
		if err != nil {
			return err
		}
		uploads = mediaStore
		logger.Info("media uploads enabled", zap.String("bucket", cfg.MinioBucket))
	} else {
		logger.Info("media uploads disabled, MINIO_ENDPOINT not set")
	}

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, pgfts, logger)
	if err := searchService.Reindex(ctx, pgfts); err != nil {
		logger.Warn("search reindex failed", zap.Error(err))
	}

	var notifier app.ForkNotifier
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if mailer.IsConfigured() {
		notifier = mailer
		logger.Info("fork notices enabled", zap.String("smtpHost", cfg.SMTPHost))
	}

	collector := metrics.NewPrometheusCollector()
	engine := lineage.New(dataStore, lineage.Options{
		DefaultDepth: cfg.LineageDefaultDepth,
		MaxDepth:     cfg.LineageMaxDepth,
		FanOutLimit:  cfg.LineageFanOutLimit,
		Logger:       logger.Named("lineage"),
		Metrics:      collector,
	})

	service := app.New(cfg, app.Dependencies{
		Store:     dataStore,
		Sessions:  sessions,
		Lineage:   engine,
		Passwords: authpw.NewService(dataStore),
		Media:     uploads,
		Search:    searchService,
		Notifier:  notifier,
		Logger:    logger.Named("app"),
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger.Named("http"), collector.Handler())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("artive api listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err, ok := <-serveErr:
		if ok {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
