package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rmp4/sql-agent-dashboard/internal/api"
	"github.com/rmp4/sql-agent-dashboard/internal/catalog"
	catalogbadger "github.com/rmp4/sql-agent-dashboard/internal/catalog/badger"
	catalogpostgres "github.com/rmp4/sql-agent-dashboard/internal/catalog/postgres"
	"github.com/rmp4/sql-agent-dashboard/internal/chat"
	"github.com/rmp4/sql-agent-dashboard/internal/config"
	"github.com/rmp4/sql-agent-dashboard/internal/datasource"
	"github.com/rmp4/sql-agent-dashboard/internal/export"
	"github.com/rmp4/sql-agent-dashboard/internal/llm"
	"github.com/rmp4/sql-agent-dashboard/internal/observability"
	"github.com/rmp4/sql-agent-dashboard/internal/query/sqldb"
	s3store "github.com/rmp4/sql-agent-dashboard/internal/storage/s3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", slog.Any("error", err))
	}

	cfg, err := config.LoadFromEnv("sqlagent-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	repo, closeCatalog, err := openCatalog(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open catalog", slog.String("driver", cfg.Store.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeCatalog()

	sources := datasource.NewManager(repo, datasource.Options{
		DefaultURL: cfg.Warehouse.URL,
		Pool: sqldb.PoolConfig{
			MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
			MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
			ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
		},
		MaxRows:   cfg.Warehouse.MaxRows,
		SchemaTTL: cfg.Warehouse.SchemaCacheTTL,
		Logger:    logger,
	})
	defer func() {
		if err := sources.Close(); err != nil {
			logger.Warn("failed to close data source pools", slog.Any("error", err))
		}
	}()
	if cfg.Warehouse.URL == "" {
		logger.Warn("no default database configured; chat will answer without a schema")
	}

	var responder llm.Responder = llm.DemoResponder{}
	if cfg.AI.APIKey != "" {
		responder, err = llm.NewOpenAIResponder(llm.OpenAIConfig{
			BaseURL:             cfg.AI.BaseURL,
			APIKey:              cfg.AI.APIKey,
			Model:               cfg.AI.Model,
			Temperature:         cfg.AI.Temperature,
			MaxCompletionTokens: cfg.AI.MaxCompletionTokens,
			MaxRetries:          cfg.AI.MaxRetries,
			Timeout:             cfg.AI.Timeout,
			Logger:              logger,
		})
		if err != nil {
			logger.Error("failed to initialize language model client", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("OPENAI_API_KEY is not set; running in demo mode")
	}

	chatService, err := chat.NewService(sources, responder, chat.Options{
		ModelTimeout: cfg.AI.Timeout,
		QueryTimeout: cfg.Warehouse.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to initialize chat service", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:      logger,
		Chat:        chatService,
		Catalog:     repo,
		DataSources: sources,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalog(repo),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
		QueryTimeout:      cfg.Warehouse.QueryTimeout,
	}
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter, err := export.NewExporter(objectStore, 15*time.Minute)
		if err != nil {
			logger.Error("failed to initialize exporter", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = exporter
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store", cfg.Store.Driver),
			slog.String("model", responder.Model()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openCatalog(ctx context.Context, cfg config.Config) (catalog.Repository, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverBadger:
		store, err := catalogbadger.Open(cfg.Store.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := catalogpostgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return catalogpostgres.NewRepository(db), func() { _ = db.Close() }, nil
	}
}
