package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookshelf-backend/internal/conf"
	contentbiz "github.com/lk2023060901/bookshelf-backend/internal/content/biz"
	contentdata "github.com/lk2023060901/bookshelf-backend/internal/content/data"
	"github.com/lk2023060901/bookshelf-backend/internal/content/metrics"
	contentservice "github.com/lk2023060901/bookshelf-backend/internal/content/service"
	"github.com/lk2023060901/bookshelf-backend/internal/data"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/bookshelf-backend/internal/server"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	if err := data.Migrate(d); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	// Upload fan-out runs on a shared pool
	pool, err := workerpool.New(&config.WorkerPool, log.Named("workerpool").Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var observer metrics.Observer = metrics.NopObserver{}
	if config.Metrics.Enabled {
		promObserver, err := metrics.NewPrometheusObserver("bookshelf", registry)
		if err != nil {
			log.Fatal("failed to register metrics", zap.Error(err))
		}
		observer = promObserver
		if err := metrics.RegisterPool("bookshelf", registry, pool); err != nil {
			log.Fatal("failed to register worker pool metrics", zap.Error(err))
		}
	}

	// Initialize repositories
	uploadRepo := contentdata.NewUploadRepo(d.DB)
	bookRepo := contentdata.NewBookRepo(d.DB)
	transactor := contentdata.NewTransactor(d.DB)
	uploader := contentdata.NewCDNUploader(d.Storage, config.Ingest.CacheControl)

	// Initialize use cases
	ingestUseCase := contentbiz.NewIngestUseCase(
		uploadRepo,
		bookRepo,
		transactor,
		uploader,
		pool,
		observer,
		log,
		ingestOptions(&config.Ingest),
	)

	// Initialize services
	uploadService := contentservice.NewUploadService(ingestUseCase, contentservice.Options{
		MaxPayloadBytes: config.Ingest.MaxPayloadBytes,
		RequestTimeout:  config.Server.RequestTimeout,
	})

	checks := map[string]server.CheckFunc{
		"database": d.Ready,
		"storage":  d.Storage.Ping,
	}
	httpServer := server.NewHTTPServer(config, log, checks, registry, uploadService)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	if err := pool.Shutdown(ctx); err != nil {
		log.Error("worker pool did not drain", zap.Error(err))
	}

	log.Info("server exited")
}

func ingestOptions(c *conf.IngestConfig) contentbiz.IngestOptions {
	return contentbiz.IngestOptions{
		MaxPayloadBytes:      c.MaxPayloadBytes,
		MaxAssetBytes:        c.MaxAssetBytes,
		MaxEntryBytes:        c.MaxEntryBytes,
		UploadConcurrency:    c.UploadConcurrency,
		UploadRetries:        c.UploadRetries,
		RetryInitialInterval: c.RetryInitialInterval,
		FailureThreshold:     c.FailureThreshold,
		FailOnStorageOutage:  c.FailOnStorageOutage,
		ImageFolder:          c.ImageFolder,
		Sanitize:             c.Sanitize,
	}
}
