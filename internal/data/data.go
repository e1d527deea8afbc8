package data

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/bookshelf-backend/internal/conf"
	contentmodels "github.com/lk2023060901/bookshelf-backend/internal/content/models"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/database"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/minio"
)

type Data struct {
	DB      *database.DB
	Storage *minio.Client
	Logger  *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	// Initialize PostgreSQL
	db, err := database.New(&config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize object storage
	storage, err := initStorage(config, log)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to init object storage: %w", err)
	}

	d := &Data{
		DB:      db,
		Storage: storage,
		Logger:  log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := storage.Close(); err != nil {
			log.Warn("failed to close object storage", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}

	return d, cleanup, nil
}

func initStorage(config *conf.Config, log *logger.Logger) (*minio.Client, error) {
	client, err := minio.NewClient(&config.MinIO, log.Named("minio").Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Migrate brings the schema of every domain up to date
func Migrate(d *Data) error {
	if !d.DB.Config().AutoMigrate {
		d.Logger.Warn("auto migration is disabled in configuration")
		return nil
	}
	if err := contentmodels.AutoMigrate(d.DB.DB); err != nil {
		return fmt.Errorf("failed to migrate content schema: %w", err)
	}
	d.Logger.Info("database migrated")
	return nil
}

// Ready reports whether the database answers; used by the health endpoint
func (d *Data) Ready(ctx context.Context) error {
	return d.DB.HealthCheck(ctx)
}
