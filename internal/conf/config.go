package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/bookshelf-backend/internal/pkg/database"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/minio"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BOOKSHELF_DATABASE_PASSWORD
const EnvPrefix = "BOOKSHELF"

type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   database.Config   `mapstructure:"database"`
	MinIO      minio.Config      `mapstructure:"minio"`
	Log        logger.Config     `mapstructure:"log"`
	Ingest     IngestConfig      `mapstructure:"ingest"`
	WorkerPool workerpool.Config `mapstructure:"workerpool"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one ingestion request end to end
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// IngestConfig holds the ingestion policy parameters
type IngestConfig struct {
	MaxPayloadBytes      int64         `mapstructure:"max_payload_bytes"`
	MaxAssetBytes        int64         `mapstructure:"max_asset_bytes"`
	MaxEntryBytes        int64         `mapstructure:"max_entry_bytes"`
	UploadConcurrency    int           `mapstructure:"upload_concurrency"`
	UploadRetries        int           `mapstructure:"upload_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	// FailureThreshold is the share of referenced images that may fail before the run is rejected
	FailureThreshold    float64 `mapstructure:"failure_threshold"`
	FailOnStorageOutage bool    `mapstructure:"fail_on_storage_outage"`
	ImageFolder         string  `mapstructure:"image_folder"`
	CacheControl        string  `mapstructure:"cache_control"`
	// Sanitize runs rendered HTML through the allow-list policy before it is stored
	Sanitize bool `mapstructure:"sanitize"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 2*time.Minute)

	db := database.DefaultConfig()
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.user", db.User)
	v.SetDefault("database.password", db.Password)
	v.SetDefault("database.dbname", db.DBName)
	v.SetDefault("database.sslmode", db.SSLMode)
	v.SetDefault("database.timezone", db.Timezone)
	v.SetDefault("database.max_idle_conns", db.MaxIdleConns)
	v.SetDefault("database.max_open_conns", db.MaxOpenConns)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", db.ConnMaxIdleTime)
	v.SetDefault("database.log_level", db.LogLevel)
	v.SetDefault("database.slow_threshold", db.SlowThreshold)
	v.SetDefault("database.prepare_stmt", db.PrepareStmt)
	v.SetDefault("database.auto_migrate", db.AutoMigrate)

	mc := minio.DefaultConfig()
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.session_token", "")
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_lookup", string(mc.BucketLookup))
	v.SetDefault("minio.bucket", mc.Bucket)
	v.SetDefault("minio.create_bucket", false)
	v.SetDefault("minio.public_base_url", "")
	v.SetDefault("minio.request_timeout", mc.RequestTimeout)
	v.SetDefault("minio.trace_enabled", false)

	lc := logger.DefaultConfig()
	v.SetDefault("log.level", lc.Level)
	v.SetDefault("log.format", lc.Format)
	v.SetDefault("log.output", lc.Output)
	v.SetDefault("log.enable_caller", lc.EnableCaller)
	v.SetDefault("log.enable_stacktrace", lc.EnableStacktrace)
	v.SetDefault("log.file.filename", lc.File.Filename)
	v.SetDefault("log.file.max_size", lc.File.MaxSize)
	v.SetDefault("log.file.max_age", lc.File.MaxAge)
	v.SetDefault("log.file.max_backups", lc.File.MaxBackups)
	v.SetDefault("log.file.compress", lc.File.Compress)

	v.SetDefault("ingest.max_payload_bytes", 50<<20)
	v.SetDefault("ingest.max_asset_bytes", 20<<20)
	v.SetDefault("ingest.max_entry_bytes", 64<<20)
	v.SetDefault("ingest.upload_concurrency", 4)
	v.SetDefault("ingest.upload_retries", 3)
	v.SetDefault("ingest.retry_initial_interval", 200*time.Millisecond)
	v.SetDefault("ingest.failure_threshold", 0.5)
	v.SetDefault("ingest.fail_on_storage_outage", true)
	v.SetDefault("ingest.image_folder", "content-images")
	v.SetDefault("ingest.cache_control", "public, max-age=31536000, immutable")
	v.SetDefault("ingest.sanitize", true)

	wp := workerpool.DefaultConfig()
	v.SetDefault("workerpool.workers", wp.Workers)
	v.SetDefault("workerpool.max_blocking_tasks", wp.MaxBlockingTasks)
	v.SetDefault("workerpool.expiry_duration", wp.ExpiryDuration)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// LoadConfig reads the YAML file at path (optional when empty) and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks cross-cutting constraints; component configs validate themselves on construction
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	return c.Ingest.Validate()
}

func (c *IngestConfig) Validate() error {
	switch {
	case c.MaxPayloadBytes <= 0:
		return errors.New("ingest.max_payload_bytes must be positive")
	case c.MaxAssetBytes <= 0:
		return errors.New("ingest.max_asset_bytes must be positive")
	case c.MaxEntryBytes <= 0:
		return errors.New("ingest.max_entry_bytes must be positive")
	case c.UploadConcurrency <= 0:
		return errors.New("ingest.upload_concurrency must be positive")
	case c.UploadRetries < 0:
		return errors.New("ingest.upload_retries must be >= 0")
	case c.FailureThreshold < 0 || c.FailureThreshold > 1:
		return errors.New("ingest.failure_threshold must be within [0, 1]")
	case strings.Trim(c.ImageFolder, "/") == "":
		return errors.New("ingest.image_folder is required")
	}
	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
