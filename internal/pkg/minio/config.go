package minio

import (
	"errors"
	"net/url"
	"time"
)

// BucketLookupType represents the type of bucket lookup
type BucketLookupType string

const (
	BucketLookupAuto BucketLookupType = "auto"
	BucketLookupDNS  BucketLookupType = "dns"  // bucket.endpoint
	BucketLookupPath BucketLookupType = "path" // endpoint/bucket
)

// Config configures the S3-compatible object store that backs the CDN
type Config struct {
	// Endpoint is host[:port] without scheme, e.g. "localhost:9000" or "<account>.r2.cloudflarestorage.com"
	Endpoint        string           `mapstructure:"endpoint"`
	AccessKeyID     string           `mapstructure:"access_key_id"`
	SecretAccessKey string           `mapstructure:"secret_access_key"`
	SessionToken    string           `mapstructure:"session_token"`
	Region          string           `mapstructure:"region"`
	UseSSL          bool             `mapstructure:"use_ssl"`
	BucketLookup    BucketLookupType `mapstructure:"bucket_lookup"`

	// Bucket receives every uploaded asset
	Bucket string `mapstructure:"bucket"`
	// CreateBucket creates Bucket at startup when it does not exist
	CreateBucket bool `mapstructure:"create_bucket"`
	// PublicBaseURL is the CDN origin serving Bucket. Empty means objects are addressed through Endpoint.
	PublicBaseURL string `mapstructure:"public_base_url"`

	// RequestTimeout bounds a single object operation
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	TraceEnabled bool `mapstructure:"trace_enabled"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("minio: access key ID is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("minio: secret access key is required")
	}
	if err := ValidateBucketName(c.Bucket); err != nil {
		return WrapErrorWithMessage("Validate", ErrInvalidBucketName, err.Error())
	}
	switch c.BucketLookup {
	case "", BucketLookupAuto, BucketLookupDNS, BucketLookupPath:
	default:
		return errors.New("minio: invalid bucket lookup type")
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("minio: public base URL must be absolute")
		}
	}
	return nil
}

// SetDefaults fills unspecified fields
func (c *Config) SetDefaults() {
	if c.BucketLookup == "" {
		c.BucketLookup = BucketLookupAuto
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Bucket:         "bookshelf-content",
		BucketLookup:   BucketLookupAuto,
		RequestTimeout: 30 * time.Second,
	}
}
