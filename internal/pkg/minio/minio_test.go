package minio

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Endpoint = "localhost:9000"
	cfg.AccessKeyID = "minioadmin"
	cfg.SecretAccessKey = "minioadmin"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: true},
		{name: "missing access key", mutate: func(c *Config) { c.AccessKeyID = "" }, wantErr: true},
		{name: "missing secret", mutate: func(c *Config) { c.SecretAccessKey = "" }, wantErr: true},
		{name: "bad bucket", mutate: func(c *Config) { c.Bucket = "Bad_Bucket" }, wantErr: true},
		{name: "bad lookup", mutate: func(c *Config) { c.BucketLookup = "virtual" }, wantErr: true},
		{name: "relative public url", mutate: func(c *Config) { c.PublicBaseURL = "/cdn" }, wantErr: true},
		{name: "public url", mutate: func(c *Config) { c.PublicBaseURL = "https://cdn.example.com" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBucketName(t *testing.T) {
	for _, name := range []string{"content-images", "abc", "my.bucket.1"} {
		assert.NoError(t, ValidateBucketName(name), name)
	}
	for _, name := range []string{"", "ab", "UPPER", "-start", "a--b", "a..b", "192.168.1.1"} {
		assert.Error(t, ValidateBucketName(name), name)
	}
}

func TestSanitizeObjectName(t *testing.T) {
	assert.Equal(t, "a/b/c.png", SanitizeObjectName("//a//b///c.png/"))
	assert.Equal(t, "ab.png", SanitizeObjectName("a\x00b.png"))
}

func TestObjectURL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http://localhost:9000/bookshelf-content/content-images/u1/0_a%20b.png",
		cfg.ObjectURL("content-images/u1/0_a b.png"))

	cfg.UseSSL = true
	assert.Equal(t, "https://localhost:9000/bookshelf-content/k.png", cfg.ObjectURL("/k.png"))

	cfg.PublicBaseURL = "https://cdn.example.com/"
	url := cfg.ObjectURL("content-images/u1/0_cover.jpg")
	assert.Equal(t, "https://cdn.example.com/content-images/u1/0_cover.jpg", url)

	key, ok := cfg.KeyFromURL(url)
	require.True(t, ok)
	assert.Equal(t, "content-images/u1/0_cover.jpg", key)

	_, ok = cfg.KeyFromURL("https://elsewhere.example.com/x.png")
	assert.False(t, ok)
}

func TestErrorHelpers(t *testing.T) {
	notFound := WrapError("StatObject", minio.ErrorResponse{Code: "NoSuchKey"}, "b", "k")
	assert.True(t, IsNotFound(notFound))
	assert.Contains(t, notFound.Error(), "bucket=b, object=k")

	denied := WrapError("PutObject", minio.ErrorResponse{Code: "AccessDenied"}, "b", "")
	assert.False(t, IsNotFound(denied))

	assert.Nil(t, WrapError("PutObject", nil, "b", "k"))
	assert.True(t, errors.Is(WrapErrorWithMessage("x", ErrObjectNotFound, "m"), ErrObjectNotFound))
}

func TestClosedClient(t *testing.T) {
	c, err := NewClient(validConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.PutObject(context.Background(), "k", []byte("x"), PutObjectOptions{})
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.RemoveObject(context.Background(), "k"), ErrClientClosed)
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	cfg := validConfig()
	cfg.Endpoint = ""
	_, err = NewClient(cfg, nil)
	assert.Error(t, err)
}
