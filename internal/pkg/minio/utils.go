package minio

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{1,61}[a-z0-9]$`)

// ValidateBucketName validates a bucket name according to S3 naming rules
func ValidateBucketName(bucketName string) error {
	if bucketName == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if !bucketNameRegex.MatchString(bucketName) {
		return fmt.Errorf("bucket name must be 3-63 lowercase letters, numbers, dots or hyphens")
	}
	if strings.Contains(bucketName, "..") || strings.Contains(bucketName, "--") {
		return fmt.Errorf("bucket name cannot contain consecutive dots or hyphens")
	}
	if net.ParseIP(bucketName) != nil {
		return fmt.Errorf("bucket name cannot be formatted as an IP address")
	}
	return nil
}

// ValidateObjectName rejects empty or oversized keys
func ValidateObjectName(objectName string) error {
	if objectName == "" {
		return ErrInvalidObjectName
	}
	if len(objectName) > 1024 {
		return fmt.Errorf("%w: longer than 1024 bytes", ErrInvalidObjectName)
	}
	return nil
}

// SanitizeObjectName removes null bytes, leading/trailing slashes and repeated slashes
func SanitizeObjectName(objectName string) string {
	objectName = strings.ReplaceAll(objectName, "\x00", "")
	objectName = strings.Trim(objectName, "/")
	for strings.Contains(objectName, "//") {
		objectName = strings.ReplaceAll(objectName, "//", "/")
	}
	return objectName
}

// escapeKey escapes every path segment of key for use in a URL
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ObjectURL returns the public URL of an object.
// With a public base URL the key is appended to it, otherwise the endpoint is addressed path-style.
func (c *Config) ObjectURL(key string) string {
	key = escapeKey(SanitizeObjectName(key))
	if c.PublicBaseURL != "" {
		return strings.TrimRight(c.PublicBaseURL, "/") + "/" + key
	}
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, c.Endpoint, c.Bucket, key)
}

// KeyFromURL is the inverse of ObjectURL; ok is false for URLs this store did not produce
func (c *Config) KeyFromURL(rawURL string) (key string, ok bool) {
	prefix := c.ObjectURL("")
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	escaped := strings.TrimPrefix(rawURL, prefix)
	key, err := url.PathUnescape(escaped)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}
