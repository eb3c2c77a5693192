package config

import (
	"context"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, bearer tokens are accepted verbatim as user IDs.
	Mode string

	// Database
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Datastore backend type
	DatastoreType string // "postgres" or "sqlite"

	// Redis (realtime event broker)
	RedisURL string

	// Realtime backend type
	RealtimeType string // "redis" or "local"

	// Attachment store type
	AttachType string // "fs" or "s3"

	// Attachment behavior.
	AttachmentMaxSize              int64
	AttachmentCleanupInterval      time.Duration
	AttachmentOrphanAge            time.Duration
	AttachmentDownloadURLExpiresIn time.Duration

	// Local attachment storage directory (AttachType "fs").
	AttachmentDir string

	// TempDir is where upload streams are buffered before they reach the
	// attachment store. Empty means the OS default.
	TempDir string

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=chat-service".
	MetricsLabels string

	// S3
	S3Bucket           string
	S3Prefix           string
	S3DirectDownload   bool
	S3ExternalEndpoint string
	S3UsePathStyle     bool

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or CHAT_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	// Disabled by default to suppress high-frequency probe noise from the access log.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Pagination
	MessagePageSize    int
	MessagePageSizeMax int

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// ResolvedTempDir returns the configured temp directory, falling back to the
// OS default when unset.
func (c *Config) ResolvedTempDir() string {
	if c != nil && strings.TrimSpace(c.TempDir) != "" {
		return strings.TrimSpace(c.TempDir)
	}
	return os.TempDir()
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                           ModeProd,
		DatastoreType:                  "postgres",
		DatastoreMigrateAtStart:        true,
		RealtimeType:                   "local",
		AttachType:                     "fs",
		AttachmentMaxSize:              10 * 1024 * 1024, // 10 MB
		AttachmentCleanupInterval:      5 * time.Minute,
		AttachmentOrphanAge:            24 * time.Hour,
		AttachmentDownloadURLExpiresIn: 5 * time.Minute,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:        20 * 1024 * 1024,
		MessagePageSize:    20,
		MessagePageSizeMax: 50,
		DrainTimeout:       30,
		DBMaxOpenConns:     25,
		DBMaxIdleConns:     5,
		S3DirectDownload:   true,
	}
}
