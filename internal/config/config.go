// Package config resolves syncd's configuration from defaults, an
// optional TOML base file, and environment variable overrides, in that
// precedence order, with the outer layer being the environment rather
// than CLI flags since syncd runs as a long-lived server process.
package config

import "time"

// Config is the fully-resolved, effective configuration for one syncd
// process. Each section has its own defaults, file keys, and env
// overrides (see defaults.go, load.go, env.go).
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Blob     BlobConfig     `toml:"blob"`
	Quota    QuotaConfig    `toml:"quota"`
	CORS     CORSConfig     `toml:"cors"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Site     SiteConfig     `toml:"site"`
	Logging  LoggingConfig  `toml:"logging"`
	Room     RoomConfig     `toml:"room"`
}

// ServerConfig controls the HTTP/WebSocket listener and database.
type ServerConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	DBPath string `toml:"db_path"`
	// BaseURL is the externally-visible origin used to build magic-link
	// URLs and published-site links.
	BaseURL string `toml:"base_url"`
}

// AuthConfig controls magic-link delivery and session lifetime.
type AuthConfig struct {
	MailerKind     string        `toml:"mailer_kind"` // "smtp" | "dev"
	SMTPAddr       string        `toml:"smtp_addr"`
	MagicLinkTTL   time.Duration `toml:"magic_link_ttl"`
	SessionTTL     time.Duration `toml:"session_ttl"`
	ShareSessionTTL time.Duration `toml:"share_session_ttl"`
}

// BlobConfig controls the content-addressed attachment store backend.
type BlobConfig struct {
	Backend   string        `toml:"backend"` // "fs" | "s3"
	Prefix    string        `toml:"prefix"`
	FSBase    string        `toml:"fs_base"`
	S3Bucket  string        `toml:"s3_bucket"`
	S3Region  string        `toml:"s3_region"`
	Retention time.Duration `toml:"retention"`
}

// QuotaConfig controls the default per-user limits (tier overrides live
// in the users table; these are the fallback when a user has none).
type QuotaConfig struct {
	DefaultAttachmentBytes int64 `toml:"default_attachment_bytes"`
	DefaultWorkspaceLimit  int   `toml:"default_workspace_limit"`
	DefaultSiteLimit       int   `toml:"default_site_limit"`
	WarningThresholdPct    int   `toml:"warning_threshold_pct"`
}

// CORSConfig controls allowed browser origins for the editor UI.
type CORSConfig struct {
	Origins []string `toml:"origins"`
}

// SnapshotConfig bounds ZIP import size.
type SnapshotConfig struct {
	MaxImportBytes int64 `toml:"max_import_bytes"`
}

// SiteConfig controls the downstream published-site materializer
// interface (bucket + signing key for audience-scoped tokens).
type SiteConfig struct {
	Bucket     string `toml:"bucket"`
	SigningKey string `toml:"signing_key"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" | "json"
}

// RoomConfig controls sync room persistence cadence and peer
// backpressure.
type RoomConfig struct {
	PersistenceInterval time.Duration `toml:"persistence_interval"`
	OutboundQueueSize   int           `toml:"outbound_queue_size"`
}
