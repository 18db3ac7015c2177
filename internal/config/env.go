package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names recognized by ApplyEnvOverrides.
const (
	EnvConfig          = "SYNCD_CONFIG"
	EnvHost            = "SYNCD_HOST"
	EnvPort            = "SYNCD_PORT"
	EnvDBPath          = "SYNCD_DB_PATH"
	EnvBaseURL         = "SYNCD_BASE_URL"
	EnvMailerKind      = "SYNCD_MAILER_KIND"
	EnvSMTPAddr        = "SYNCD_SMTP_ADDR"
	EnvMagicLinkTTL    = "SYNCD_MAGIC_LINK_TTL"
	EnvSessionTTL      = "SYNCD_SESSION_TTL"
	EnvCORSOrigins     = "SYNCD_CORS_ORIGINS"
	EnvSnapshotMaxSize = "SYNCD_SNAPSHOT_MAX_BYTES"
	EnvBlobBackend     = "SYNCD_BLOB_BACKEND"
	EnvBlobFSBase      = "SYNCD_BLOB_FS_BASE"
	EnvBlobS3Bucket    = "SYNCD_BLOB_S3_BUCKET"
	EnvBlobS3Prefix    = "SYNCD_BLOB_S3_PREFIX"
	EnvBlobRetention   = "SYNCD_BLOB_RETENTION"
	EnvSiteBucket      = "SYNCD_SITE_BUCKET"
	EnvSigningKey      = "SYNCD_SIGNING_KEY"
	EnvLogLevel        = "SYNCD_LOG_LEVEL"
	EnvRoomPersistence = "SYNCD_ROOM_PERSISTENCE_INTERVAL"
	EnvRoomQueueSize   = "SYNCD_ROOM_OUTBOUND_QUEUE_SIZE"
)

// ApplyEnvOverrides mutates cfg in place with any set environment
// variables, the outermost layer of the precedence chain. Malformed
// numeric/duration values are ignored rather than failing the whole
// process — Validate catches anything that leaves the config in a bad
// state.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv(EnvPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Server.DBPath = v
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Server.BaseURL = v
	}

	if v := os.Getenv(EnvMailerKind); v != "" {
		cfg.Auth.MailerKind = v
	}

	if v := os.Getenv(EnvSMTPAddr); v != "" {
		cfg.Auth.SMTPAddr = v
	}

	if v := os.Getenv(EnvMagicLinkTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.MagicLinkTTL = d
		}
	}

	if v := os.Getenv(EnvSessionTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.SessionTTL = d
		}
	}

	if v := os.Getenv(EnvCORSOrigins); v != "" {
		cfg.CORS.Origins = splitTrim(v)
	}

	if v := os.Getenv(EnvSnapshotMaxSize); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Snapshot.MaxImportBytes = n
		}
	}

	if v := os.Getenv(EnvBlobBackend); v != "" {
		cfg.Blob.Backend = v
	}

	if v := os.Getenv(EnvBlobFSBase); v != "" {
		cfg.Blob.FSBase = v
	}

	if v := os.Getenv(EnvBlobS3Bucket); v != "" {
		cfg.Blob.S3Bucket = v
	}

	if v := os.Getenv(EnvBlobS3Prefix); v != "" {
		cfg.Blob.Prefix = v
	}

	if v := os.Getenv(EnvBlobRetention); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Blob.Retention = d
		}
	}

	if v := os.Getenv(EnvSiteBucket); v != "" {
		cfg.Site.Bucket = v
	}

	if v := os.Getenv(EnvSigningKey); v != "" {
		cfg.Site.SigningKey = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv(EnvRoomPersistence); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Room.PersistenceInterval = d
		}
	}

	if v := os.Getenv(EnvRoomQueueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Room.OutboundQueueSize = n
		}
	}
}

func splitTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
