package config

import "time"

// Defaults returns the baseline Config before any file or env overrides
// are applied, the first layer of the resolution chain.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			DBPath:  "syncd.db",
			BaseURL: "http://localhost:8080",
		},
		Auth: AuthConfig{
			MailerKind:      "dev",
			SMTPAddr:        "localhost:25",
			MagicLinkTTL:    15 * time.Minute,
			SessionTTL:      30 * 24 * time.Hour,
			ShareSessionTTL: 24 * time.Hour,
		},
		Blob: BlobConfig{
			Backend:   "fs",
			Prefix:    "blobs",
			FSBase:    "./data/blobs",
			Retention: 7 * 24 * time.Hour,
		},
		Quota: QuotaConfig{
			DefaultAttachmentBytes: 5 * 1024 * 1024 * 1024, // 5 GiB
			DefaultWorkspaceLimit:  10,
			DefaultSiteLimit:       5,
			WarningThresholdPct:    90,
		},
		CORS: CORSConfig{
			Origins: []string{},
		},
		Snapshot: SnapshotConfig{
			MaxImportBytes: 512 * 1024 * 1024, // 512 MiB
		},
		Site: SiteConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Room: RoomConfig{
			PersistenceInterval: 5 * time.Second,
			OutboundQueueSize:   256,
		},
	}
}
