package config

import (
	"errors"
	"fmt"
)

// Validate aggregates per-section validation errors, matching the
// teacher's validate.go style of one validateX per concern joined via
// errors.Join rather than failing fast on the first problem.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server))
	errs = append(errs, validateAuth(&cfg.Auth))
	errs = append(errs, validateBlob(&cfg.Blob))
	errs = append(errs, validateQuota(&cfg.Quota))
	errs = append(errs, validateRoom(&cfg.Room))

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", s.Port)
	}

	if s.DBPath == "" {
		return errors.New("config: server.db_path must not be empty")
	}

	return nil
}

func validateAuth(a *AuthConfig) error {
	if a.MailerKind != "smtp" && a.MailerKind != "dev" {
		return fmt.Errorf("config: auth.mailer_kind %q must be \"smtp\" or \"dev\"", a.MailerKind)
	}

	if a.MagicLinkTTL <= 0 {
		return errors.New("config: auth.magic_link_ttl must be positive")
	}

	if a.SessionTTL <= 0 {
		return errors.New("config: auth.session_ttl must be positive")
	}

	return nil
}

func validateBlob(b *BlobConfig) error {
	switch b.Backend {
	case "fs":
		if b.FSBase == "" {
			return errors.New("config: blob.fs_base must not be empty when backend is \"fs\"")
		}
	case "s3":
		if b.S3Bucket == "" {
			return errors.New("config: blob.s3_bucket must not be empty when backend is \"s3\"")
		}
	default:
		return fmt.Errorf("config: blob.backend %q must be \"fs\" or \"s3\"", b.Backend)
	}

	return nil
}

func validateQuota(q *QuotaConfig) error {
	if q.DefaultAttachmentBytes <= 0 {
		return errors.New("config: quota.default_attachment_bytes must be positive")
	}

	return nil
}

func validateRoom(r *RoomConfig) error {
	if r.PersistenceInterval <= 0 {
		return errors.New("config: room.persistence_interval must be positive")
	}

	if r.OutboundQueueSize <= 0 {
		return errors.New("config: room.outbound_queue_size must be positive")
	}

	return nil
}
