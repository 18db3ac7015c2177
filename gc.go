package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/noteflow/syncd/internal/blobstore"
	"github.com/noteflow/syncd/internal/blobstore/s3store"
	"github.com/noteflow/syncd/internal/config"
	"github.com/noteflow/syncd/internal/store"
)

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Sweep unreferenced blobs and abandoned uploads",
		Long:  "Deletes blobs whose reference count has been zero since before the configured retention window, and aborts upload sessions left pending too long.",
		RunE:  runGC,
	}

	return cmd
}

func runGC(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg, logger := cc.Cfg, cc.Logger
	ctx := cmd.Context()

	st, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	blobs, err := openBlobStore(cfg.Blob, logger)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	cutoff := time.Now().Add(-cfg.Blob.Retention)

	hashes, err := st.Blobs().UnreferencedOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing unreferenced blobs: %w", err)
	}

	var deleted int

	for _, hash := range hashes {
		if err := blobs.Delete(ctx, hash); err != nil {
			logger.Warn("gc: failed to delete blob object", slog.String("hash", hash), slog.String("error", err.Error()))
			continue
		}

		if err := st.Blobs().MarkDeleted(ctx, hash); err != nil {
			logger.Warn("gc: failed to mark blob deleted", slog.String("hash", hash), slog.String("error", err.Error()))
			continue
		}

		deleted++
	}

	stale, err := st.Uploads().StalePending(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("listing stale uploads: %w", err)
	}

	var aborted int

	for _, upload := range stale {
		if err := blobs.AbortMultipart(ctx, upload.RemoteHandle); err != nil {
			logger.Warn("gc: failed to abort backend multipart", slog.String("upload_id", upload.ID), slog.String("error", err.Error()))
		}

		if err := st.Uploads().Abort(ctx, upload.ID); err != nil {
			logger.Warn("gc: failed to abort upload session", slog.String("upload_id", upload.ID), slog.String("error", err.Error()))
			continue
		}

		aborted++
	}

	logger.Info("gc: swept", slog.Int("blobs_deleted", deleted), slog.Int("uploads_aborted", aborted))
	statusf(flagQuiet, "gc: deleted %d blobs, aborted %d uploads\n", deleted, aborted)

	return nil
}

// buildS3Store constructs an S3-backed blobstore.Store from the
// process's ambient AWS credentials (environment, shared config file,
// or instance role — resolved by the default credential chain).
func buildS3Store(cfg config.BlobConfig, logger *slog.Logger) (blobstore.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return s3store.New(client, cfg.S3Bucket, cfg.Prefix, logger), nil
}
