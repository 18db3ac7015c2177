package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/noteflow/syncd/internal/blobstore"
	"github.com/noteflow/syncd/internal/blobstore/fsstore"
	"github.com/noteflow/syncd/internal/config"
	"github.com/noteflow/syncd/internal/httpapi"
	"github.com/noteflow/syncd/internal/room"
	"github.com/noteflow/syncd/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long:  "Starts the HTTP/WebSocket listener, opening the sync room for each workspace lazily on first connection.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg, logger := cc.Cfg, cc.Logger

	st, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	blobs, err := openBlobStore(cfg.Blob, logger)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	ctx := shutdownContext(cmd.Context(), logger)

	rooms := room.NewRegistry(ctx, st.CRDTDocs(), room.Config{
		PersistenceInterval: cfg.Room.PersistenceInterval,
		OutboundQueueSize:   cfg.Room.OutboundQueueSize,
	}, logger)

	mailer := httpapi.NewMailer(cfg.Auth.MailerKind, cfg.Auth.SMTPAddr, logger)
	srv := httpapi.NewServer(cfg, st, blobs, rooms, mailer, logger, version)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("syncd: listening", slog.String("addr", httpSrv.Addr))

		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("syncd: http server shutdown error", slog.String("error", err.Error()))
	}

	if err := rooms.Shutdown(); err != nil {
		logger.Warn("syncd: room registry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

// openBlobStore builds the configured blob backend. S3 wiring lives in
// gc.go's buildS3Store helper, shared with this command.
func openBlobStore(cfg config.BlobConfig, logger *slog.Logger) (blobstore.Store, error) {
	switch cfg.Backend {
	case "s3":
		return buildS3Store(cfg, logger)
	case "fs", "":
		return fsstore.New(cfg.FSBase, logger)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
