package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noteflow/syncd/internal/store"
)

func newSeedCmd() *cobra.Command {
	var email, deviceName, workspaceID string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a dev user, device, session, and workspace",
		Long:  "Seeds a ready-to-use account for local development: a user, an authenticated device session (printed to stdout), and an empty workspace. Not for production use.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, email, deviceName, workspaceID)
		},
	}

	cmd.Flags().StringVar(&email, "email", "dev@example.com", "seed user email")
	cmd.Flags().StringVar(&deviceName, "device", "dev-seed", "seed device name")
	cmd.Flags().StringVar(&workspaceID, "workspace", "dev", "seed workspace id")

	return cmd
}

func runSeed(cmd *cobra.Command, email, deviceName, workspaceID string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	ctx := cmd.Context()

	st, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	user, err := st.Users().GetOrCreateByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	device, err := st.Devices().Create(ctx, user.ID, deviceName)
	if err != nil {
		return fmt.Errorf("creating device: %w", err)
	}

	session, err := st.Sessions().Create(ctx, user.ID, device.ID, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ws, err := st.Workspaces().Create(ctx, user.ID, workspaceID)
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	fmt.Printf("user:       %s (%s)\n", user.Email, user.ID)
	fmt.Printf("device:     %s (%s)\n", device.DeviceName, device.ID)
	fmt.Printf("session:    %s\n", session.Token)
	fmt.Printf("workspace:  %s\n", ws.ID)
	fmt.Printf("\nconnect with: doc=%s&token=%s\n", ws.ID, session.Token)

	return nil
}
