package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noteflow/syncd/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	st, err := store.Open(cc.Cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	return store.Migrate(cmd.Context(), st, cc.Logger)
}
