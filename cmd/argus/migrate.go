package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"argus/internal/config"
	"argus/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Open the configured database and apply every schema statement. The
store's own New constructor runs each CREATE TABLE/INDEX IF NOT EXISTS
idempotently, so this is safe to run repeatedly, including against a
database that's already current.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	defer st.Close()

	fmt.Println("schema applied")
	return nil
}
