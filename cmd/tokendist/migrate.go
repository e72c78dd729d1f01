package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tokendist.org/internal/migrate"
	"tokendist.org/internal/store/pg"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply or inspect the Postgres schema",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.UsesPostgres() {
			return errors.New("missing DSN: set pg.dsn or TOKENDIST_PG_DSN")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		db, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		mgr := migrate.NewManager(db)
		out := cmd.OutOrStdout()
		switch args[0] {
		case "up":
			applied, err := mgr.Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
		case "down":
			name, err := mgr.Down(ctx)
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Fprintf(out, "reverted %s\n", name)
		case "status":
			history, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, item := range history {
				fmt.Fprintln(out, item)
			}
			pending, err := mgr.Pending(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, name := range pending {
				fmt.Fprintf(out, "pending %s\n", name)
			}
		}
		return nil
	},
}
