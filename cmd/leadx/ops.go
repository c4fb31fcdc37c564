package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-lead-exchange/internal/repo"
	"github.com/tbourn/go-lead-exchange/internal/services"
)

func reconcileCommand(in *instance) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print what it repaired",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), in.cfg, "reconcile")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			report, err := a.reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func batchesCommand(in *instance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Operator commands for upload batches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "retry <batch-id>",
		Short: "Reprocess a failed batch under a new batch id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), in.cfg, "batches")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			nb, err := a.uploads.RetryBatch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("retry %s: %w", args[0], err)
			}
			// In-process mode runs the batch here; wait so the process does not
			// exit under it.
			if err := a.waitInline(cmd.Context()); err != nil {
				return err
			}
			b, err := repo.GetBatch(cmd.Context(), a.db, nb.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), services.NewBatchStatusView(b, time.Now()))
		},
	})
	return cmd
}

func migrateCommand(in *instance) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := repo.Open(in.cfg.DB, false)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
