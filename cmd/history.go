// File: cmd/history.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/history"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

// newHistoryCmd creates the `history` command listing recent submissions.
func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent form submissions from the history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := activeConfig()

			dbURL := cfg.Database().URL
			if dbURL == "" {
				return fmt.Errorf("submission history requires a database URL (FORMPILOT_DATABASE_URL)")
			}

			dbPool, err := pgxpool.New(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dbPool.Close()

			store, err := history.New(ctx, dbPool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize history store: %w", err)
			}

			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No submissions recorded yet.")
				return nil
			}

			for _, e := range entries {
				status := "OK"
				if !e.Success {
					status = "FAILED"
				}
				fmt.Printf("%s  %-6s  attempts=%d  %s", e.SubmittedAt.Local().Format("2006-01-02 15:04"), status, e.Attempts, e.URL)
				if e.Reason != "" && !e.Success {
					fmt.Printf("  (%s)", e.Reason)
				}
				fmt.Println()
			}
			return nil
		},
	}

	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of submissions to list.")
	return historyCmd
}
