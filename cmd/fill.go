// File: cmd/fill.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/askgen"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/formfill"
	"github.com/xkilldash9x/formpilot/internal/history"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/prompt"
)

// newFillCmd creates and configures the `fill` command.
func newFillCmd() *cobra.Command {
	fillCmd := &cobra.Command{
		Use:   "fill <url>",
		Short: "Interactively fills and submits the form at the given URL",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("form.max_attempts", cmd.Flags().Lookup("max-attempts")); err != nil {
				return err
			}
			if err := viper.BindPFlag("form.snapshot_dir", cmd.Flags().Lookup("snapshot-dir")); err != nil {
				return err
			}
			return viper.BindPFlag("network.navigation_timeout", cmd.Flags().Lookup("timeout"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that the fill flags are bound.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to resolve configuration: %w", err)
			}
			if noAI, _ := cmd.Flags().GetBool("no-ai"); noAI {
				cfg.SetLLMEnabled(false)
			}
			setActiveConfig(cfg)

			url := normalizeURL(args[0])
			logger.Info("Starting form fill run",
				zap.String("url", url),
				zap.Int("max_attempts", cfg.Form().MaxAttempts),
				zap.Bool("headless", cfg.Browser().Headless),
			)

			components, err := initializeFillComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			session, err := components.BrowserManager.NewSession(ctx)
			if err != nil {
				return fmt.Errorf("failed to open browser session: %w", err)
			}

			engine := formfill.NewEngine(session, components.Provider, components.Channel, logger, formfill.Options{
				NavigationTimeout: cfg.Network().NavigationTimeout,
				MaxAttempts:       cfg.Form().MaxAttempts,
				SnapshotDir:       cfg.Form().SnapshotDir,
				OutcomeTimeout:    cfg.Form().OutcomeTimeout,
			})
			engine.Recorder = components.Recorder

			result, err := engine.RunForm(ctx, url)
			switch {
			case result.Success:
				fmt.Printf("\nForm submitted successfully after %d answer(s).\n", len(result.Answers))
				return nil
			case errors.Is(err, formfill.ErrCancelled):
				fmt.Println("\nRun cancelled. Nothing was submitted.")
				return nil
			default:
				fmt.Printf("\nForm filling failed: %s\n", result.Reason)
				for _, ve := range result.Errors {
					fmt.Printf("  - %s: %s\n", ve.FieldLabel, ve.Message)
				}
				return err
			}
		},
	}

	fillCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	fillCmd.Flags().Int("max-attempts", 0, "Maximum submit attempts before giving up. (Overrides config/env)")
	fillCmd.Flags().Duration("timeout", 0, "Navigation timeout for the initial page load. (Overrides config/env)")
	fillCmd.Flags().String("snapshot-dir", "", "Directory for diagnostic page snapshots. (Overrides config/env)")
	fillCmd.Flags().Bool("no-ai", false, "Disable LLM question generation and use templated questions.")

	return fillCmd
}

// fillComponents holds the initialized services for one fill run.
type fillComponents struct {
	BrowserManager *browser.Manager
	Provider       formfill.QuestionProvider
	Channel        formfill.AnswerChannel
	Recorder       formfill.SubmissionRecorder
	DBPool         *pgxpool.Pool
	logger         *zap.Logger
}

// Shutdown gracefully closes all components.
func (fc *fillComponents) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if fc.BrowserManager != nil {
		if err := fc.BrowserManager.Shutdown(shutdownCtx); err != nil {
			fc.logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	if fc.DBPool != nil {
		fc.DBPool.Close()
	}
}

// initializeFillComponents handles dependency injection for the fill command.
func initializeFillComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*fillComponents, error) {
	components := &fillComponents{logger: logger}

	// 1. Submission history (optional; enabled by a configured database URL).
	if dbURL := cfg.Database().URL; dbURL != "" {
		dbPool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		store, err := history.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize history store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return components, err
		}
		components.Recorder = store
	} else {
		logger.Debug("No database URL configured; submission history disabled.")
	}

	// 2. Browser manager.
	browserManager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		return components, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	components.BrowserManager = browserManager

	// 3. Question provider and answer channel.
	components.Provider = askgen.NewProvider(cfg.LLM(), logger)
	components.Channel = prompt.NewConsole()

	return components, nil
}

// normalizeURL ensures the target carries a scheme.
func normalizeURL(target string) string {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "https://" + target
	}
	return target
}
