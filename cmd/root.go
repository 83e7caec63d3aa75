// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/observability"
)

var (
	cfgFile string

	// activeCfg holds the configuration resolved by the persistent pre-run.
	// Subcommands read it through activeConfig().
	activeCfg   *config.Config
	activeCfgMu sync.Mutex
)

func activeConfig() *config.Config {
	activeCfgMu.Lock()
	defer activeCfgMu.Unlock()
	if activeCfg == nil {
		activeCfg = config.NewDefaultConfig()
	}
	return activeCfg
}

func setActiveConfig(cfg *config.Config) {
	activeCfgMu.Lock()
	defer activeCfgMu.Unlock()
	activeCfg = cfg
}

// NewRootCommand builds a fresh root command tree. Commands resolve their
// configuration in the persistent pre-run so flag, env and file precedence
// is settled before any RunE fires.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "formpilot",
		Short:   "Formpilot fills web forms for you through a guided conversation.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				// Initialize a fallback logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "formpilot"})
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setActiveConfig(cfg)

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Info("Starting formpilot", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.formpilot/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Use .Version}}`)

	rootCmd.AddCommand(newFillCmd())
	rootCmd.AddCommand(newHistoryCmd())

	return rootCmd
}

// Execute runs the CLI with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig reads in the config file and environment variables.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.formpilot")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FORMPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return nil
}
