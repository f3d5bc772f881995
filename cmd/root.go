// Package cmd defines the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/app"
	"github.com/JakeFAU/session-harvester/internal/config"
	"github.com/JakeFAU/session-harvester/internal/coordinator"
	"github.com/JakeFAU/session-harvester/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what the root command prepares for subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// Runner is the application surface commands use. Tests replace newApp to
// inject a fake.
type Runner interface {
	Run(ctx context.Context) (coordinator.Result, error)
	RunID() uuid.UUID
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.Build(ctx, cfg, app.Options{Logger: logger})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Supervised multi-account record harvester.",
		Long: `harvester drives one browser session per configured account through a
listing of records, extracts each record once across all accounts, and
delivers the results downstream. An operator confirms logins and filter
setup and resolves any blocking condition a session runs into.`,
		SilenceUsage: true,

		// Loads config and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newRunCmd(), newValidateCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
