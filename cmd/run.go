package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// shutdownTimeout bounds Close after the run returns.
const shutdownTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts a harvest run",
		Long: `Launches one browser per configured identity, waits for the operator
to confirm login and filter setup, and extracts records until every
worker stops or the process is interrupted.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	application, err := newApp(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()
		if cerr := application.Close(ctx); cerr != nil {
			e.logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	res, err := application.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}
	totals := res.Totals()
	e.logger.Info("harvest finished",
		zap.String("run_id", application.RunID().String()),
		zap.Bool("interrupted", res.Interrupted),
		zap.Int("new", totals.New),
		zap.Int("skipped", totals.Skipped),
		zap.Int("delivered", totals.Delivered),
		zap.Duration("elapsed", res.Elapsed))
	return nil
}
