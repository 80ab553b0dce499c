package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/morningbrief/api/internal/app"
	"github.com/morningbrief/api/internal/config"
	"github.com/morningbrief/api/internal/content"
	"github.com/morningbrief/api/internal/logging"
	"github.com/morningbrief/api/internal/model"
)

var errRunFailed = errors.New("tick run finished with errors")

func newRootCommand() *cobra.Command {
	var refresh bool
	var cleanup string

	rootCmd := &cobra.Command{
		Use:           "tick",
		Short:         "Run one briefing pipeline tick and exit",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if cleanup != "" && !model.CleanupMode(cleanup).Valid() {
				return fmt.Errorf("invalid --cleanup %q: want fast, deep or both", cleanup)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), refresh, model.CleanupMode(cleanup))
		},
	}

	rootCmd.Flags().BoolVar(&refresh, "refresh", false, "Refresh the content cache before ticking")
	rootCmd.Flags().StringVar(&cleanup, "cleanup", "", "Run cleanup after ticking: fast, deep or both")

	return rootCmd
}

func run(ctx context.Context, refresh bool, cleanup model.CleanupMode) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	a, err := app.New(ctx, cfg, logger, app.Options{SkipOIDC: true})
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}
	defer a.Close()

	failed := false
	if refresh {
		if _, err := a.Refresher.Trigger(ctx); err != nil && !errors.Is(err, content.ErrCooldown) {
			logger.Error("content refresh failed", "error", err)
			failed = true
		}
	}

	tickCtx, cancel := context.WithTimeout(ctx, app.TickTimeout(cfg))
	resp, err := a.Scheduler.Tick(tickCtx)
	cancel()
	if err != nil {
		logger.Error("tick failed", "error", err)
		failed = true
	} else {
		logger.Info("tick complete",
			"completed", resp.Completed,
			"retried", resp.Retried,
			"failed", resp.Failed,
			"missed", resp.Missed,
		)
	}

	if cleanup != "" {
		retention := time.Duration(cfg.Cleanup.RetentionDays) * 24 * time.Hour
		if _, err := a.Cleanup.Run(ctx, retention, cleanup); err != nil {
			logger.Error("cleanup failed", "error", err)
			failed = true
		}
	}

	if failed {
		return errRunFailed
	}
	return nil
}
