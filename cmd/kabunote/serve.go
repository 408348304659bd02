package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kotori-note/kabunote/pkg/jobs"
	"github.com/kotori-note/kabunote/pkg/server"
)

func newServeCmd() *cobra.Command {
	var noJobs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, log, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Jobs.Enabled && !noJobs {
				sched := jobs.New(log)
				if cfg.Jobs.Cleanup != "" {
					if err := sched.AddJob(cfg.Jobs.Cleanup, jobs.NewCleanupJob(a, time.Minute, log)); err != nil {
						return fmt.Errorf("schedule cleanup: %w", err)
					}
				}
				if cfg.Jobs.WarmUp != "" {
					warm := jobs.NewWarmUpJob(a, 10*time.Minute, log)
					if err := sched.AddJob(cfg.Jobs.WarmUp, warm); err != nil {
						return fmt.Errorf("schedule warm up: %w", err)
					}
					go func() {
						if err := sched.RunNow(warm); err != nil {
							log.Warn().Err(err).Msg("startup warm up failed")
						}
					}()
				}
				sched.Start()
				defer sched.Stop()
			}

			log.Info().
				Str("config", configPath).
				Bool("ai_configured", a.ProviderConfigured()).
				Msg("starting kabunote")

			srv := server.New(a, server.Config{
				Listen:         cfg.Listen,
				AllowedOrigins: cfg.CORS.AllowedOrigins,
				RequestTimeout: cfg.Provider.Timeout + 30*time.Second,
			}, log)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "do not run scheduled cleanup and warm-up")
	return cmd
}
