package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kotori-note/kabunote/pkg/app"
	"github.com/kotori-note/kabunote/pkg/config"
	"github.com/kotori-note/kabunote/pkg/logger"
)

var version = "dev"

const defaultConfigPath = "kabunote.yaml"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "kabunote",
		Short:         "kabunote: AI chart commentary for Japanese stocks under a shared API quota",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")

	root.AddCommand(
		newServeCmd(),
		newUsageCmd(),
		newStatsCmd(),
		newCacheCmd(),
		newWarmUpCmd(),
		newUsersCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file. A missing file at the default path
// yields the defaults; an explicit path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and builds the application. Callers close it.
func openApp(cmd *cobra.Command) (*app.App, *config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}

	log := logger.New(cfg.Log)
	logger.SetGlobalLogger(log)

	a, err := app.New(cfg, log)
	if err != nil {
		return nil, nil, log, fmt.Errorf("init app: %w", err)
	}
	return a, cfg, log, nil
}
