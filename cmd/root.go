package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetcast/app"
	"github.com/kilianp07/fleetcast/config"
	"github.com/kilianp07/fleetcast/core/store"
	"github.com/kilianp07/fleetcast/infra/logger"
	"github.com/kilianp07/fleetcast/infra/seed"
)

var (
	cfgPath  string
	envFile  string
	seedDemo bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetcast",
	Short: "Fleet forecasting and simulation service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.Flags().BoolVar(&seedDemo, "seed", false, "load the built-in fixture before starting")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadEnv reads a dotenv file without overriding variables already set. A
// missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// seedIfEmpty writes the built-in fixture when the store holds no route.
// The memory backend always starts empty, so one-shot commands use it to
// have something to work on.
func seedIfEmpty(ctx context.Context, st store.Store) error {
	routes, err := st.ListRoutes(ctx)
	if err != nil {
		return err
	}
	if len(routes) > 0 {
		return nil
	}
	f, err := seed.Default(time.Now())
	if err != nil {
		return err
	}
	return seed.Apply(ctx, st, f)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	if seedDemo {
		if err := seedIfEmpty(ctx, svc.Store); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return svc.Run(ctx)
}
