package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-customer-cache/config"
	"github.com/goliatone/go-customer-cache/internal/logging"
	"github.com/goliatone/go-customer-cache/pkg/di"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	envFile      string
	outputFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "customerctl",
		Short:         "Manage customers through the cached repository",
		Long:          "customerctl reads and writes customers in the store, going through the same cache as the service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(
		migrateCmd(),
		statusCmd(),
		createCmd(),
		getCmd(),
		listCmd(),
		updateCmd(),
		creditCmd(),
		deleteCmd(),
		cacheCmd(),
	)
	return rootCmd
}

// loadEnv applies envFile without overriding variables that are already set.
// A missing file is not an error.
func loadEnv() error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// withContainer builds the container from the environment, runs fn and
// closes the container again.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *di.Container) error) error {
	if err := loadEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())
	ctx := log.WithContext(cmd.Context())

	c, err := di.NewContainer(ctx, cfg, di.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("shutdown failed")
		}
	}()

	return fn(ctx, c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
