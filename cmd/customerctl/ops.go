package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/goliatone/go-customer-cache/health"
	"github.com/goliatone/go-customer-cache/pkg/di"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the customer schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				if err := c.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store and cache health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				report := c.Health().Check(ctx)
				if outputFormat == "json" {
					return printJSON(cmd.OutOrStdout(), report)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "STATUS\t%s\n", report.Status)
				fmt.Fprintf(w, "DATABASE\t%s\n", report.Services.Database.Status)
				if report.Services.Database.Status == health.Connected {
					fmt.Fprintf(w, "PING\t%dms\n", report.Services.Database.ResponseTimeMs)
				}
				if report.Services.Database.Error != "" {
					fmt.Fprintf(w, "ERROR\t%s\n", report.Services.Database.Error)
				}
				if pool := report.Services.Database.Pool; pool != nil {
					fmt.Fprintf(w, "POOL\t%d open, %d in use, %d idle (max %d)\n", pool.Open, pool.InUse, pool.Idle, pool.MaxPoolSize)
				}
				if report.Services.Cache != nil {
					fmt.Fprintf(w, "CACHE\t%s\n", report.Services.Cache.Status)
				}
				return w.Flush()
			})
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Cache maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Drop every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
				if !c.CacheStore().Connected() {
					return fmt.Errorf("cache %s is not reachable", c.Config().Cache.Backend)
				}
				c.CacheStore().Flush(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "Cache flushed")
				return nil
			})
		},
	})
	return cmd
}
