package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/server"
)

// application is what the commands need from the built dependency graph.
type application interface {
	Crawl(ctx context.Context, site string) (crawler.Run, pipeline.Summary, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is a variable so tests can swap in a fake.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	return server.Build(ctx, cfg, logger)
}

type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls packaging catalogs into a relational store.",
		Long: `catalog-crawler scrapes the Upack, Bestpack and Pulser storefronts,
extracting categories, products, characteristics and pictures, and persists
them in batches. It runs a single site from the command line or serves an
HTTP API that queues runs for a worker pool.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, optional)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")

	cmd.AddCommand(newRunCmd(opts), newServeCmd(opts), newSitesCmd())
	return cmd
}

// withApp loads configuration, builds the application and closes it after fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(application, *zap.Logger) error) error {
	cfg, err := config.Load(opts.configPath, opts.envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Warn("application close failed", zap.Error(err))
		}
	}()
	return fn(app, logger)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <site>",
		Short: "Crawl one site to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(app application, logger *zap.Logger) error {
				run, summary, err := app.Crawl(cmd.Context(), args[0])
				if run.ID != "" {
					report := map[string]any{"run": run, "summary": summary}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					if encErr := enc.Encode(report); encErr != nil {
						logger.Warn("write run report failed", zap.Error(encErr))
					}
				}
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				return nil
			})
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ops/API server and run workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(app application, _ *zap.Logger) error {
				return app.Serve(cmd.Context())
			})
		},
	}
}

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the known sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range server.Registry().Names() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
