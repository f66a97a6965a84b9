package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PrateekKrishna/rank-sync/internal/app"
	"github.com/PrateekKrishna/rank-sync/internal/config"
	"github.com/PrateekKrishna/rank-sync/internal/logging"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "rankd",
		Short:         "Webhook ingest, cache coherence and live notifications for product rankings",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files to load before the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepProductsCmd())
	rootCmd.AddCommand(clearCacheCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openCore loads configuration and connects the data services.
func openCore(cmd *cobra.Command) (*app.Core, *slog.Logger, error) {
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)
	core, err := app.OpenCore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, logger, err
	}
	return core, logger, nil
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingress, queue workers and live notification gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, logger, err := openCore(cmd)
			if err != nil {
				return err
			}
			if migrate {
				logging.Fatal(logger, core.Migrate(cmd.Context()), "Failed to migrate database")
			}
			srv, err := app.NewServer(core)
			logging.Fatal(logger, err, "Failed to build server")
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Warn("shutdown", "error", err)
				}
			}()
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "create the schema and seed achievements before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed the achievement catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, logger, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()
			if err := core.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("migration complete")
			return nil
		},
	}
}

func sweepProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-products",
		Short: "Remove products flagged for deletion and rebuild the product metadata cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, _, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()
			ids, err := core.Coherence.SweepProducts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d products\n", len(ids))
			return nil
		},
	}
}

func clearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache [name|all]",
		Short: "Clear one named cache, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "all"
			if len(args) == 1 {
				name = args[0]
			}
			core, _, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer core.Close()

			out := cmd.OutOrStdout()
			if name == "all" {
				results := core.Coherence.ClearAll(cmd.Context())
				for _, cache := range core.Caches.Names() {
					fmt.Fprintf(out, "%s\t%v\n", cache, results[cache])
				}
				return nil
			}
			ok, err := core.Caches.ClearNamed(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("%w (available: %v)", err, core.Caches.Names())
			}
			fmt.Fprintf(out, "%s\t%v\n", name, ok)
			return nil
		},
	}
}
