// Command sentinel runs the notification delivery service and its
// maintenance tasks.
//
// Usage:
//
//	sentinel serve --config config.yaml
//	sentinel migrate up
//	sentinel broadcast <alert-id> --dry-run
//	sentinel cleanup preview
//	sentinel apikey hash <key>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bissquit/market-sentinel/internal/app"
	"github.com/bissquit/market-sentinel/internal/config"
	"github.com/bissquit/market-sentinel/internal/identity"
	"github.com/bissquit/market-sentinel/internal/notifications/telegram"
	"github.com/bissquit/market-sentinel/internal/pkg/postgres"
	"github.com/bissquit/market-sentinel/internal/version"
)

const shutdownGrace = 5 * time.Second

var configPath string

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "Market alert notification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(broadcastCmd())
	root.AddCommand(cleanupCmd())
	root.AddCommand(apikeyCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withApp builds the application without starting its servers.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue worker and maintenance loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Run(ctx)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error("server stopped", "error", err)
				}
			case <-ctx.Done():
				logger.Info("received shutdown signal")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+shutdownGrace)
			defer cancel()
			return a.Shutdown(shutdownCtx)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := postgres.Migrate(cfg.Database.URL); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(cfg.Database.URL); err != nil {
				return err
			}
			logger.Info("migrations rolled back")
			return nil
		},
	})
	return cmd
}

func broadcastCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "broadcast <alert-id>",
		Short: "Send a stored alert to every eligible recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				result, err := a.Broadcaster().BroadcastByID(ctx, args[0], telegram.BroadcastOptions{DryRun: dryRun})
				if result != nil {
					if perr := printJSON(result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count eligible recipients without sending")
	return cmd
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Deactivate recipients without recent alerts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "List recipients the next cleanup would deactivate",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				list, err := a.Cleanup().PreviewCleanup(ctx)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"inactive_days": a.Cleanup().Config().InactiveDays,
					"count":         len(list),
					"recipients":    list,
				})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one cleanup pass now",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				result, err := a.Cleanup().RunCleanup(ctx)
				if result != nil {
					if perr := printJSON(result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	})
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash <key>",
		Short: "Print the bcrypt hash to put in auth.api_keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := identity.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Get())
			return err
		},
	}
}

