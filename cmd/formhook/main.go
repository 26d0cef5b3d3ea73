package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/formhook/internal/api"
	"github.com/shohag/formhook/internal/config"
	"github.com/shohag/formhook/internal/delivery"
	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/metrics"
	"github.com/shohag/formhook/internal/models"
	"github.com/shohag/formhook/internal/ssrf"
	"github.com/shohag/formhook/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "formhook",
		Short: "Formhook delivers form submissions to external HTTP services",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(hookCmd(&configPath))
	rootCmd.AddCommand(logCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the delivery pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			reg := prometheus.NewRegistry()
			metrics.Register(reg)

			engine, runner, err := setupEngine(cfg, store, log)
			if err != nil {
				return err
			}

			pool := delivery.NewPool(engine, runner, cfg.Delivery.Workers, cfg.Delivery.PollInterval, log)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			server := api.NewServer(cfg.Server, store, engine, reg, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Int("max_retries", cfg.Delivery.MaxRetries).
				Str("storage", cfg.Storage.Driver).
				Msg("formhook is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			pool.Stop()

			log.Info().Msg("formhook stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func hookCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Inspect hooks",
	}

	listCmd := &cobra.Command{
		Use:   "list <form_uid>",
		Short: "List the hooks of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			hooks, err := store.ListHooks(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list hooks: %w", err)
			}

			if len(hooks) == 0 {
				fmt.Println("No hooks found.")
				return nil
			}

			for _, h := range hooks {
				state := "active"
				if !h.Active {
					state = "inactive"
				}
				fmt.Printf("  %s  %-8s %-4s %s  %s\n", h.ID, state, h.Format, h.Name, h.Endpoint)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}

func logCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect and act on hook logs",
	}

	listCmd := &cobra.Command{
		Use:   "list <hook_id>",
		Short: "List the logs of a hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			if status != "" && !models.HookLogStatus(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			_, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			logs, err := store.ListHookLogs(context.Background(), storage.LogFilter{
				HookID: args[0],
				Status: models.HookLogStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list logs: %w", err)
			}

			if len(logs) == 0 {
				fmt.Println("No logs found.")
				return nil
			}

			for _, l := range logs {
				fmt.Printf("  %s  %-11s %3d  retries=%d  %s  (updated %s)\n",
					l.ID, l.Status, l.StatusCode, l.RetryCount, l.SubmissionID, l.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().String("status", "", "only logs with this status")
	listCmd.Flags().Int("limit", 50, "maximum number of logs")

	retryCmd := &cobra.Command{
		Use:   "retry <log_id>",
		Short: "Reset a failed log and deliver it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			engine, runner, err := setupEngine(cfg, store, setupLogger(cfg.Logging))
			if err != nil {
				return err
			}
			defer runner.Stop()

			l, err := engine.Retry(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %s", faults.Code(err), faults.Message(err))
			}
			runner.Wait()

			if l, err = store.GetHookLog(context.Background(), l.ID); err != nil {
				return fmt.Errorf("failed to reload log: %w", err)
			}
			return printJSON(l)
		},
	}

	failCmd := &cobra.Command{
		Use:   "fail <log_id>",
		Short: "Mark a log failed and cancel its pending retries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			engine, runner, err := setupEngine(cfg, store, setupLogger(cfg.Logging))
			if err != nil {
				return err
			}
			defer runner.Stop()

			l, err := engine.ForceFail(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %s", faults.Code(err), faults.Message(err))
			}
			return printJSON(l)
		},
	}

	cmd.AddCommand(listCmd, retryCmd, failCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <hook_id>",
		Short: "Show delivery stats for a hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetHookStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			return printJSON(stats)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("formhook v%s\n", version)
		},
	}
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "postgres":
		log.Info().Msg("using PostgreSQL storage")
		return storage.NewPostgres(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupEngine(cfg *config.Config, store storage.Storage, log zerolog.Logger) (*delivery.Engine, *delivery.Runner, error) {
	guard, err := ssrf.NewGuard(nil, cfg.SSRF.AllowedIPs, cfg.SSRF.AllowedHosts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup ssrf guard: %w", err)
	}
	client := delivery.NewClient(guard, cfg.Delivery.Timeout, cfg.Delivery.UserAgent, cfg.Delivery.MaxResponseBytes)
	runner := delivery.NewRunner(cfg.Delivery.Workers, cfg.Delivery.Timeout, log)
	return delivery.NewEngine(store, client, runner, cfg.Delivery, log), runner, nil
}

func storeFromConfig(configPath string) (*config.Config, storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return cfg, store, func() { store.Close() }, nil
}
