// Package cmd defines the commentater CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skairunner/commentater/internal/articlesync"
	"github.com/skairunner/commentater/internal/config"
	"github.com/skairunner/commentater/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests replace it
// through newApp.
type App interface {
	Logger() *zap.Logger
	Migrate() error
	RunWorkers(ctx context.Context) error
	Serve(ctx context.Context) error
	SyncUser(ctx context.Context, apiKey string, enqueue bool) (articlesync.Summary, error)
	Close()
}

// newApp is the application factory.
var newApp = func(cfg *config.Config) (App, error) {
	return server.Build(cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "commentater",
		Short: "Tracks unanswered comments on World Anvil articles.",
		Long: `commentater keeps a queue of World Anvil articles to re-check, scrapes
each article page, and records the comments nobody has answered yet.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			appInstance, err := newApp(&cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.AddCommand(newWorkerCmd(), newServeCmd(), newMigrateCmd(), newSyncCmd())
	return cmd
}

// runWithApp resolves the App built by the root command, runs fn and closes
// the App whatever fn returns.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, app App) error) error {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return errors.New("application not initialized")
	}
	defer appInstance.Close()
	return fn(cmd.Context(), appInstance)
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
