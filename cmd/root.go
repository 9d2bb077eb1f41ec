// Package cmd wires the courtbatch CLI. Commands receive their
// dependencies through an App stored on the command context, so tests can
// swap the whole service container for a fake.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/citydatalab/courtbatch/internal/app"
	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/config"
	"github.com/citydatalab/courtbatch/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. Keeping it an
// interface allows tests to inject a mock app.
type App interface {
	Close()
	GetConfig() config.Config
	GetLogger() *zap.Logger
	GetStores() *storage.Stores
	GetCluster() batch.ClusterBackend
	GetClock() batch.Clock
}

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.NewApp(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courtbatch",
		Short: "Coordinates partitioned court-record scraping jobs on a compute cluster.",
		Long: `courtbatch fans a scraping job out across a remote compute cluster as
numbered partition tasks, waits for every task to stop, combines the
partition outputs into single artifacts, and synchronizes results between
remote object storage and the local filesystem.`,
		SilenceUsage: true,

		// Runs before any subcommand's RunE. Builds the application
		// container and injects it for subcommands to retrieve.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default reads COURTBATCH_* environment variables)")

	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newReduceCmd())
	cmd.AddCommand(newSyncCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed the error; signal failure to the shell.
		os.Exit(1)
	}
}

// resolveApp retrieves the App injected by the root command's
// PersistentPreRunE hook.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not found in context")
	}
	return appInstance, nil
}
