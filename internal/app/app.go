// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/cluster/ecs"
	clustermem "github.com/citydatalab/courtbatch/internal/cluster/memory"
	"github.com/citydatalab/courtbatch/internal/config"
	"github.com/citydatalab/courtbatch/internal/logging"
	"github.com/citydatalab/courtbatch/internal/metrics"
	"github.com/citydatalab/courtbatch/internal/ops"
	"github.com/citydatalab/courtbatch/internal/storage"
	"github.com/citydatalab/courtbatch/internal/storage/local"
	storemem "github.com/citydatalab/courtbatch/internal/storage/memory"
	"github.com/citydatalab/courtbatch/internal/storage/s3"
)

// App holds the shared, long-lived services for the coordinator: the
// logger, the storage realm pair, and the cluster backend. It is built
// once at startup and handed to the commands that need it.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	stores  *storage.Stores
	cluster batch.ClusterBackend
	clock   batch.Clock
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStores exposes the storage realm pair.
func (a *App) GetStores() *storage.Stores {
	return a.stores
}

// GetCluster returns the configured compute cluster backend.
func (a *App) GetCluster() batch.ClusterBackend {
	return a.cluster
}

// GetClock returns the clock submissions derive output folders from.
func (a *App) GetClock() batch.Clock {
	return a.clock
}

// NewApp creates and initializes a new App from the configuration. It is
// the central point for service initialization and fails fast when any
// critical service cannot be reached, so a submission never starts
// against a half-working stack.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Initializing application services...")
	metrics.Init()

	// 1. Local storage realm, rooted at the configured home directory.
	home := cfg.App.Home
	if home == "" {
		home, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
	}
	localStore, err := local.New(home)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}

	// 2. Remote storage realm.
	var remoteStore storage.Store
	switch cfg.Storage.Provider {
	case "s3":
		logger.Info("Using S3 storage provider",
			zap.String("bucket", cfg.Storage.Bucket))
		s3Store, err := s3.New(s3.Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize remote storage: %w", err)
		}
		if err := s3Store.CheckBucket(ctx, cfg.Storage.Bucket); err != nil {
			return nil, fmt.Errorf("failed to verify bucket: %w", err)
		}
		remoteStore = s3Store
	case "memory":
		logger.Info("Using in-memory storage provider. Remote files will not persist.")
		remoteStore = storemem.New()
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
	stores := storage.NewStores(remoteStore, localStore, home)

	// 3. Cluster backend.
	var backend batch.ClusterBackend
	switch cfg.Cluster.Provider {
	case "ecs":
		logger.Info("Using ECS cluster backend",
			zap.String("cluster", cfg.Cluster.Name),
			zap.String("region", cfg.Cluster.Region))
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Cluster.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		backend = ecs.New(awsCfg, ecs.Config{
			Cluster:        cfg.Cluster.Name,
			TaskFamily:     cfg.Cluster.TaskFamily,
			Container:      cfg.Cluster.Container,
			Subnets:        cfg.Cluster.Subnets,
			AssignPublicIP: cfg.Cluster.AssignPublicIP,
		}, logger)
	case "memory":
		logger.Info("Using in-memory cluster backend. Tasks will not actually run.")
		backend = clustermem.New(logger)
	default:
		return nil, fmt.Errorf("unknown cluster provider: %s", cfg.Cluster.Provider)
	}

	logger.Info("Application services initialized successfully.")

	if cfg.Ops.Port > 0 {
		srv := ops.NewServer(logger)
		addr := fmt.Sprintf(":%d", cfg.Ops.Port)
		logger.Info("Starting ops server", zap.String("addr", addr))
		go func() {
			if err := srv.Serve(ctx, addr); err != nil {
				logger.Error("Ops server failed", zap.Error(err))
			}
		}()
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		stores:  stores,
		cluster: backend,
		clock:   batch.SystemClock{},
	}, nil
}

// Close gracefully shuts down the App container. It is called by a Cobra
// hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	// Flushing the logger buffer is best-effort; stderr syncs fail on some
	// platforms and there is nowhere left to report it.
	_ = a.logger.Sync()
}
