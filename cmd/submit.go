package cmd

import (
	"fmt"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/launcher"
	"github.com/citydatalab/courtbatch/internal/reducer"
	"github.com/citydatalab/courtbatch/internal/storage"
	"github.com/citydatalab/courtbatch/internal/waiter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSubmitCmd creates the submit command, which launches one cluster task
// per partition, waits for the whole batch to stop, and combines the
// partition outputs.
func newSubmitCmd() *cobra.Command {
	var (
		searchBy     string
		sample       int
		tag          string
		partitions   int
		sleep        int
		errorsPolicy string
		logFreq      int
		seed         int
		interval     int
		timeLimit    int
		outputFolder string
		dryRun       bool
		debug        bool
		noWait       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <flavor> <dataset>",
		Short: "Fans a scraping job out across the compute cluster.",
		Long: `submit partitions a scraping job into N cluster tasks, one per
partition index, and launches them sequentially. Unless --no-wait is set it
then blocks until every task has stopped and combines the partition outputs
under results/<dataset>/<date>/chunks into single artifacts one directory
above.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg := appInstance.GetConfig()
			logger := appInstance.GetLogger()

			spec := cfg.DefaultSpec()
			spec.Flavor = batch.Flavor(args[0])
			spec.Dataset = args[1]
			spec.SearchBy = searchBy
			spec.Sample = sample
			spec.Tag = tag
			spec.OutputFolder = outputFolder
			spec.DryRun = dryRun
			spec.Debug = debug

			// Flags override the configured defaults only when set.
			flags := cmd.Flags()
			if flags.Changed("partitions") {
				spec.Partitions = partitions
			}
			if flags.Changed("sleep") {
				spec.Sleep = sleep
			}
			if flags.Changed("errors") {
				spec.Errors = batch.ErrorsPolicy(errorsPolicy)
			}
			if flags.Changed("log-freq") {
				spec.LogFreq = logFreq
			}
			if flags.Changed("seed") {
				spec.Seed = seed
			}
			if flags.Changed("interval") {
				spec.Interval = interval
			}
			if flags.Changed("time-limit") {
				spec.TimeLimit = timeLimit
			}

			backend := appInstance.GetCluster()
			profile, err := backend.ResolveProfile(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve cluster profile: %w", err)
			}

			l := launcher.New(backend, appInstance.GetClock(), logger)
			sub, err := l.Launch(ctx, profile, spec)
			if err != nil {
				return err
			}

			// Record what was launched next to the outputs. The manifest is
			// advisory, so a failure here never aborts the run.
			bucket := cfg.Storage.Bucket
			folder := storage.RemotePath(bucket).Join(sub.OutputFolder)
			if _, err := launcher.WriteManifest(ctx, appInstance.GetStores().Remote(), folder, sub); err != nil {
				logger.Warn("Failed to write run manifest", zap.Error(err))
			}

			if noWait {
				fmt.Printf("Launched %d partition task(s) without waiting.\n", len(sub.Results))
				for _, handle := range sub.Handles() {
					fmt.Println(handle)
				}
				return nil
			}

			combiner := reducer.New(appInstance.GetStores(), logger)
			w := waiter.New(backend, combiner, waiter.Config{
				Bucket:      bucket,
				Delay:       cfg.WaitDelay(),
				MaxAttempts: cfg.Wait.MaxAttempts,
			}, logger)

			artifact, err := w.Await(ctx, sub)
			if err != nil {
				return err
			}

			fmt.Println(artifact.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&searchBy, "search-by", "", "field the input dataset is keyed by (required for the portal flavor)")
	cmd.Flags().IntVar(&sample, "sample", 0, "number of records each worker samples; 0 scrapes everything")
	cmd.Flags().StringVar(&tag, "tag", "", "extra tag workers append to output filenames")
	cmd.Flags().IntVar(&partitions, "partitions", 0, "number of partition tasks to launch")
	cmd.Flags().IntVar(&sleep, "sleep", 0, "seconds workers sleep between requests")
	cmd.Flags().StringVar(&errorsPolicy, "errors", "", "worker error policy: ignore or raise")
	cmd.Flags().IntVar(&logFreq, "log-freq", 0, "records between worker progress log lines")
	cmd.Flags().IntVar(&seed, "seed", 0, "random seed forwarded to workers")
	cmd.Flags().IntVar(&interval, "interval", 0, "minutes between worker upload checkpoints")
	cmd.Flags().IntVar(&timeLimit, "time-limit", 0, "hours before a worker stops on its own")
	cmd.Flags().StringVar(&outputFolder, "output-folder", "", "output folder (default results/<dataset>/<date>)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "workers parse their inputs but scrape nothing")
	cmd.Flags().BoolVar(&debug, "debug", false, "verbose worker logging")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print task handles and return without waiting")

	return cmd
}
