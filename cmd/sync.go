package cmd

import (
	"fmt"

	"github.com/citydatalab/courtbatch/internal/syncer"
	"github.com/spf13/cobra"
)

// newSyncCmd creates the sync command, a one-way copy between remote object
// storage and the local filesystem.
func newSyncCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync <source> <dest>",
		Short: "Copies new and updated files from source to dest.",
		Long: `sync walks every file under source and copies it under dest when the
destination copy is missing or older than the source. Exactly one of the two
paths must be remote, marked with an s3:// prefix; the other is local and
resolves against the application home directory. Nothing is ever deleted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			s := syncer.New(appInstance.GetStores(), appInstance.GetLogger())
			summary, err := s.Sync(cmd.Context(), args[0], args[1], dryRun)
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("Would copy %d file(s); %d already up to date.\n", summary.Copied, summary.Skipped)
			} else {
				fmt.Printf("Copied %d file(s); %d already up to date.\n", summary.Copied, summary.Skipped)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be copied without copying")

	return cmd
}
