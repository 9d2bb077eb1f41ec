package cmd

import (
	"fmt"

	"github.com/citydatalab/courtbatch/internal/batch"
	"github.com/citydatalab/courtbatch/internal/reducer"
	"github.com/citydatalab/courtbatch/internal/storage"
	"github.com/spf13/cobra"
)

// newReduceCmd creates the reduce command, which combines the partition
// files of an already-finished batch. submit runs the same combination
// automatically, so this exists for reruns and for batches launched with
// --no-wait.
func newReduceCmd() *cobra.Command {
	var outputFolder string

	cmd := &cobra.Command{
		Use:   "reduce <flavor> <dataset>",
		Short: "Combines partition outputs into single artifacts.",
		Long: `reduce merges the per-partition result and input files under
<output-folder>/chunks in the remote bucket into one combined file per kind,
written one directory above the chunks folder.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg := appInstance.GetConfig()

			flavor := batch.Flavor(args[0])
			dataset := args[1]
			if !batch.KnownFlavor(flavor) {
				return fmt.Errorf("unknown flavor %q", flavor)
			}

			folder := outputFolder
			if folder == "" {
				folder = batch.DeriveOutputFolder(dataset, appInstance.GetClock().Now())
			}
			chunks := storage.RemotePath(cfg.Storage.Bucket).Join(batch.ChunkFolder(folder))

			combiner := reducer.New(appInstance.GetStores(), appInstance.GetLogger())
			artifact, err := combiner.Combine(ctx, flavor, dataset, chunks)
			if err != nil {
				return err
			}

			fmt.Println(artifact.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&outputFolder, "output-folder", "", "bucket-relative output folder (default results/<dataset>/<date>)")

	return cmd
}
