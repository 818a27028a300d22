package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(fixMissingCmd)

	fixMissingCmd.Flags().Bool("no-cache", false, "Skip the lookup cache and always query the catalog")
	viper.BindPFlag("scan.no_cache", fixMissingCmd.Flags().Lookup("no-cache"))
}

var fixMissingCmd = &cobra.Command{
	Use:   "fix-missing",
	Short: "Scan the model library and backfill missing metadata and previews",
	Long: `Walks every model folder, finds weight files lacking a metadata or
preview sidecar, identifies each by SHA-256 content hash against the Civitai
catalog and writes the missing sidecars. Files the catalog does not know are
reported and skipped.

Ctrl-C cancels after the current file.`,
	Args: cobra.NoArgs,
	RunE: runFixMissing,
}

func runFixMissing(cmd *cobra.Command, args []string) error {
	env, cleanup := newScanEnv(viper.GetBool("scan.no_cache"))
	defer cleanup()
	runScan(env, env.CheckMissingInfo)
	return nil
}
