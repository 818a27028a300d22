package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkUpdatesCmd)
}

var checkUpdatesCmd = &cobra.Command{
	Use:   "check-updates",
	Short: "Check installed models for newer versions on Civitai",
	Long: `Walks every model that already has a metadata sidecar, looks the model
up in the Civitai catalog and reports any whose stored version is no longer
the latest, with a browser link to the new version.

Ctrl-C cancels after the current file.`,
	Args: cobra.NoArgs,
	RunE: runCheckUpdates,
}

func runCheckUpdates(cmd *cobra.Command, args []string) error {
	// The update check never does by-hash lookups, so the cache stays closed.
	env, cleanup := newScanEnv(true)
	defer cleanup()
	runScan(env, env.CheckModelUpdates)
	return nil
}
