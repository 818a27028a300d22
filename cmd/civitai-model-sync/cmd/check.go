package cmd

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"civitai-model-sync/internal/api"
	"civitai-model-sync/internal/sidecar"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <model-url-or-id>",
	Short: "Look up a model on Civitai and print its details",
	Long: `Resolves a Civitai model URL or numeric id, fetches the catalog record
and prints the model's name, type, tags and preview image URLs.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	modelID, versionID, err := api.ParseModelRef(args[0])
	if err != nil {
		return err
	}

	client := newApiClient()
	model, err := client.GetModel(modelID)
	if err != nil {
		log.WithError(err).Errorf("Error checking model %s", modelID)
		return fmt.Errorf("error checking model: %w", err)
	}

	version := model.LatestVersion()
	if versionID != "" {
		if v := model.VersionByID(versionID); v != nil {
			version = v
		} else {
			log.Warnf("Version ID %s not found for model %s, showing latest", versionID, modelID)
		}
	}

	tags := "None"
	if len(model.Tags) > 0 {
		tags = strings.Join(model.Tags, ", ")
	}
	fmt.Printf("Model: %s\n", model.Name)
	fmt.Printf("Type: %s\n", model.Type)
	fmt.Printf("Tags: %s\n", tags)
	if versionID != "" {
		fmt.Printf("Version ID: %s\n", versionID)
	}

	if version != nil {
		shown := 0
		for _, image := range version.Images {
			if !sidecar.IsSupportedImage(image.URL) {
				continue
			}
			fmt.Printf("Preview %d: %s\n", shown+1, image.URL)
			if shown++; shown == 2 {
				break
			}
		}
	}
	return nil
}
