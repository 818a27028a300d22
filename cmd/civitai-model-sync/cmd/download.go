package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"civitai-model-sync/index"
	"civitai-model-sync/internal/api"
	"civitai-model-sync/internal/downloader"
	"civitai-model-sync/internal/helpers"
	"civitai-model-sync/internal/inventory"
	"civitai-model-sync/internal/models"
	"civitai-model-sync/internal/sidecar"
)

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().Bool("no-sidecars", false, "Skip writing metadata/preview/info sidecar files")
	downloadCmd.Flags().Bool("no-index", false, "Skip updating the full-text index after download")
	viper.BindPFlag("download.no_sidecars", downloadCmd.Flags().Lookup("no-sidecars"))
	viper.BindPFlag("download.no_index", downloadCmd.Flags().Lookup("no-index"))
}

var downloadCmd = &cobra.Command{
	Use:   "download <model-url-or-id>",
	Short: "Download a model from Civitai into the model library",
	Long: `Resolves a Civitai model URL or numeric id, picks the requested version
(or the latest), streams the primary file into the type's folder and writes
the metadata, preview and UI-info sidecars next to it.

Ctrl-C cancels the transfer at the next chunk boundary and removes the
partial file.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

var downloadRegistry = downloader.NewRegistry()

func runDownload(cmd *cobra.Command, args []string) error {
	modelID, versionID, err := api.ParseModelRef(args[0])
	if err != nil {
		return err
	}

	client := newApiClient()
	model, err := client.GetModel(modelID)
	if err != nil {
		log.WithError(err).Errorf("Error fetching model %s", modelID)
		return fmt.Errorf("error fetching model: %w", err)
	}

	version := model.LatestVersion()
	if versionID != "" {
		if v := model.VersionByID(versionID); v != nil {
			version = v
		} else {
			log.Warnf("Version ID %s not found for model %s, using latest", versionID, modelID)
		}
	}
	if version == nil {
		return fmt.Errorf("no versions available for model %s", modelID)
	}

	file := primaryFile(version)
	if file == nil {
		return fmt.Errorf("no downloadable files for model %s version %d", modelID, version.ID)
	}
	downloadURL := file.DownloadUrl
	if downloadURL == "" {
		downloadURL = version.DownloadUrl
	}
	if downloadURL == "" {
		return fmt.Errorf("no download URL for model %s version %d", modelID, version.ID)
	}

	folder, err := inventory.EnsureFolder(folderMap(), model.Type)
	if err != nil {
		return err
	}
	filename := downloader.SanitizeFilename(file.Name)
	destPath := filepath.Join(folder, filename)

	job := downloadRegistry.Begin(modelID)
	defer downloadRegistry.End(modelID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			log.Warn("Interrupt received, cancelling download...")
			job.RequestCancel()
		}
	}()

	writer := uilive.New()
	writer.Start()
	engine := downloader.NewEngine(newBinaryClient(), globalConfig.ApiKey)
	result := engine.Download(destPath, downloadURL, file.Hashes, job, func(p downloader.Progress) {
		fmt.Fprint(writer, formatProgress(filename, p))
	})
	writer.Stop()

	switch result.Outcome {
	case downloader.OutcomeCancelled:
		fmt.Println("Download cancelled.")
		return nil
	case downloader.OutcomeError:
		return fmt.Errorf("download failed: %w", result.Err)
	case downloader.OutcomeAlreadyExists:
		fmt.Printf("Model already exists: %s\n", result.Path)
	case downloader.OutcomeDone:
		fmt.Printf("Downloaded: %s\n", result.Path)
	}

	// Sidecars are (re)written even when the file was already present, so an
	// interrupted earlier run still ends up with a complete family.
	if !viper.GetBool("download.no_sidecars") {
		sync := sidecar.New(newBinaryClient())
		if err := sync.Sync(folder, filename, model, "", version); err != nil {
			log.WithError(err).Errorf("Sidecar sync failed for %s", filename)
			return fmt.Errorf("sidecar sync failed: %w", err)
		}
		fmt.Printf("Sidecars written for %s\n", filename)
	}

	if !viper.GetBool("download.no_index") {
		indexDownloaded(folder, filename)
	}
	return nil
}

// primaryFile picks the file flagged primary, falling back to the first
// model-typed file and then the first file of any kind.
func primaryFile(version *models.ModelVersion) *models.File {
	for i := range version.Files {
		if version.Files[i].Primary {
			return &version.Files[i]
		}
	}
	for i := range version.Files {
		if version.Files[i].Type == "Model" {
			return &version.Files[i]
		}
	}
	if len(version.Files) > 0 {
		return &version.Files[0]
	}
	return nil
}

// indexDownloaded adds the fresh download to the full-text index. Failures
// only cost search results, not the download.
func indexDownloaded(folder, filename string) {
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("Could not open full-text index, skipping index update")
		return
	}
	defer idx.Close()
	if _, err := index.IndexModelFile(idx, folder, filename); err != nil {
		log.WithError(err).Warnf("Could not index %s", filename)
	}
}

func formatProgress(filename string, p downloader.Progress) string {
	speed := fmt.Sprintf("%s/s", helpers.BytesToSize(uint64(p.BytesPerSec)))
	if p.Total == 0 {
		return fmt.Sprintf("Downloading %s: %s (%s)\n", filename, helpers.BytesToSize(p.Transferred), speed)
	}
	eta := "--"
	if p.ETA > 0 {
		eta = p.ETA.Round(time.Second).String()
	}
	return fmt.Sprintf("Downloading %s: %.1f%% (%s / %s, %s, ETA %s)\n",
		filename, p.Percent, helpers.BytesToSize(p.Transferred), helpers.BytesToSize(p.Total), speed, eta)
}
