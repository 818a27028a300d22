package sidecar

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"civitai-model-sync/internal/api"
	"civitai-model-sync/internal/inventory"
	"civitai-model-sync/internal/models"

	log "github.com/sirupsen/logrus"
)

// Synchronizer writes the sidecar family for a model file: metadata JSON,
// preview image and the UI-info blob. Metadata is the valuable part; a
// failed preview fetch is logged and swallowed.
type Synchronizer struct {
	HttpClient  *http.Client
	MaxAttempts int
	RetryDelay  time.Duration
}

// New creates a Synchronizer. A nil client gets a default suited to image
// fetches.
func New(httpClient *http.Client) *Synchronizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Synchronizer{
		HttpClient:  httpClient,
		MaxAttempts: api.DefaultMaxAttempts,
		RetryDelay:  api.DefaultRetryDelay,
	}
}

// Sync writes <base>.metadata.json, fetches a preview image when one can be
// resolved, and merges the <base>.json UI-info file. previewURL may be empty;
// version selects the trained words for the activation text and defaults to
// the record's latest version.
func (s *Synchronizer) Sync(folder, filename string, info models.Model, previewURL string, version *models.ModelVersion) error {
	basePath := inventory.BasePath(folder, filename)

	metadataBytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling metadata for %s: %w", filename, err)
	}
	metadataPath := basePath + ".metadata.json"
	if err := os.WriteFile(metadataPath, metadataBytes, 0600); err != nil {
		return fmt.Errorf("writing metadata file %s: %w", metadataPath, err)
	}
	log.Debugf("Saved metadata to %s", metadataPath)

	if imageURL := ResolvePreviewURL(info, previewURL); imageURL != "" {
		if err := s.fetchPreview(basePath, imageURL); err != nil {
			log.WithError(err).Warnf("Failed to download preview image for %s", filename)
		}
	} else {
		log.Debugf("No valid preview image found for %s; skipping preview download", filename)
	}

	if version == nil {
		version = info.LatestVersion()
	}
	if err := mergeInfoJSON(basePath+".json", info, version); err != nil {
		return err
	}
	return nil
}

// ResolvePreviewURL picks the preview image URL: the explicitly supplied one
// when it has a whitelisted extension, otherwise the first whitelisted image
// scanning versions in order.
func ResolvePreviewURL(info models.Model, previewURL string) string {
	if previewURL != "" && IsSupportedImage(previewURL) {
		return previewURL
	}
	for _, version := range info.ModelVersions {
		for _, image := range version.Images {
			if image.URL != "" && IsSupportedImage(image.URL) {
				return image.URL
			}
		}
	}
	return ""
}

// IsSupportedImage reports whether a URL points at a whitelisted preview
// image type, ignoring any query string.
func IsSupportedImage(rawURL string) bool {
	switch strings.ToLower(urlExt(rawURL)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

// urlExt returns the extension of a URL's path with any query string
// stripped first.
func urlExt(rawURL string) string {
	stripped := rawURL
	if i := strings.Index(stripped, "?"); i >= 0 {
		stripped = stripped[:i]
	}
	return path.Ext(stripped)
}

// PreviewExtension derives the on-disk extension for a preview URL. Missing
// or suspiciously long extensions fall back to .jpg.
func PreviewExtension(imageURL string) string {
	ext := urlExt(imageURL)
	if ext == "" || len(ext) > 5 {
		return ".jpg"
	}
	return ext
}

func (s *Synchronizer) fetchPreview(basePath, imageURL string) error {
	previewPath := basePath + ".preview" + PreviewExtension(imageURL)
	resp, err := api.RobustGet(s.HttpClient, imageURL, nil, s.MaxAttempts, s.RetryDelay)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(previewPath)
	if err != nil {
		return fmt.Errorf("creating preview file %s: %w", previewPath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("writing preview file %s: %w", previewPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing preview file %s: %w", previewPath, err)
	}
	log.Debugf("Saved preview to %s", previewPath)
	return nil
}

// mergeInfoJSON updates the host UI's <base>.json info blob. Description and
// activation text are always refreshed from the catalog; the remaining keys
// are only seeded when absent so user edits survive a re-sync. An unparsable
// existing file is treated as empty rather than aborting.
func mergeInfoJSON(jsonPath string, info models.Model, version *models.ModelVersion) error {
	existing := map[string]interface{}{}
	if data, err := os.ReadFile(jsonPath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			log.WithError(err).Warnf("Failed to parse existing %s, starting from defaults", jsonPath)
			existing = map[string]interface{}{}
		}
	}

	var trainedWords []string
	if version != nil {
		trainedWords = version.TrainedWords
	}
	activationText := ""
	if len(trainedWords) > 0 {
		activationText = strings.Join(trainedWords, ", ") + ","
	}

	existing["description"] = info.Description
	existing["activation text"] = activationText
	if _, ok := existing["sd version"]; !ok {
		existing["sd version"] = ""
	}
	if _, ok := existing["preferred weight"]; !ok {
		existing["preferred weight"] = 0
	}
	if _, ok := existing["negative text"]; !ok {
		existing["negative text"] = ""
	}
	if _, ok := existing["notes"]; !ok {
		existing["notes"] = ""
	}

	data, err := json.MarshalIndent(existing, "", "    ")
	if err != nil {
		return fmt.Errorf("marshalling info JSON %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(jsonPath, data, 0600); err != nil {
		return fmt.Errorf("writing info JSON %s: %w", jsonPath, err)
	}
	log.Debugf("Saved UI info to %s", jsonPath)
	return nil
}
