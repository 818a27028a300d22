package scan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"civitai-model-sync/internal/inventory"
	"civitai-model-sync/internal/models"

	log "github.com/sirupsen/logrus"
)

// CheckModelUpdates scans every model that already has a metadata sidecar
// and compares its stored version id against the catalog's latest. Version
// identity is compared as strings: old sidecars may predate the numeric id
// scheme, and a mismatch of any kind counts as an available update.
func (e *Env) CheckModelUpdates(report func(string)) {
	ok, holder := e.Control.TryAcquire(KindUpdates)
	if !ok {
		report(fmt.Sprintf("Another process is already running: %s", holder))
		return
	}
	defer e.Control.Release()

	var items []inventory.Candidate
	for _, candidate := range inventory.ListCandidateFiles(e.Folders, inventory.DefaultScanExclusions) {
		if inventory.Inspect(candidate.Folder, candidate.Filename).HasMetadata {
			items = append(items, candidate)
		}
	}

	total := len(items)
	if total == 0 {
		report("No models found to check for updates.")
		return
	}

	var updates, errs []string
	for idx, candidate := range items {
		if e.Control.Cancelled() {
			report(joinReport(combined(updates, errs), fmt.Sprintf("Cancelled after %d of %d files.", idx, total)))
			return
		}

		file := candidate.Filename
		report(joinReport(combined(updates, errs), fmt.Sprintf("[%d/%d] Checking: %s", idx+1, total, file)))

		updateMsg, errMsg := e.checkOne(candidate)
		if errMsg != "" {
			errs = append(errs, errMsg)
			report(joinReport(combined(updates, errs)))
			continue
		}
		if updateMsg != "" {
			updates = append(updates, updateMsg)
			report(joinReport(combined(updates, errs)))
		}
	}

	switch {
	case len(updates) == 0 && len(errs) == 0:
		report("All models are up to date.")
	case len(updates) > 0:
		report(joinReport(combined(updates, errs),
			fmt.Sprintf("Check complete. %d model(s) have updates available.", len(updates))))
	default:
		report(joinReport(errs,
			fmt.Sprintf("Check complete. No updates found. %d error(s) occurred.", len(errs))))
	}
}

// checkOne returns (update message, error message); both empty means up to
// date.
func (e *Env) checkOne(candidate inventory.Candidate) (string, string) {
	file := candidate.Filename
	metadataPath := inventory.MetadataPath(candidate.Folder, file)

	data, err := os.ReadFile(metadataPath)
	if err != nil {
		log.WithError(err).Errorf("Failed to read %s", metadataPath)
		return "", fmt.Sprintf("Failed to check %s: %v", file, err)
	}

	modelID, currentVersionID := extractIDs(data)
	if modelID == "" || currentVersionID == "" {
		msg := fmt.Sprintf("Could not determine model id or version for %s", file)
		log.Warn(msg)
		return "", msg
	}

	latest, err := e.Client.GetModel(modelID)
	if err != nil {
		log.WithError(err).Errorf("Catalog lookup failed for model %s (%s)", modelID, file)
		return "", fmt.Sprintf("Failed to check %s: %v", file, err)
	}
	latestVersion := latest.LatestVersion()
	if latestVersion == nil {
		return "", fmt.Sprintf("No versions found for model %s (%s)", modelID, file)
	}

	if currentVersionID == models.IDString(latestVersion.ID) {
		log.Debugf("%s is up to date (version %s)", file, currentVersionID)
		return "", ""
	}

	modelName := latest.Name
	if modelName == "" {
		modelName = fmt.Sprintf("Model %s", modelID)
	}
	browseURL := fmt.Sprintf("https://civitai.com/models/%s?modelVersionId=%d", modelID, latestVersion.ID)
	return fmt.Sprintf("NEW VERSION of %s available: [Open in browser](%s)", modelName, browseURL), ""
}

// extractIDs pulls (model id, current version id) out of a metadata sidecar.
// It tries the standard catalog shape (id, modelVersions[0].id) first and
// falls back to the alternate shape nested under a 'civitai' key
// (civitai.modelId, civitai.id) when either is missing. Ids are normalized
// to strings; numbers are decoded with json.Number so "1000" and 1000 agree.
func extractIDs(data []byte) (modelID, versionID string) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var meta map[string]interface{}
	if err := dec.Decode(&meta); err != nil {
		log.WithError(err).Debug("Unparsable metadata sidecar")
		return "", ""
	}

	modelID = idString(meta["id"])
	if versions, ok := meta["modelVersions"].([]interface{}); ok && len(versions) > 0 {
		if first, ok := versions[0].(map[string]interface{}); ok {
			versionID = idString(first["id"])
		}
	}

	if modelID == "" || versionID == "" {
		if civitai, ok := meta["civitai"].(map[string]interface{}); ok {
			modelID = idString(civitai["modelId"])
			versionID = idString(civitai["id"])
		}
	}
	return modelID, versionID
}

func combined(updates, errs []string) []string {
	out := make([]string, 0, len(updates)+len(errs))
	out = append(out, updates...)
	return append(out, errs...)
}

// idString normalizes a loosely-typed id field to its string form; nil and
// unrecognized types become "".
func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
