package scan

import (
	"errors"
	"fmt"
	"strings"

	"civitai-model-sync/internal/api"
	"civitai-model-sync/internal/database"
	"civitai-model-sync/internal/inventory"
	"civitai-model-sync/internal/models"
	"civitai-model-sync/internal/sidecar"

	log "github.com/sirupsen/logrus"
)

// Env bundles the collaborators the batch scanners need. Cache may be nil to
// always hit the catalog directly.
type Env struct {
	Client  *api.Client
	Sync    *sidecar.Synchronizer
	Control *Control
	Folders map[string]string
	Cache   *database.Cache
}

type missingItem struct {
	candidate inventory.Candidate
	missing   []string
}

// CheckMissingInfo scans the model library for files lacking a metadata or
// preview sidecar and repairs them via by-hash catalog lookups. Progress is
// delivered as cumulative human-readable strings; the latest report replaces
// the previous one. Per-file failures never abort the scan.
func (e *Env) CheckMissingInfo(report func(string)) {
	ok, holder := e.Control.TryAcquire(KindMissingInfo)
	if !ok {
		report(fmt.Sprintf("Another process is already running: %s", holder))
		return
	}
	defer e.Control.Release()

	// First pass: fixed work list so the progress denominator is stable.
	var items []missingItem
	for _, candidate := range inventory.ListCandidateFiles(e.Folders, inventory.DefaultScanExclusions) {
		info := inventory.Inspect(candidate.Folder, candidate.Filename)
		var missing []string
		if !info.HasMetadata {
			missing = append(missing, "metadata")
		}
		if !info.HasPreview {
			missing = append(missing, "preview")
		}
		if len(missing) > 0 {
			items = append(items, missingItem{candidate: candidate, missing: missing})
		}
	}

	total := len(items)
	if total == 0 {
		report("All models have metadata and preview.")
		return
	}

	var summary []string
	for idx, item := range items {
		if e.Control.Cancelled() {
			report(joinReport(summary, fmt.Sprintf("Cancelled after %d of %d files.", idx, total)))
			return
		}

		file := item.candidate.Filename
		missingList := strings.Join(item.missing, ", ")
		status := fmt.Sprintf("[%d/%d] Processing: %s (missing: %s)", idx+1, total, file, missingList)
		log.Info(status)
		report(joinReport(summary, status))

		msg := e.fixOne(item)
		summary = append(summary, msg)
		report(joinReport(summary, fmt.Sprintf("[%d/%d] ...", idx+1, total)))
	}
	report(joinReport(summary))
}

// fixOne repairs a single file and returns its report line.
func (e *Env) fixOne(item missingItem) string {
	folder := item.candidate.Folder
	file := item.candidate.Filename
	missingList := strings.Join(item.missing, ", ")

	fileHash, err := inventory.CachedSHA256(folder, file)
	if err != nil {
		log.WithError(err).Errorf("Failed to hash %s", file)
		return fmt.Sprintf("Failed: %s (%s) - %v", file, missingList, err)
	}

	version, err := e.lookupByHash(fileHash)
	if err != nil {
		log.WithError(err).Errorf("Lookup failed for %s", file)
		return fmt.Sprintf("Failed: %s (%s) - %v", file, missingList, err)
	}
	if version == nil {
		msg := fmt.Sprintf("Skipped: %s (%s) - No Civitai match for SHA256", file, missingList)
		log.Info(msg)
		return msg
	}

	stored := version.Stored()
	previewURL := ""
	if len(stored.Images) > 0 {
		previewURL = stored.Images[0].URL
	}
	if err := e.Sync.Sync(folder, file, version.AsModel(), previewURL, &stored); err != nil {
		log.WithError(err).Errorf("Sidecar sync failed for %s", file)
		return fmt.Sprintf("Failed: %s (%s) - %v", file, missingList, err)
	}

	msg := fmt.Sprintf("Fixed: %s (%s)", file, missingList)
	log.Info(msg)
	return msg
}

// lookupByHash consults the cache before the catalog and records results
// (including "no match") back into it.
func (e *Env) lookupByHash(fileHash string) (*models.VersionResponse, error) {
	if e.Cache != nil {
		if version, err := e.Cache.GetVersionByHash(fileHash); err == nil {
			log.Debugf("Lookup cache hit for hash %s", fileHash)
			return version, nil
		} else if !errors.Is(err, database.ErrNotFound) {
			log.WithError(err).Warnf("Lookup cache read failed for hash %s", fileHash)
		}
	}

	version, err := e.Client.GetVersionByHash(fileHash)
	if err != nil {
		return nil, err
	}
	if e.Cache != nil {
		if putErr := e.Cache.PutVersionByHash(fileHash, version); putErr != nil {
			log.WithError(putErr).Warnf("Lookup cache write failed for hash %s", fileHash)
		}
	}
	return version, nil
}

func joinReport(lines []string, extra ...string) string {
	all := append(append([]string{}, lines...), extra...)
	return strings.Join(all, "\n\n")
}
