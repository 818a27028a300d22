package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"civitai-model-sync/internal/helpers"
	"civitai-model-sync/internal/models"

	log "github.com/sirupsen/logrus"
)

// Model type labels as the catalog reports them.
const (
	TypeCheckpoint       = "Checkpoint"
	TypeLora             = "LORA"
	TypeLycoris          = "LyCORIS"
	TypeLocon            = "LoCon"
	TypeLoha             = "LoHa"
	TypeDora             = "DoRA"
	TypeControlnet       = "Controlnet"
	TypeUpscaler         = "Upscaler"
	TypeVae              = "VAE"
	TypeTextualInversion = "TextualInversion"
	TypeHypernetwork     = "Hypernetwork"
)

// DefaultScanExclusions are the types the batch scanners skip.
var DefaultScanExclusions = map[string]bool{
	TypeControlnet: true,
	TypeUpscaler:   true,
	TypeVae:        true,
}

var modelExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
	".pth":         true,
}

// PreviewExtensions are the accepted preview image extensions, in preference
// order.
var PreviewExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// FolderMap maps each model type label to its folder under the models root.
// Folders may overlap (the LoRA variants usually share one); consumers must
// deduplicate by resolved path.
func FolderMap(cfg models.Config) map[string]string {
	root := cfg.ModelsRoot
	return map[string]string{
		TypeCheckpoint:       filepath.Join(root, "Stable-diffusion"),
		TypeLora:             filepath.Join(root, "Lora"),
		TypeLycoris:          filepath.Join(root, cfg.LycorisFolder),
		TypeLocon:            filepath.Join(root, cfg.LoconFolder),
		TypeLoha:             filepath.Join(root, "Lora"),
		TypeDora:             filepath.Join(root, "Lora"),
		TypeControlnet:       filepath.Join(root, "ControlNet"),
		TypeUpscaler:         filepath.Join(root, "ESRGAN"),
		TypeVae:              filepath.Join(root, "VAE"),
		TypeTextualInversion: filepath.Join(root, "embeddings"),
		TypeHypernetwork:     filepath.Join(root, "hypernetworks"),
	}
}

// Candidate is one model weight file found on disk.
type Candidate struct {
	Folder   string
	Filename string
}

// IsModelFile reports whether a file name has a model weight extension.
func IsModelFile(name string) bool {
	return modelExtensions[strings.ToLower(filepath.Ext(name))]
}

// UniqueFolders resolves the folder map to a deduplicated, sorted list of
// existing absolute folder paths, dropping excluded types. Missing folders
// are silently skipped.
func UniqueFolders(folderMap map[string]string, excludedTypes map[string]bool) []string {
	seen := make(map[string]bool)
	for modelType, folder := range folderMap {
		if excludedTypes[modelType] {
			continue
		}
		absFolder, err := filepath.Abs(folder)
		if err != nil {
			log.WithError(err).Warnf("Could not resolve folder %s for type %s", folder, modelType)
			continue
		}
		if info, err := os.Stat(absFolder); err != nil || !info.IsDir() {
			continue
		}
		seen[absFolder] = true
	}

	folders := make([]string, 0, len(seen))
	for folder := range seen {
		folders = append(folders, folder)
	}
	sort.Strings(folders)
	return folders
}

// ListCandidateFiles enumerates model weight files across all non-excluded
// folders. Each physical folder is visited exactly once no matter how many
// type labels point at it.
func ListCandidateFiles(folderMap map[string]string, excludedTypes map[string]bool) []Candidate {
	var candidates []Candidate
	for _, folder := range UniqueFolders(folderMap, excludedTypes) {
		entries, err := os.ReadDir(folder)
		if err != nil {
			log.WithError(err).Warnf("Could not list folder %s", folder)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsModelFile(entry.Name()) {
				continue
			}
			candidates = append(candidates, Candidate{Folder: folder, Filename: entry.Name()})
		}
	}
	return candidates
}

// BasePath returns the sidecar base path: folder/<filename without ext>.
func BasePath(folder, filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return filepath.Join(folder, base)
}

// MetadataPath returns the <base>.metadata.json path for a model file.
func MetadataPath(folder, filename string) string {
	return BasePath(folder, filename) + ".metadata.json"
}

// FindPreview returns the path of an existing <base>.preview.<ext> sidecar,
// or "" if none of the accepted extensions is present.
func FindPreview(folder, filename string) string {
	base := BasePath(folder, filename)
	for _, ext := range PreviewExtensions {
		p := base + ".preview" + ext
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Info summarizes which sidecars exist for a model file.
type Info struct {
	HasMetadata bool
	HasPreview  bool
}

// Inspect checks the sidecar family of a model file.
func Inspect(folder, filename string) Info {
	_, metaErr := os.Stat(MetadataPath(folder, filename))
	return Info{
		HasMetadata: metaErr == nil,
		HasPreview:  FindPreview(folder, filename) != "",
	}
}

// CachedSHA256 returns the model file's SHA-256, reading the <base>.sha256
// sidecar when present and computing (and caching) it otherwise.
func CachedSHA256(folder, filename string) (string, error) {
	hashPath := BasePath(folder, filename) + ".sha256"
	if data, err := os.ReadFile(hashPath); err == nil {
		cached := strings.TrimSpace(string(data))
		if cached != "" {
			return cached, nil
		}
	}

	fileHash, err := helpers.FileSHA256(filepath.Join(folder, filename))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(hashPath, []byte(fileHash), 0600); err != nil {
		// The digest is still usable; only the cache write failed.
		log.WithError(err).Warnf("Failed to write hash cache %s", hashPath)
	}
	return fileHash, nil
}

// ResolveFolder picks the destination folder for a catalog type, defaulting
// to the Checkpoint folder for unrecognized types.
func ResolveFolder(folderMap map[string]string, modelType string) string {
	if folder, ok := folderMap[modelType]; ok {
		return folder
	}
	return folderMap[TypeCheckpoint]
}

// EnsureFolder resolves and creates the destination folder for a type.
func EnsureFolder(folderMap map[string]string, modelType string) (string, error) {
	folder := ResolveFolder(folderMap, modelType)
	if !helpers.CheckAndMakeDir(folder) {
		return "", fmt.Errorf("failed to create folder %s", folder)
	}
	return folder, nil
}
