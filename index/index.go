package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"civitai-model-sync/internal/inventory"
	"civitai-model-sync/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "models.bleve"

// Entry is one locally installed model in the full-text index, built from
// its metadata sidecar. All fields are searchable by their lowercase JSON
// tag names (e.g. '+type:LORA' or '+tags:style').
type Entry struct {
	Path         string   `json:"path"` // model weight file path (document key)
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	TrainedWords []string `json:"trainedWords,omitempty"`
	BaseModel    string   `json:"baseModel,omitempty"`
	VersionName  string   `json:"versionName,omitempty"`
}

// OpenOrCreateIndex opens an existing index or creates a new one.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at %s", indexPath)
		mapping := bleve.NewIndexMapping()
		return bleve.New(indexPath, mapping)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Opened existing index at %s", indexPath)
	return idx, nil
}

// IndexModelFile indexes one model file from its metadata sidecar. Files
// without a metadata sidecar are skipped (returns false, nil).
func IndexModelFile(idx bleve.Index, folder, filename string) (bool, error) {
	data, err := os.ReadFile(inventory.MetadataPath(folder, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading metadata for %s: %w", filename, err)
	}

	var meta models.Model
	if err := json.Unmarshal(data, &meta); err != nil {
		return false, fmt.Errorf("parsing metadata for %s: %w", filename, err)
	}

	entry := Entry{
		Path:        filepath.Join(folder, filename),
		Name:        meta.Name,
		Type:        meta.Type,
		Description: meta.Description,
		Tags:        meta.Tags,
	}
	if version := meta.LatestVersion(); version != nil {
		entry.TrainedWords = version.TrainedWords
		entry.BaseModel = version.BaseModel
		entry.VersionName = version.Name
	}

	if err := idx.Index(entry.Path, entry); err != nil {
		return false, fmt.Errorf("indexing %s: %w", entry.Path, err)
	}
	return true, nil
}

// Search runs a query string search, returning all stored fields.
func Search(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at %s", indexPath)
	return os.RemoveAll(indexPath)
}
