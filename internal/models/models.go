package models

import "strconv"

type (
	Config struct {
		// Connection/Auth
		ApiKey string `toml:"ApiKey"`

		// Paths
		ModelsRoot     string `toml:"ModelsRoot"`     // Root of the model library (default "models")
		LycorisFolder  string `toml:"LycorisFolder"`  // Subfolder for LyCORIS models (default "Lora")
		LoconFolder    string `toml:"LoconFolder"`    // Subfolder for LoCon models (default "Lora")
		CachePath      string `toml:"CachePath"`      // Bitcask lookup cache location
		BleveIndexPath string `toml:"BleveIndexPath"` // Full-text index over metadata sidecars

		// HTTP boundary
		ListenAddr string `toml:"ListenAddr"`

		// API behavior
		ApiClientTimeoutSec int  `toml:"ApiClientTimeoutSec"`
		LogApiRequests      bool `toml:"LogApiRequests"`
	}

	// Model is the catalog record for a model as returned by /models/{id},
	// reduced to the fields this tool consumes. It is also the shape written
	// to <base>.metadata.json sidecars: version entries never carry a
	// backlink to their parent model (see VersionResponse).
	Model struct {
		ID            int            `json:"id"`
		Name          string         `json:"name"`
		Description   string         `json:"description"`
		Type          string         `json:"type"`
		Tags          []string       `json:"tags,omitempty"`
		ModelVersions []ModelVersion `json:"modelVersions"`
	}

	// ModelVersion is the stored (backlink-free) shape of a catalog version.
	ModelVersion struct {
		ID           int          `json:"id"`
		ModelId      int          `json:"modelId"`
		Name         string       `json:"name"`
		BaseModel    string       `json:"baseModel,omitempty"`
		TrainedWords []string     `json:"trainedWords,omitempty"`
		Files        []File       `json:"files"`
		Images       []ModelImage `json:"images"`
		DownloadUrl  string       `json:"downloadUrl,omitempty"`
	}

	// VersionResponse is the wire shape of /model-versions/by-hash/{hash}:
	// a version plus an embedded backlink to its parent model. The backlink
	// must be stripped before anything is written to disk.
	VersionResponse struct {
		ModelVersion
		Model BaseModelInfo `json:"model"`
	}

	// BaseModelInfo is the nested 'model' field of a by-hash response.
	BaseModelInfo struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Nsfw bool   `json:"nsfw"`
	}

	File struct {
		Name        string  `json:"name"`
		ID          int     `json:"id"`
		SizeKB      float64 `json:"sizeKB"`
		Type        string  `json:"type"`
		Hashes      Hashes  `json:"hashes"`
		DownloadUrl string  `json:"downloadUrl"`
		Primary     bool    `json:"primary"`
	}

	Hashes struct {
		AutoV2 string `json:"AutoV2"`
		SHA256 string `json:"SHA256"`
		CRC32  string `json:"CRC32"`
		BLAKE3 string `json:"BLAKE3"`
	}

	ModelImage struct {
		URL    string `json:"url"`
		Width  int    `json:"width,omitempty"`
		Height int    `json:"height,omitempty"`
	}
)

// Stored returns the backlink-free version record.
func (v VersionResponse) Stored() ModelVersion {
	return v.ModelVersion
}

// AsModel synthesizes a metadata record from a by-hash lookup, wrapping the
// stored version as the single entry of ModelVersions. The parent id comes
// from the version's declared modelId.
func (v VersionResponse) AsModel() Model {
	return Model{
		ID:            v.ModelId,
		Name:          v.Model.Name,
		Type:          v.Model.Type,
		ModelVersions: []ModelVersion{v.Stored()},
	}
}

// LatestVersion returns the first (most recent) version, or nil.
func (m Model) LatestVersion() *ModelVersion {
	if len(m.ModelVersions) == 0 {
		return nil
	}
	return &m.ModelVersions[0]
}

// VersionByID returns the version whose id matches, or nil. Identity is
// compared as strings since locally stored ids may predate the numeric
// scheme.
func (m Model) VersionByID(id string) *ModelVersion {
	for i := range m.ModelVersions {
		if IDString(m.ModelVersions[i].ID) == id {
			return &m.ModelVersions[i]
		}
	}
	return nil
}

// IDString normalizes a version or model id to its string form.
func IDString(id int) string {
	return strconv.Itoa(id)
}
