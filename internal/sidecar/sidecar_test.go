package sidecar

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"civitai-model-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.jpg", true},
		{"https://example.com/a.JPEG", true},
		{"https://example.com/a.png", true},
		{"https://example.com/a.webp", true},
		{"https://example.com/a.png?width=450", true},
		{"https://example.com/a.mp4", false},
		{"https://example.com/a.gif", false},
		{"https://example.com/noext", false},
	}
	for _, tt := range tests {
		if got := IsSupportedImage(tt.url); got != tt.want {
			t.Errorf("IsSupportedImage(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestPreviewExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/a.png", ".png"},
		{"https://example.com/a.webp", ".webp"},
		{"https://example.com/a.png?width=450", ".png"},
		{"https://example.com/noext", ".jpg"},
		// Suspiciously long "extension" falls back to .jpg.
		{"https://example.com/file.something", ".jpg"},
	}
	for _, tt := range tests {
		if got := PreviewExtension(tt.url); got != tt.want {
			t.Errorf("PreviewExtension(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestResolvePreviewURL(t *testing.T) {
	info := models.Model{
		ModelVersions: []models.ModelVersion{
			{Images: []models.ModelImage{
				{URL: "https://example.com/clip.mp4"},
				{URL: "https://example.com/pic.png"},
			}},
		},
	}

	// An explicitly supplied supported URL wins.
	assert.Equal(t, "https://example.com/x.jpg",
		ResolvePreviewURL(info, "https://example.com/x.jpg"))

	// An unsupported explicit URL falls through to the version scan, which
	// skips the video and lands on the first image.
	assert.Equal(t, "https://example.com/pic.png",
		ResolvePreviewURL(info, "https://example.com/clip.mp4"))

	// Nothing usable anywhere.
	assert.Equal(t, "", ResolvePreviewURL(models.Model{}, ""))
}

func testModel() models.Model {
	return models.Model{
		ID:          123,
		Name:        "Test Model",
		Description: "A description",
		Type:        "LORA",
		ModelVersions: []models.ModelVersion{
			{
				ID:           456,
				ModelId:      123,
				Name:         "v2",
				TrainedWords: []string{"word1", "word2"},
			},
		},
	}
}

func TestSyncWritesSidecarFamily(t *testing.T) {
	previewServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer previewServer.Close()

	dir := t.TempDir()
	s := New(previewServer.Client())
	s.RetryDelay = time.Millisecond

	info := testModel()
	previewURL := previewServer.URL + "/pic.png"
	require.NoError(t, s.Sync(dir, "model.safetensors", info, previewURL, info.LatestVersion()))

	// Metadata sidecar round-trips and carries no backlink field.
	metaBytes, err := os.ReadFile(filepath.Join(dir, "model.metadata.json"))
	require.NoError(t, err)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(metaBytes, &meta))
	assert.Equal(t, "Test Model", meta["name"])
	versions := meta["modelVersions"].([]interface{})
	require.Len(t, versions, 1)
	assert.NotContains(t, versions[0].(map[string]interface{}), "model")

	// Preview saved with the URL's extension.
	img, err := os.ReadFile(filepath.Join(dir, "model.preview.png"))
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(img))

	// UI info blob seeded with defaults and refreshed fields.
	infoBytes, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)
	var ui map[string]interface{}
	require.NoError(t, json.Unmarshal(infoBytes, &ui))
	assert.Equal(t, "A description", ui["description"])
	assert.Equal(t, "word1, word2,", ui["activation text"])
	assert.Equal(t, "", ui["sd version"])
	assert.Equal(t, float64(0), ui["preferred weight"])
	assert.Equal(t, "", ui["negative text"])
	assert.Equal(t, "", ui["notes"])
}

func TestSyncPreviewFailureIsNotFatal(t *testing.T) {
	previewServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer previewServer.Close()

	dir := t.TempDir()
	s := New(previewServer.Client())
	s.MaxAttempts = 1
	s.RetryDelay = time.Millisecond

	info := testModel()
	err := s.Sync(dir, "model.safetensors", info, previewServer.URL+"/pic.png", info.LatestVersion())
	require.NoError(t, err, "a failed preview fetch must not fail the sync")

	_, err = os.Stat(filepath.Join(dir, "model.metadata.json"))
	assert.NoError(t, err, "metadata must still be written")
	_, err = os.Stat(filepath.Join(dir, "model.preview.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncPreservesUserEditedInfo(t *testing.T) {
	dir := t.TempDir()
	s := New(http.DefaultClient)

	userEdited := map[string]interface{}{
		"description":      "stale description",
		"activation text":  "stale,",
		"sd version":       "SDXL",
		"preferred weight": 0.7,
		"negative text":    "bad hands",
		"notes":            "my notes",
	}
	data, _ := json.Marshal(userEdited)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), data, 0600))

	info := testModel()
	require.NoError(t, s.Sync(dir, "model.safetensors", info, "", info.LatestVersion()))

	infoBytes, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)
	var ui map[string]interface{}
	require.NoError(t, json.Unmarshal(infoBytes, &ui))

	// Catalog-owned fields are refreshed.
	assert.Equal(t, "A description", ui["description"])
	assert.Equal(t, "word1, word2,", ui["activation text"])
	// User-owned fields survive.
	assert.Equal(t, "SDXL", ui["sd version"])
	assert.Equal(t, 0.7, ui["preferred weight"])
	assert.Equal(t, "bad hands", ui["negative text"])
	assert.Equal(t, "my notes", ui["notes"])
}

func TestSyncUnparsableInfoStartsFromDefaults(t *testing.T) {
	dir := t.TempDir()
	s := New(http.DefaultClient)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), []byte("{not json"), 0600))

	info := testModel()
	require.NoError(t, s.Sync(dir, "model.safetensors", info, "", info.LatestVersion()))

	infoBytes, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)
	var ui map[string]interface{}
	require.NoError(t, json.Unmarshal(infoBytes, &ui))
	assert.Equal(t, "A description", ui["description"])
	assert.Equal(t, "", ui["sd version"])
}

func TestSyncIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(http.DefaultClient)
	info := testModel()

	require.NoError(t, s.Sync(dir, "model.safetensors", info, "", info.LatestVersion()))
	first, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)

	require.NoError(t, s.Sync(dir, "model.safetensors", info, "", info.LatestVersion()))
	second, err := os.ReadFile(filepath.Join(dir, "model.json"))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}
