package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"civitai-model-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain name", "model.safetensors", "model.safetensors"},
		{"Spaces to hyphens", "my model.safetensors", "my-model.safetensors"},
		{"Whitespace run collapses", "my   model\tv2.ckpt", "my-model-v2.ckpt"},
		{"Disallowed chars stripped", "My Model v2.1 (final)!!.safetensors", "My-Model-v21-final.safetensors"},
		{"Path components stripped", "../../etc/passwd.pt", "passwd.pt"},
		{"Windows path stripped", `C:\models\evil name.pt`, "evil-name.pt"},
		{"Underscores kept", "snake_case_name.pth", "snake_case_name.pth"},
		{"No extension", "just a name", "just-a-name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func newTestEngine(client *http.Client) *Engine {
	e := NewEngine(client, "test-key")
	e.ProgressInterval = time.Millisecond
	e.RetryDelay = time.Millisecond
	e.MaxAttempts = 1
	return e
}

func TestDownloadDone(t *testing.T) {
	content := strings.Repeat("x", 100*1024) // several chunks worth
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(content))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "model.safetensors")
	engine := newTestEngine(server.Client())
	job := NewRegistry().Begin("42")

	var sawProgress bool
	result := engine.Download(destPath, server.URL, models.Hashes{}, job, func(p Progress) {
		sawProgress = true
	})

	require.Equal(t, OutcomeDone, result.Outcome)
	require.NoError(t, result.Err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.True(t, sawProgress, "expected at least one progress callback")
	assert.Equal(t, uint64(len(content)), job.Transferred())

	data, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestDownloadAlreadyExists(t *testing.T) {
	destPath := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(destPath, []byte("existing"), 0600))

	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	engine := newTestEngine(server.Client())
	job := NewRegistry().Begin("42")
	result := engine.Download(destPath, server.URL, models.Hashes{}, job, nil)

	assert.Equal(t, OutcomeAlreadyExists, result.Outcome)
	assert.False(t, requested, "existing file must short-circuit before any HTTP request")

	data, _ := os.ReadFile(destPath)
	assert.Equal(t, "existing", string(data), "existing file must not be touched")
}

func TestDownloadCancelRemovesPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("y", 64*1024)))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "model.safetensors")
	engine := newTestEngine(server.Client())
	job := NewRegistry().Begin("42")
	job.RequestCancel() // takes effect at the first chunk boundary

	result := engine.Download(destPath, server.URL, models.Hashes{}, job, nil)

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	_, err := os.Stat(destPath)
	assert.True(t, os.IsNotExist(err), "partial file must be deleted on cancellation")
}

func TestDownloadHashMismatchRemovesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not the promised content"))
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "model.safetensors")
	engine := newTestEngine(server.Client())
	job := NewRegistry().Begin("42")

	expected := models.Hashes{SHA256: strings.Repeat("0", 64)}
	result := engine.Download(destPath, server.URL, expected, job, nil)

	require.Equal(t, OutcomeError, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrHashMismatch)
	_, err := os.Stat(destPath)
	assert.True(t, os.IsNotExist(err), "file failing verification must be deleted")
}

func TestDownloadHashMatchKeepsFile(t *testing.T) {
	content := []byte("verified content")
	sum := sha256.Sum256(content)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "model.safetensors")
	engine := newTestEngine(server.Client())
	job := NewRegistry().Begin("42")

	expected := models.Hashes{SHA256: hex.EncodeToString(sum[:])}
	result := engine.Download(destPath, server.URL, expected, job, nil)

	require.Equal(t, OutcomeDone, result.Outcome)
	_, err := os.Stat(destPath)
	assert.NoError(t, err)
}

func TestDownloadHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "model.safetensors")
	engine := newTestEngine(server.Client())
	job := NewRegistry().Begin("42")

	result := engine.Download(destPath, server.URL, models.Hashes{}, job, nil)

	require.Equal(t, OutcomeError, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrHttpRequest)
	_, err := os.Stat(destPath)
	assert.True(t, os.IsNotExist(err), "no file should exist when the request never succeeded")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.Nil(t, r.Get("1"))
	assert.False(t, r.Cancel("1"), "cancelling an unknown id must report false")

	job := r.Begin("1")
	assert.Same(t, job, r.Get("1"))
	assert.False(t, job.Cancelled())

	assert.True(t, r.Cancel("1"))
	assert.True(t, job.Cancelled())

	// Beginning again resets the cancellation flag.
	job2 := r.Begin("1")
	assert.False(t, job2.Cancelled())
	assert.Same(t, job2, r.Get("1"))

	r.End("1")
	assert.Nil(t, r.Get("1"))
}
