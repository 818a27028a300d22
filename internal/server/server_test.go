package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"civitai-model-sync/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer builds a server over a temp models root. The root contains a
// "models" path segment so the symlink-escape check can pass for legitimate
// files.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "models")
	require.NoError(t, os.MkdirAll(root, 0700))
	return New(models.Config{ModelsRoot: root}), root
}

func doRequest(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	s.Router().ServeHTTP(w, req)
	return w
}

func TestMetadataRoundTrip(t *testing.T) {
	s, root := newTestServer(t)
	metaPath := filepath.Join(root, "model.metadata.json")
	require.NoError(t, os.WriteFile(metaPath, []byte(`{"name": "Test", "id": 5}`), 0600))

	w := doRequest(s, http.MethodGet, "/api/metadata?path="+metaPath, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	assert.Equal(t, "Test", parsed["name"])
	assert.Equal(t, float64(5), parsed["id"])
}

func TestMetadataRejections(t *testing.T) {
	s, root := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{"Wrong suffix", filepath.Join(root, "model.json"), http.StatusForbidden},
		{"Weight file", filepath.Join(root, "model.safetensors"), http.StatusForbidden},
		{"Traversal", filepath.Join(root, "..", "x.metadata.json"), http.StatusForbidden},
		{"Outside root", "/etc/x.metadata.json", http.StatusForbidden},
		{"Missing file", filepath.Join(root, "nope.metadata.json"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodGet, "/api/metadata?path="+tt.path, nil)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func deleteBody(t *testing.T, path string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{"model_path": path})
	require.NoError(t, err)
	return body
}

func TestDeleteModelRemovesSidecarFamily(t *testing.T) {
	s, root := newTestServer(t)

	modelPath := filepath.Join(root, "model.safetensors")
	family := []string{
		"model.safetensors",
		"model.metadata.json",
		"model.sha256",
		"model.json",
		"model.preview.png",
	}
	for _, name := range family {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0600))
	}
	// An unrelated file sharing the folder must survive.
	bystander := filepath.Join(root, "other.safetensors")
	require.NoError(t, os.WriteFile(bystander, []byte("x"), 0600))

	w := doRequest(s, http.MethodPost, "/api/delete_model", deleteBody(t, modelPath))
	require.Equal(t, http.StatusOK, w.Code)

	for _, name := range family {
		_, err := os.Stat(filepath.Join(root, name))
		assert.True(t, os.IsNotExist(err), "expected %s to be deleted", name)
	}
	_, err := os.Stat(bystander)
	assert.NoError(t, err)
}

func TestDeleteModelRejections(t *testing.T) {
	s, root := newTestServer(t)

	t.Run("No path", func(t *testing.T) {
		w := doRequest(s, http.MethodPost, "/api/delete_model", []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		w := doRequest(s, http.MethodPost, "/api/delete_model", []byte(`{not json`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Traversal", func(t *testing.T) {
		w := doRequest(s, http.MethodPost, "/api/delete_model",
			deleteBody(t, filepath.Join(root, "..", "victim.safetensors")))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Outside root", func(t *testing.T) {
		w := doRequest(s, http.MethodPost, "/api/delete_model",
			deleteBody(t, "/etc/passwd"))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Missing file", func(t *testing.T) {
		w := doRequest(s, http.MethodPost, "/api/delete_model",
			deleteBody(t, filepath.Join(root, "ghost.safetensors")))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteModelSymlinkEscape(t *testing.T) {
	s, root := newTestServer(t)

	// The symlink lives under the models root but its target does not.
	outside := t.TempDir()
	target := filepath.Join(outside, "victim.safetensors")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0600))

	link := filepath.Join(root, "link.safetensors")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	w := doRequest(s, http.MethodPost, "/api/delete_model", deleteBody(t, link))
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := os.Stat(target)
	assert.NoError(t, err, "the symlink target must not be deleted")
}
