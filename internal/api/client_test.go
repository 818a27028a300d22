package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient("test-key", server.Client())
	client.BaseUrl = server.URL
	return client
}

func TestGetModel(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{
			"id": 123,
			"name": "Test Model",
			"type": "LORA",
			"tags": ["style"],
			"modelVersions": [
				{"id": 456, "modelId": 123, "name": "v2"},
				{"id": 455, "modelId": 123, "name": "v1"}
			]
		}`)
	})

	model, err := client.GetModel("123")
	require.NoError(t, err)
	assert.Equal(t, "/models/123", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "Test Model", model.Name)
	assert.Equal(t, "LORA", model.Type)

	latest := model.LatestVersion()
	require.NotNil(t, latest)
	assert.Equal(t, 456, latest.ID)

	assert.NotNil(t, model.VersionByID("455"))
	assert.Nil(t, model.VersionByID("999"))
}

func TestGetModelRemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetModel("123")
	require.Error(t, err)

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusTooManyRequests, remoteErr.Status)
}

func TestGetVersionByHash(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{
			"id": 456,
			"modelId": 123,
			"name": "v2",
			"model": {"name": "Test Model", "type": "LORA"},
			"files": [{"name": "test.safetensors", "downloadUrl": "https://example/f"}],
			"images": [{"url": "https://example/p.png"}]
		}`)
	})

	version, err := client.GetVersionByHash("abcd")
	require.NoError(t, err)
	require.NotNil(t, version)
	assert.Equal(t, "/model-versions/by-hash/abcd", gotPath)
	assert.Equal(t, 456, version.ID)
	assert.Equal(t, "Test Model", version.Model.Name)

	// The synthesized record wraps the stored version and drops the backlink.
	asModel := version.AsModel()
	assert.Equal(t, 123, asModel.ID)
	assert.Equal(t, "LORA", asModel.Type)
	require.Len(t, asModel.ModelVersions, 1)
	assert.Equal(t, 456, asModel.ModelVersions[0].ID)
}

func TestGetVersionByHashNoMatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	version, err := client.GetVersionByHash("unknown")
	require.NoError(t, err, "a 404 is a valid no-match outcome, not an error")
	assert.Nil(t, version)
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantModel   string
		wantVersion string
		wantErr     bool
	}{
		{"Bare id", "12345", "12345", "", false},
		{"Plain URL", "https://civitai.com/models/12345", "12345", "", false},
		{"URL with slug", "https://civitai.com/models/12345/my-model", "12345", "", false},
		{"URL with version", "https://civitai.com/models/12345?modelVersionId=678", "12345", "678", false},
		{"Green domain", "https://civitai.green/models/99", "99", "", false},
		{"WWW prefix", "https://www.civitai.com/models/7", "7", "", false},
		{"Pasted text around URL", "check this https://civitai.com/models/55?modelVersionId=2 out", "55", "2", false},
		{"Whitespace trimmed", "  321  ", "321", "", false},
		{"Empty", "", "", "", true},
		{"Garbage", "not a model", "", "", true},
		{"Wrong host", "https://example.com/models/5", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modelID, versionID, err := ParseModelRef(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoModelID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, modelID)
			assert.Equal(t, tt.wantVersion, versionID)
		})
	}
}
