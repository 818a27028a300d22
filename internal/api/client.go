package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"civitai-model-sync/internal/models"

	log "github.com/sirupsen/logrus"
)

const CivitaiApiBaseUrl = "https://civitai.com/api/v1"

// ErrNoModelID is returned when a model reference cannot be parsed.
var ErrNoModelID = errors.New("could not parse model ID from URL or input")

// RemoteError is a non-2xx response from the catalog.
type RemoteError struct {
	Status int
	URL    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("API request to %s failed with status %d", e.URL, e.Status)
}

// Client talks to the Civitai catalog's read endpoints. Metadata lookups
// fail fast: retrying is left to binary fetches (see RobustGet), batch
// callers log per-item failures and move on.
type Client struct {
	ApiKey     string
	BaseUrl    string
	HttpClient *http.Client
}

// NewClient creates a catalog client. A nil httpClient gets a default with a
// 30 second timeout.
func NewClient(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		ApiKey:     apiKey,
		BaseUrl:    CivitaiApiBaseUrl,
		HttpClient: httpClient,
	}
}

func (c *Client) get(reqURL string) (*http.Response, error) {
	req, err := http.NewRequest("GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.ApiKey)
	}
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error performing request for %s: %w", reqURL, err)
	}
	return resp, nil
}

// GetModel fetches a catalog record by numeric model id.
func (c *Client) GetModel(modelID string) (models.Model, error) {
	reqURL := fmt.Sprintf("%s/models/%s", c.BaseUrl, modelID)
	resp, err := c.get(reqURL)
	if err != nil {
		return models.Model{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debugf("Model lookup for %s returned status %d", modelID, resp.StatusCode)
		return models.Model{}, &RemoteError{Status: resp.StatusCode, URL: reqURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Model{}, fmt.Errorf("error reading response body: %w", err)
	}
	var model models.Model
	if err := json.Unmarshal(body, &model); err != nil {
		log.WithError(err).Errorf("Error unmarshalling model %s response", modelID)
		return models.Model{}, fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return model, nil
}

// GetVersionByHash looks up a model version by SHA-256 content hash. A 404
// is a valid "no match" outcome and returns (nil, nil).
func (c *Client) GetVersionByHash(sha256Hex string) (*models.VersionResponse, error) {
	reqURL := fmt.Sprintf("%s/model-versions/by-hash/%s", c.BaseUrl, sha256Hex)
	resp, err := c.get(reqURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Debugf("No catalog match for hash %s", sha256Hex)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Status: resp.StatusCode, URL: reqURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	var version models.VersionResponse
	if err := json.Unmarshal(body, &version); err != nil {
		log.WithError(err).Error("Error unmarshalling by-hash response")
		return nil, fmt.Errorf("error unmarshalling response JSON: %w", err)
	}
	return &version, nil
}

var (
	modelPathRe    = regexp.MustCompile(`^/models/(\d+)`)
	modelAnyRe     = regexp.MustCompile(`civitai\.(?:com|green)/models/(\d+)`)
	versionParamRe = regexp.MustCompile(`modelVersionId=(\d+)`)
)

// ParseModelRef extracts (model id, optional version id) from a bare numeric
// id or a civitai.com / civitai.green model URL.
func ParseModelRef(input string) (modelID string, versionID string, err error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", "", ErrNoModelID
	}
	if isDigits(trimmed) {
		return trimmed, "", nil
	}

	if parsed, parseErr := url.Parse(trimmed); parseErr == nil {
		switch parsed.Hostname() {
		case "civitai.com", "www.civitai.com", "civitai.green", "www.civitai.green":
			if m := modelPathRe.FindStringSubmatch(parsed.Path); m != nil {
				return m[1], parsed.Query().Get("modelVersionId"), nil
			}
		}
	}

	// Fall back to a loose scan for pasted text that isn't a clean URL.
	if m := modelAnyRe.FindStringSubmatch(trimmed); m != nil {
		versionID := ""
		if v := versionParamRe.FindStringSubmatch(trimmed); v != nil {
			versionID = v[1]
		}
		return m[1], versionID, nil
	}
	return "", "", ErrNoModelID
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
