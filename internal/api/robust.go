package api

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxAttempts is the retry budget for binary fetches.
	DefaultMaxAttempts = 5
	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 2 * time.Second
)

// RobustGet performs a GET with a bounded retry loop, used for image and
// model binary fetches where a transient hiccup shouldn't fail the whole
// operation. Any transport error or non-2xx status counts as a failed
// attempt; after maxAttempts the last error is returned. On success the
// response body is open and the caller owns closing it.
func RobustGet(client *http.Client, reqURL string, headers map[string]string, maxAttempts int, delay time.Duration) (*http.Response, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequest("GET", reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request for %s: %w", reqURL, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err == nil {
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				return resp, nil
			}
			resp.Body.Close()
			err = &RemoteError{Status: resp.StatusCode, URL: reqURL}
		}

		lastErr = err
		if attempt < maxAttempts {
			log.WithError(err).Warnf("Attempt %d/%d failed for %s, retrying in %s", attempt, maxAttempts, reqURL, delay)
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("request for %s failed after %d attempts: %w", reqURL, maxAttempts, lastErr)
}
