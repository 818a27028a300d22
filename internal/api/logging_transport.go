package api

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper to dump request and response
// details to a log file. Enabled by the LogApiRequests config flag.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

var (
	openTransportsMu sync.Mutex
	openTransports   []*LoggingTransport
)

// NewLoggingTransport creates a LoggingTransport appending to logFilePath.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	t := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}

	openTransportsMu.Lock()
	openTransports = append(openTransports, t)
	openTransportsMu.Unlock()
	return t, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startTime := time.Now()
	if reqDump, err := httputil.DumpRequestOut(req, false); err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", startTime.Format(time.RFC3339), string(reqDump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, err.Error()))
	} else {
		// Headers only; bodies are either large binaries or already logged
		// by the caller on unmarshal failure.
		contentType := resp.Header.Get("Content-Type")
		if respDump, dumpErr := httputil.DumpResponse(resp, false); dumpErr != nil {
			log.WithError(dumpErr).Error("Failed to dump API response headers")
			t.writeLog(fmt.Sprintf("--- Response (Duration: %v, Type: %s) ---\nStatus: %s", duration, contentType, resp.Status))
		} else {
			t.writeLog(fmt.Sprintf("--- Response (Duration: %v, Type: %s) ---\n%s", duration, contentType, strings.TrimRight(string(respDump), "\r\n")))
		}
	}

	t.writer.Flush()
	return resp, err
}

func (t *LoggingTransport) writeLog(logString string) {
	if _, err := t.writer.WriteString(logString + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// CloseAllLoggingTransports closes every transport opened by this process.
// Called from main on exit.
func CloseAllLoggingTransports() {
	openTransportsMu.Lock()
	defer openTransportsMu.Unlock()
	for _, t := range openTransports {
		if err := t.Close(); err != nil {
			log.WithError(err).Error("Error closing API log file")
		}
	}
	openTransports = nil
}
