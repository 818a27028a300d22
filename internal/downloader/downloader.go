package downloader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"civitai-model-sync/internal/api"
	"civitai-model-sync/internal/helpers"
	"civitai-model-sync/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	ErrHashMismatch = errors.New("downloaded file hash mismatch")
	ErrFileSystem   = errors.New("filesystem error")
	ErrHttpRequest  = errors.New("HTTP request error")
)

// Outcome is the terminal state of one download.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeAlreadyExists
	OutcomeCancelled
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "Done"
	case OutcomeAlreadyExists:
		return "AlreadyExists"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return "Error"
	}
}

// Result is the outcome of a download plus the destination path and, for
// OutcomeError, the cause.
type Result struct {
	Outcome Outcome
	Path    string
	Err     error
}

// Progress is a rate-limited snapshot emitted while streaming.
type Progress struct {
	Transferred uint64
	Total       uint64        // 0 when the content length is unknown
	Percent     float64       // 0 when Total is unknown
	BytesPerSec float64
	ETA         time.Duration // 0 when not computable
}

const (
	defaultChunkSize        = 32 * 1024
	defaultProgressInterval = 500 * time.Millisecond
)

// Engine streams model files to disk in fixed-size chunks with cooperative
// cancellation. Cancelling deletes the partial file; a plain I/O failure
// leaves it in place and the caller must treat the content as unreliable.
type Engine struct {
	Client           *http.Client
	ApiKey           string
	ChunkSize        int
	ProgressInterval time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
}

// NewEngine creates a download engine. A nil client gets a default with a
// generous timeout suited to multi-gigabyte transfers.
func NewEngine(client *http.Client, apiKey string) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &Engine{
		Client:           client,
		ApiKey:           apiKey,
		ChunkSize:        defaultChunkSize,
		ProgressInterval: defaultProgressInterval,
		MaxAttempts:      api.DefaultMaxAttempts,
		RetryDelay:       api.DefaultRetryDelay,
	}
}

// Download streams url to destPath. If the destination already exists the
// transfer is skipped entirely (the caller still backfills sidecars). When
// the catalog supplied file hashes, the finished file is verified against
// them. onProgress may be nil.
func (e *Engine) Download(destPath, url string, expected models.Hashes, job *Job, onProgress func(Progress)) Result {
	if _, err := os.Stat(destPath); err == nil {
		log.Infof("Model already exists: %s. Skipping download.", destPath)
		return Result{Outcome: OutcomeAlreadyExists, Path: destPath}
	}

	if !helpers.CheckAndMakeDir(filepath.Dir(destPath)) {
		return Result{Outcome: OutcomeError, Path: destPath,
			Err: fmt.Errorf("%w: failed to create directory %s", ErrFileSystem, filepath.Dir(destPath))}
	}

	headers := map[string]string{}
	if e.ApiKey != "" {
		headers["Authorization"] = "Bearer " + e.ApiKey
	}
	resp, err := api.RobustGet(e.Client, url, headers, e.MaxAttempts, e.RetryDelay)
	if err != nil {
		log.WithError(err).Errorf("Error downloading from %s", url)
		return Result{Outcome: OutcomeError, Path: destPath, Err: fmt.Errorf("%w: %v", ErrHttpRequest, err)}
	}
	defer resp.Body.Close()

	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}
	job.setTotal(total)
	log.Infof("Downloading to %s (Size: %s)...", destPath, helpers.BytesToSize(total))

	f, err := os.Create(destPath)
	if err != nil {
		return Result{Outcome: OutcomeError, Path: destPath,
			Err: fmt.Errorf("%w: creating %s: %v", ErrFileSystem, destPath, err)}
	}

	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	interval := e.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}

	buf := make([]byte, chunkSize)
	startTime := time.Now()
	lastEmit := time.Time{}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if job.Cancelled() {
				f.Close()
				if removeErr := os.Remove(destPath); removeErr != nil {
					log.WithError(removeErr).Warnf("Failed to remove partial file %s after cancellation", destPath)
				}
				log.Infof("Download cancelled, partial file deleted: %s", destPath)
				return Result{Outcome: OutcomeCancelled, Path: destPath}
			}
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				log.WithError(writeErr).Errorf("Error writing %s", destPath)
				return Result{Outcome: OutcomeError, Path: destPath,
					Err: fmt.Errorf("%w: writing %s: %v", ErrFileSystem, destPath, writeErr)}
			}
			job.addTransferred(n)

			if onProgress != nil && time.Since(lastEmit) >= interval {
				onProgress(snapshot(job, startTime))
				lastEmit = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			log.WithError(readErr).Errorf("Error reading response body for %s", url)
			return Result{Outcome: OutcomeError, Path: destPath,
				Err: fmt.Errorf("%w: reading body: %v", ErrHttpRequest, readErr)}
		}
	}

	if err := f.Close(); err != nil {
		return Result{Outcome: OutcomeError, Path: destPath,
			Err: fmt.Errorf("%w: closing %s: %v", ErrFileSystem, destPath, err)}
	}
	if onProgress != nil {
		onProgress(snapshot(job, startTime))
	}

	hashesProvided := expected.SHA256 != "" || expected.BLAKE3 != "" || expected.CRC32 != ""
	if hashesProvided && !helpers.CheckHash(destPath, expected) {
		log.Errorf("Hash mismatch for downloaded file %s, removing it", destPath)
		if removeErr := os.Remove(destPath); removeErr != nil {
			log.WithError(removeErr).Warnf("Failed to remove %s after hash mismatch", destPath)
		}
		return Result{Outcome: OutcomeError, Path: destPath, Err: ErrHashMismatch}
	}

	log.Infof("Successfully downloaded %s (%s)", destPath, helpers.BytesToSize(job.Transferred()))
	return Result{Outcome: OutcomeDone, Path: destPath}
}

func snapshot(job *Job, startTime time.Time) Progress {
	transferred := job.Transferred()
	total := job.Total()
	p := Progress{Transferred: transferred, Total: total}

	elapsed := time.Since(startTime).Seconds()
	if elapsed > 0 {
		p.BytesPerSec = float64(transferred) / elapsed
	}
	if total > 0 {
		p.Percent = float64(transferred) / float64(total) * 100
		if p.BytesPerSec > 0 && transferred <= total {
			p.ETA = time.Duration(float64(total-transferred) / p.BytesPerSec * float64(time.Second))
		}
	}
	return p
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	disallowedRe = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
)

// SanitizeFilename strips path components, collapses whitespace runs in the
// base name to single hyphens and drops everything outside [A-Za-z0-9_-].
// The original extension is preserved verbatim.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	base = whitespaceRe.ReplaceAllString(base, "-")
	base = disallowedRe.ReplaceAllString(base, "")
	return base + ext
}
