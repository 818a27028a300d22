package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"strings"

	"civitai-model-sync/internal/models"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// FileSHA256 computes the hex-encoded SHA-256 digest of a file by streaming
// it; model files are routinely multiple gigabytes.
func FileSHA256(filepath string) (string, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", filepath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", filepath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckHash verifies a file against the hashes the catalog provided
// (BLAKE3, CRC32, SHA256). It returns true if any one of them matches.
func CheckHash(filepath string, hashes models.Hashes) bool {
	if _, err := os.Stat(filepath); err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error stating file %s during hash check", filepath)
		}
		return false
	}

	if hashes.BLAKE3 != "" {
		f, err := os.Open(filepath)
		if err != nil {
			log.WithError(err).Errorf("Error opening file %s for BLAKE3 check", filepath)
			return false
		}
		h := blake3.New(32, nil)
		_, copyErr := io.Copy(h, f)
		f.Close()
		if copyErr != nil {
			log.WithError(copyErr).Warnf("Error calculating BLAKE3 hash for %s", filepath)
		} else {
			calculated := strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
			if calculated == strings.ToUpper(strings.TrimSpace(hashes.BLAKE3)) {
				log.WithField("hash", "BLAKE3").Debugf("Hash match for %s", filepath)
				return true
			}
		}
	}

	if hashes.CRC32 != "" {
		f, err := os.Open(filepath)
		if err != nil {
			log.WithError(err).Errorf("Error opening file %s for CRC32 check", filepath)
			return false
		}
		h := crc32.NewIEEE()
		_, copyErr := io.Copy(h, f)
		f.Close()
		if copyErr != nil {
			log.WithError(copyErr).Warnf("Error calculating CRC32 hash for %s", filepath)
		} else {
			calculated := fmt.Sprintf("%x", h.Sum32())
			if calculated == strings.ToLower(strings.TrimSpace(hashes.CRC32)) {
				log.WithField("hash", "CRC32").Debugf("Hash match for %s", filepath)
				return true
			}
		}
	}

	if hashes.SHA256 != "" {
		calculated, err := FileSHA256(filepath)
		if err != nil {
			log.WithError(err).Warnf("Error calculating SHA256 hash for %s", filepath)
		} else if calculated == strings.ToLower(strings.TrimSpace(hashes.SHA256)) {
			log.WithField("hash", "SHA256").Debugf("Hash match for %s", filepath)
			return true
		}
	}

	return false
}

// BytesToSize converts a byte count into a human-readable string.
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// CheckAndMakeDir ensures a directory exists, creating it (and parents) if
// necessary.
func CheckAndMakeDir(dir string) bool {
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
