package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"

	"civitai-model-sync/internal/database"
	"civitai-model-sync/internal/scan"
	"civitai-model-sync/internal/sidecar"
)

// newScanEnv assembles the scanner collaborators. The lookup cache is opened
// unless disabled; a cache that fails to open is logged and skipped rather
// than aborting the scan.
func newScanEnv(noCache bool) (*scan.Env, func()) {
	env := &scan.Env{
		Client:  newApiClient(),
		Sync:    sidecar.New(newBinaryClient()),
		Control: scan.NewControl(),
		Folders: folderMap(),
	}

	cleanup := func() {}
	if !noCache {
		cachePath := globalConfig.CachePath
		if cachePath == "" {
			cachePath = "lookup-cache"
		}
		cache, err := database.Open(cachePath)
		if err != nil {
			log.WithError(err).Warnf("Could not open lookup cache at %s, continuing without it", cachePath)
		} else {
			env.Cache = cache
			cleanup = func() {
				if err := cache.Close(); err != nil {
					log.WithError(err).Warn("Error closing lookup cache")
				}
			}
		}
	}
	return env, cleanup
}

// runScan drives a batch scanner with Ctrl-C mapped to cooperative
// cancellation and progress rendered in place via uilive.
func runScan(env *scan.Env, scanFn func(report func(string))) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			log.Warn("Interrupt received, cancelling scan...")
			env.Control.RequestCancel()
		}
	}()

	// Each report replaces the previous one; the final frame stays on screen
	// after the writer stops.
	writer := uilive.New()
	writer.Start()
	scanFn(func(report string) {
		fmt.Fprintln(writer, report)
	})
	writer.Stop()
}
