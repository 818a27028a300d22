package main

import (
	"civitai-model-sync/cmd/civitai-model-sync/cmd"
	"civitai-model-sync/internal/api"
)

func main() {
	// Ensure all API log file buffers are flushed and files closed on exit
	defer api.CloseAllLoggingTransports()

	cmd.Execute()
}
