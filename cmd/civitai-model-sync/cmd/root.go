package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"civitai-model-sync/internal/api"
	"civitai-model-sync/internal/config"
	"civitai-model-sync/internal/inventory"
	"civitai-model-sync/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// apiKeyFlag holds the value of the --api-key flag
var apiKeyFlag string

// modelsRootFlag holds the value of the --models-root flag
var modelsRootFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// verboseFlag enables debug logging
var verboseFlag bool

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or
// logging-wrapped)
var globalHttpTransport http.RoundTripper

var rootCmd = &cobra.Command{
	Use:   "civitai-model-sync",
	Short: "Sync local model files with the Civitai catalog",
	Long: `civitai-model-sync downloads models from Civitai and keeps locally
stored models' metadata and preview image sidecars in sync with the catalog.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Civitai API key (overrides config)")
	rootCmd.PersistentFlags().StringVar(&modelsRootFlag, "models-root", "", "Root directory of the model library (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets
// up the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal; commands check the fields they need.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
		globalConfig = models.Config{}
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
	}
	if cmd.Flags().Changed("api-key") && apiKeyFlag != "" {
		globalConfig.ApiKey = apiKeyFlag
	}
	if cmd.Flags().Changed("models-root") && modelsRootFlag != "" {
		globalConfig.ModelsRoot = modelsRootFlag
	}
	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}
	if globalConfig.ApiClientTimeoutSec <= 0 {
		globalConfig.ApiClientTimeoutSec = 60
	}

	globalHttpTransport = http.DefaultTransport
	if globalConfig.LogApiRequests {
		log.Info("API request logging enabled, writing to api.log")
		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, "api.log")
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}
	return nil
}

// newApiClient builds the catalog client from the global config.
func newApiClient() *api.Client {
	httpClient := &http.Client{
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
		Transport: globalHttpTransport,
	}
	return api.NewClient(globalConfig.ApiKey, httpClient)
}

// newBinaryClient builds the HTTP client used for model/image binaries. No
// overall timeout: model files can take a long time at low bandwidth.
func newBinaryClient() *http.Client {
	return &http.Client{Transport: globalHttpTransport}
}

// folderMap resolves the per-type folder map from the global config.
func folderMap() map[string]string {
	return inventory.FolderMap(globalConfig)
}
