package config

import (
	"fmt"
	"os"

	"civitai-model-sync/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml") and fills in defaults for anything not set. A missing config
// file is not an error; every field has a workable default.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}

	var cfg models.Config
	if _, err := os.Stat(configFilePath); err == nil {
		if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
			return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
		}
		log.Infof("Configuration loaded from %s", configFilePath)
	} else {
		log.Debugf("Config file %s not found, using defaults", configFilePath)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.ModelsRoot == "" {
		cfg.ModelsRoot = "models"
	}
	if cfg.LycorisFolder == "" {
		cfg.LycorisFolder = "Lora"
	}
	if cfg.LoconFolder == "" {
		cfg.LoconFolder = "Lora"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7861"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "lookup-cache"
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = "models.bleve"
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = 60
	}
}
