// Package project persists service configuration and custom G-code
// profiles on disk.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/piwi3910/slabnest/internal/model"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default directory for service configuration.
// On all platforms this is ~/.slabnest/
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".slabnest")
}

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// SaveServerConfig persists a ServerConfig to the given path, as YAML when
// the extension is .yaml or .yml and as JSON otherwise. It creates any
// missing parent directories automatically.
func SaveServerConfig(path string, config model.ServerConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(config)
	} else {
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadServerConfig reads a ServerConfig from the given path. If the file
// does not exist, it returns DefaultServerConfig with no error. Fields the
// file leaves empty are filled from the defaults.
func LoadServerConfig(path string) (model.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.DefaultServerConfig(), nil
		}
		return model.ServerConfig{}, err
	}

	var config model.ServerConfig
	if isYAML(path) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return model.ServerConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	config.ApplyDefaults()
	if err := config.DefaultSheet.Validate(); err != nil {
		return model.ServerConfig{}, fmt.Errorf("config %s: default_sheet: %w", path, err)
	}
	switch config.ExtractMode {
	case model.ExtractStrict, model.ExtractExtended:
	default:
		return model.ServerConfig{}, fmt.Errorf("config %s: unknown extract_mode %q", path, config.ExtractMode)
	}
	return config, nil
}
