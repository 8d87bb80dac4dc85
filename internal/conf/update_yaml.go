package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// SaveYAMLConfig writes settings to configPath atomically, creating parent
// directories as needed. yaml.v3 lower-cases field names, which matches the
// keys viper reads back. Comments in an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(fmt.Errorf("error marshaling settings to YAML: %w", err)).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.FileError(fmt.Errorf("error creating config directory: %w", err), dir)
	}

	// write to a temporary file first so a failed write never truncates the config
	tempFile, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return errors.FileError(fmt.Errorf("error creating temporary file: %w", err), dir)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return errors.FileError(fmt.Errorf("error writing to temporary file: %w", err), tempFileName)
	}
	if err := tempFile.Close(); err != nil {
		return errors.FileError(fmt.Errorf("error closing temporary file: %w", err), tempFileName)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.FileError(fmt.Errorf("error replacing config file: %w", err), configPath)
	}
	return nil
}

// WriteDefaultConfig writes the default settings to configPath. It refuses
// to overwrite an existing file unless force is set.
func WriteDefaultConfig(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return errors.Newf("config file %s already exists", configPath).
				Component("config").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	return SaveYAMLConfig(configPath, DefaultSettings())
}
