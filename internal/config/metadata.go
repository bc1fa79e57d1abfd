package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Metadata holds cross-session user state that is not configuration, such
// as toggles flipped at runtime. It lives in metadata.yaml next to the
// config file and is rewritten on clean exit.
type Metadata struct {
	Thinking bool `yaml:"thinking"`
}

func metadataPath(homeDir string) string {
	return filepath.Join(homeDir, "metadata.yaml")
}

// LoadMetadata reads metadata.yaml; a missing file yields the zero value.
func LoadMetadata(homeDir string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(metadataPath(homeDir))
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("read metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse metadata: %w", err)
	}
	return m, nil
}

// SaveMetadata writes metadata.yaml.
func SaveMetadata(homeDir string, m Metadata) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(metadataPath(homeDir), data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
