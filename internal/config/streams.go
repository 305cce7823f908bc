package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StreamPreset describes one stream to open at boot.
type StreamPreset struct {
	Exchange   string `yaml:"exchange"`
	Symbol     string `yaml:"symbol"`
	Timeframe  string `yaml:"timeframe"`
	Subscriber string `yaml:"subscriber"`
}

type streamsFile struct {
	Streams []StreamPreset `yaml:"streams"`
}

// LoadStreamsFromYAML loads boot-time stream presets from a YAML file
func LoadStreamsFromYAML(filePath string) ([]StreamPreset, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read streams file: %w", err)
	}

	var f streamsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse streams YAML: %w", err)
	}

	if len(f.Streams) == 0 {
		return nil, fmt.Errorf("no streams found in config file")
	}

	return f.Streams, nil
}
