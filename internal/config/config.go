package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig stores the realtime endpoint settings. The token is issued
// externally and treated as an opaque string.
type ServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// AudioConfig stores the negotiated audio format and transmission chunking.
type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	Channels     int `yaml:"channels"`
	ChunkSamples int `yaml:"chunk_samples"`
}

// Config stores the application configuration.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Audio    AudioConfig  `yaml:"audio"`
	LogLevel string       `yaml:"log_level"`
}

// LoadConfig loads the configuration from the given file path and applies
// defaults for omitted fields.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Server.URL == "" {
		cfg.Server.URL = "ws://localhost:3000/api/v1/realtime/chat"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 24000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSamples == 0 {
		cfg.Audio.ChunkSamples = cfg.Audio.SampleRate // 1 second
	}

	return &cfg, nil
}
