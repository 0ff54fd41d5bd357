package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in defaults for anything the file leaves unset.
func (cfg *AppConfig) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.SubmitPort == 0 {
		cfg.Server.SubmitPort = 8080
	}
	if cfg.Ethereum.ChainID == 0 {
		cfg.Ethereum.ChainID = 1
	}
	if cfg.Ethereum.CallTimeout == 0 {
		cfg.Ethereum.CallTimeout = 30 * time.Second
	}
	if cfg.Watcher.PollDelay == 0 {
		cfg.Watcher.PollDelay = 5 * time.Second
	}
	if cfg.Watcher.FetchTimeout == 0 {
		cfg.Watcher.FetchTimeout = 5 * time.Second
	}
	if cfg.Watcher.MaxRetries == 0 {
		cfg.Watcher.MaxRetries = 10
	}
	if cfg.Watcher.RetryDelay == 0 {
		cfg.Watcher.RetryDelay = time.Second
	}
	if cfg.Watcher.MaxReorg == 0 {
		cfg.Watcher.MaxReorg = 10
	}
	if cfg.Watcher.QueueCapacity == 0 {
		cfg.Watcher.QueueCapacity = 20
	}
	if cfg.Batcher.BatchSize == 0 {
		cfg.Batcher.BatchSize = 512
	}
	if cfg.Batcher.Concurrent == 0 {
		cfg.Batcher.Concurrent = 16
	}
	if cfg.Batcher.QueueCork == 0 {
		cfg.Batcher.QueueCork = 100 * time.Millisecond
	}
	if cfg.Batcher.PriorityCork == 0 {
		cfg.Batcher.PriorityCork = 5 * time.Millisecond
	}
}
