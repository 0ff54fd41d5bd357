package config

import (
	"time"

	redisclient "github.com/vietddude/orderwatch/internal/infra/redis"
	"github.com/vietddude/orderwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Ethereum EthereumConfig     `yaml:"ethereum"`
	Watcher  WatcherConfig      `yaml:"watcher"`
	Batcher  BatcherConfig      `yaml:"batcher"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings. SubmitPort serves the order
// submission API, Port serves health and metrics.
type ServerConfig struct {
	Port       int `yaml:"port"`
	SubmitPort int `yaml:"submit_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// EthereumConfig holds the node connections and contract addresses. Header
// subscriptions run over the WebSocket endpoint, contract calls over HTTP.
type EthereumConfig struct {
	URL         string        `yaml:"url"`      // ws:// or wss:// endpoint
	HTTPURL     string        `yaml:"http_url"` // http:// or https:// endpoint
	CallTimeout time.Duration `yaml:"call_timeout"`
	ChainID     uint64        `yaml:"chain_id"`
	Exchange    string        `yaml:"exchange"`
	FlashWallet string        `yaml:"flash_wallet"`
}

// WatcherConfig holds chain tip watcher settings.
type WatcherConfig struct {
	PollDelay     time.Duration `yaml:"poll_delay"`     // wait on the subscription before polling
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`  // per header fetch RPC
	MaxRetries    int           `yaml:"max_retries"`    // connection cycles without progress before fatal
	RetryDelay    time.Duration `yaml:"retry_delay"`    // between reconnection attempts
	MaxReorg      int           `yaml:"max_reorg"`      // maximum reorg depth resolved
	QueueCapacity int           `yaml:"queue_capacity"` // per subscriber event backlog
}

// BatcherConfig holds state batcher settings.
type BatcherConfig struct {
	BatchSize    int           `yaml:"batch_size"`    // maximum orders per contract call
	Concurrent   int           `yaml:"concurrent"`    // maximum in-flight contract calls
	QueueCork    time.Duration `yaml:"queue_cork"`    // normal lane dispatch delay
	PriorityCork time.Duration `yaml:"priority_cork"` // priority lane dispatch delay
}
