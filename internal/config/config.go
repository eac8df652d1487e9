package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration for the dashboard gateway and CLI.
type AppConfig struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Backend   BackendConfig   `yaml:"backend"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// LoggerConfig controls the structured logger.
type LoggerConfig struct {
	Level string `yaml:"level"` // e.g. "info", "debug"
}

// GatewayConfig configures the HTTP/WebSocket surface served to the
// dashboard UI.
type GatewayConfig struct {
	ServerAddress string `yaml:"serverAddress"` // e.g. ":8080"
}

// BackendConfig points at the automation backend API.
type BackendConfig struct {
	BaseURL        string               `yaml:"baseURL"`
	RequestTimeout string               `yaml:"requestTimeout"` // e.g. "30s"
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RealtimeConfig configures the backend change-feed connection.
type RealtimeConfig struct {
	URL    string   `yaml:"url"` // websocket endpoint, e.g. "wss://.../changes"
	Tables []string `yaml:"tables"`
}

// KafkaConfig configures the agent log stream.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	AgentLogTopic string   `yaml:"agentLogTopic"`
	GroupID       string   `yaml:"groupID"` // consumer group prefix; each session appends its own suffix
}

// RedisConfig configures the session snapshot cache.
type RedisConfig struct {
	Address     string `yaml:"address"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	SnapshotTTL string `yaml:"snapshotTTL"` // e.g. "15m"
}

// TrackerConfig tunes the reconciliation core.
type TrackerConfig struct {
	MaxTasks     int    `yaml:"maxTasks"`     // retained task records, oldest evicted
	DedupWindow  string `yaml:"dedupWindow"`  // log duplicate tolerance, e.g. "500ms"
	PollInterval string `yaml:"pollInterval"` // e.g. "2s"
	PollTimeout  string `yaml:"pollTimeout"`  // e.g. "5m"
}

// RateLimitConfig configures the per-user sliding-window limiter applied to
// trigger endpoints.
type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled"`
	Window  string         `yaml:"window"` // e.g. "1m"
	Limits  map[string]int `yaml:"limits"` // limit type -> requests per window
}

// CircuitBreakerConfig configures the breaker wrapped around backend calls.
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // e.g. "30s"
}

// LoadConfig reads and parses the YAML configuration at path.
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file %q: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config file %q: %w", path, err)
	}
	return &cfg, nil
}
