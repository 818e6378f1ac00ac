package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level terminal configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	StoreID      string `yaml:"store_id"`
	TerminalID   string `yaml:"terminal_id"`
	DatabasePath string `yaml:"database_path"`

	Backend BackendConfig `yaml:"backend"`
	Queue   QueueConfig   `yaml:"queue"`
	Catalog CatalogConfig `yaml:"catalog"`
	Reports ReportsConfig `yaml:"reports"`
	LAN     LANConfig     `yaml:"lan"`
	Web     WebConfig     `yaml:"web"`
}

// BackendConfig defines the remote backend connection.
type BackendConfig struct {
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// QueueConfig defines outbox limits and drain behavior.
type QueueConfig struct {
	Capacity      int           `yaml:"capacity"`
	MaxAttempts   int           `yaml:"max_attempts"`
	DrainInterval time.Duration `yaml:"drain_interval"`
	ReconnectLag  time.Duration `yaml:"reconnect_lag"`
}

// CatalogConfig defines read-cache refresh behavior.
type CatalogConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

// ReportsConfig defines the snapshot cache retention policy.
type ReportsConfig struct {
	RetentionDays int           `yaml:"retention_days"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

// LANConfig defines the local-network coordination layer.
type LANConfig struct {
	Backend        string        `yaml:"backend"` // "mqtt" or "kafka"
	Hub            bool          `yaml:"hub"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
	Kafka          KafkaConfig   `yaml:"kafka"`
	BroadcastTopic string        `yaml:"broadcast_topic"`
	UplinkTopic    string        `yaml:"uplink_topic"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// WebConfig defines the operator HTTP API settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		StoreID:      "store-1",
		TerminalID:   "pos-1",
		DatabasePath: "tillsync.db",
		Backend: BackendConfig{
			URL:           "http://localhost:8080/api",
			Timeout:       10 * time.Second,
			ProbeInterval: 10 * time.Second,
		},
		Queue: QueueConfig{
			Capacity:      500,
			MaxAttempts:   5,
			DrainInterval: 30 * time.Second,
			ReconnectLag:  5 * time.Second,
		},
		Catalog: CatalogConfig{
			RefreshInterval: time.Hour,
			StaleAfter:      24 * time.Hour,
		},
		Reports: ReportsConfig{
			RetentionDays: 7,
			StaleAfter:    30 * time.Minute,
		},
		LAN: LANConfig{
			Backend:        "mqtt",
			BroadcastTopic: "tillsync/broadcast",
			UplinkTopic:    "tillsync/uplink",
			DebounceWindow: 100 * time.Millisecond,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// NodeID returns the LAN identity for this terminal.
func (c *Config) NodeID() string {
	return c.StoreID + "." + c.TerminalID
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
