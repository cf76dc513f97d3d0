// Package config loads the daemon's YAML (falling back to JSON)
// configuration file: a ${VAR:-default} substitution idiom and a typed
// Config struct per top-level concern (storage, state store, client
// tuning, lock, control loop, API, logging).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's top-level configuration document.
type Config struct {
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	StateStore StateStoreConfig `json:"state_store" yaml:"state_store"`
	StatusBus  StatusBusConfig  `json:"status_bus" yaml:"status_bus"`
	Client     ClientConfig     `json:"client" yaml:"client"`
	Lock       LockConfig       `json:"lock" yaml:"lock"`
	Control    ControlConfig    `json:"control" yaml:"control"`
	API        APIConfig        `json:"api" yaml:"api"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Tracing    OTLPConfig       `json:"tracing" yaml:"tracing"`
	InstanceID string           `json:"instance_id" yaml:"instance_id"`
}

// StorageConfig selects the catalogue/observation storage backend.
type StorageConfig struct {
	Type string `json:"type" yaml:"type"` // "postgres" or "sqlite"
	DSN  string `json:"dsn" yaml:"dsn"`
}

// StateStoreConfig selects the backend behind the ownership lock and
// status snapshot cache. Mirrors internal/state.Config's shape.
type StateStoreConfig struct {
	Type     string        `json:"type" yaml:"type"` // "redis", "etcd", or "memory"
	Address  string        `json:"address" yaml:"address"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// StatusBusConfig selects the pub/sub transport fanning out status
// snapshots and sampled messages. "redis" reuses the state store's
// connection; "nats" is an alternative transport for deployments without
// Redis.
type StatusBusConfig struct {
	Transport string `json:"transport" yaml:"transport"` // "redis", "nats", or "" (cache-only, no fan-out)
	NatsURL   string `json:"nats_url" yaml:"nats_url"`
}

// ClientConfig tunes the per-node MQTT client's throttling policy. Zero
// fields fall back to internal/client.Config's defaults.
type ClientConfig struct {
	BatchSize        int           `json:"batch_size" yaml:"batch_size"`
	BatchAge         time.Duration `json:"batch_age" yaml:"batch_age"`
	WSInterval       time.Duration `json:"ws_interval" yaml:"ws_interval"`
	StatusInterval   time.Duration `json:"status_interval" yaml:"status_interval"`
	HealthMaxSilence time.Duration `json:"health_max_silence" yaml:"health_max_silence"`
	HealthConnecting time.Duration `json:"health_connecting" yaml:"health_connecting"`
	KeepAlive        time.Duration `json:"keep_alive" yaml:"keep_alive"`
	MaxReconnect     time.Duration `json:"max_reconnect" yaml:"max_reconnect"`
	RateRingCap      int           `json:"rate_ring_cap" yaml:"rate_ring_cap"`
}

// LockConfig tunes the ownership locker.
type LockConfig struct {
	TTL    time.Duration `json:"ttl" yaml:"ttl"`
	Policy string        `json:"policy" yaml:"policy"` // "never", "on_ttl_expired_only", "aggressive"
}

// ControlConfig tunes the control loop's four job periods.
type ControlConfig struct {
	MonitorAllActive time.Duration `json:"monitor_all_active" yaml:"monitor_all_active"`
	RefreshLocks     time.Duration `json:"refresh_locks" yaml:"refresh_locks"`
	CleanupStale     time.Duration `json:"cleanup_stale" yaml:"cleanup_stale"`
	HealthCheck      time.Duration `json:"health_check" yaml:"health_check"`
}

// APIConfig configures the daemon's operational control API
// (cmd/wis2watchctl's transport).
type APIConfig struct {
	Addr   string `json:"addr" yaml:"addr"`
	APIKey string `json:"api_key" yaml:"api_key"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// OTLPConfig configures internal/tracing's span export. An empty
// Endpoint disables tracing: internal/tracing.Init then returns at once
// and leaves the global no-op tracer in place.
type OTLPConfig struct {
	ServiceName string            `json:"service_name" yaml:"service_name"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // "http" or "grpc"
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
}

// ApplyDefaults fills in every field whose zero value would otherwise
// leave a component to guess: storage, state store, lock TTL and policy,
// API address, log level, tracing service name and instance id.
// client.Config and control.Periods self-default in their own packages.
func (c *Config) ApplyDefaults() {
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = "wis2watch.db"
	}
	if c.StateStore.Type == "" {
		c.StateStore.Type = "memory"
	}
	if c.StateStore.Timeout <= 0 {
		c.StateStore.Timeout = 5 * time.Second
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = 10 * time.Minute
	}
	if c.Lock.Policy == "" {
		c.Lock.Policy = "on_ttl_expired_only"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wis2watchd"
	}
	if c.InstanceID == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "wis2watchd"
		}
		c.InstanceID = hostname
	}
}

// Load reads and decodes the configuration document at path, applying
// ${VAR:-default} environment substitution before parsing, then fills in
// defaults. Tries YAML first, falling back to JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	content := SubstituteEnvVars(string(data))

	var cfg Config
	if yamlErr := yaml.Unmarshal([]byte(content), &cfg); yamlErr != nil {
		if jsonErr := json.Unmarshal([]byte(content), &cfg); jsonErr != nil {
			return nil, fmt.Errorf("config: decode %s (tried YAML and JSON): %w", path, yamlErr)
		}
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Save writes cfg back to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

var envRegex = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} / ${VAR:-default} references in input
// with the named environment variable's value, or the default when the
// variable is unset. A reference to an unset variable with no default is
// left untouched.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
