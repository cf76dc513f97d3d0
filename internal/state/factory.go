package state

import (
	"fmt"
	"time"
)

// Config selects and parameterizes one Store backend. Mirrors the
// teacher's pkg/state factory shape (a flat struct switched on Type).
type Config struct {
	Type     string // "redis", "etcd", or "memory"
	Address  string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// New builds the configured Store backend.
func New(cfg Config) (Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	switch cfg.Type {
	case "redis":
		return NewRedisStore(cfg.Address, cfg.Password, cfg.DB, cfg.Prefix), nil
	case "etcd":
		return NewEtcdStore([]string{cfg.Address}, cfg.Prefix, cfg.Timeout)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("state: unsupported store type %q", cfg.Type)
	}
}
