package domain

import (
	"fmt"
	"time"

	"dario.cat/mergo"
)

type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendBadger StoreBackend = "badger"
	StoreBackendRedis  StoreBackend = "redis"
)

// Config is the full server configuration. Zero fields are filled from
// DefaultConfig by ApplyDefaults before use.
type Config struct {
	BindAddr        string        `json:"bind_addr"`
	LeaseDuration   time.Duration `json:"lease_duration"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Store           StoreConfig   `json:"store"`
}

type StoreConfig struct {
	Backend     StoreBackend `json:"backend"`
	DataDir     string       `json:"data_dir"`
	RedisAddr   string       `json:"redis_addr"`
	RedisPrefix string       `json:"redis_prefix"`
}

func DefaultConfig() *Config {
	return &Config{
		BindAddr:        "127.0.0.1:25001",
		LeaseDuration:   15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Store:           DefaultStoreConfig(),
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:     StoreBackendMemory,
		DataDir:     "./data",
		RedisPrefix: "rentd",
	}
}

// ApplyDefaults merges the default configuration underneath cfg, leaving any
// explicitly set field untouched.
func (c *Config) ApplyDefaults() error {
	if err := mergo.Merge(c, DefaultConfig()); err != nil {
		return fmt.Errorf("failed to merge default config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return Error{
			Type:    ErrorTypeInvalid,
			Message: "bind address cannot be empty",
		}
	}
	if c.LeaseDuration <= 0 {
		return Error{
			Type:    ErrorTypeInvalid,
			Message: "lease duration must be positive",
		}
	}
	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendBadger:
		if c.Store.DataDir == "" {
			return Error{
				Type:    ErrorTypeInvalid,
				Message: "badger store requires a data dir",
			}
		}
	case StoreBackendRedis:
		if c.Store.RedisAddr == "" {
			return Error{
				Type:    ErrorTypeInvalid,
				Message: "redis store requires an address",
			}
		}
	default:
		return Error{
			Type:    ErrorTypeInvalid,
			Message: fmt.Sprintf("unknown store backend: %s", c.Store.Backend),
		}
	}
	return nil
}
