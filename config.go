package rentd

import (
	"time"

	"github.com/eleven-am/rentd/internal/domain"
)

type Config = domain.Config

type StoreConfig = domain.StoreConfig

type StoreBackend = domain.StoreBackend

const (
	StoreBackendMemory StoreBackend = domain.StoreBackendMemory
	StoreBackendBadger StoreBackend = domain.StoreBackendBadger
	StoreBackendRedis  StoreBackend = domain.StoreBackendRedis
)

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

type ConfigBuilder struct {
	config *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: DefaultConfig()}
}

func (b *ConfigBuilder) WithBindAddr(addr string) *ConfigBuilder {
	b.config.BindAddr = addr
	return b
}

func (b *ConfigBuilder) WithLeaseDuration(d time.Duration) *ConfigBuilder {
	b.config.LeaseDuration = d
	return b
}

func (b *ConfigBuilder) WithMemoryStore() *ConfigBuilder {
	b.config.Store.Backend = StoreBackendMemory
	return b
}

func (b *ConfigBuilder) WithBadgerStore(dataDir string) *ConfigBuilder {
	b.config.Store.Backend = StoreBackendBadger
	b.config.Store.DataDir = dataDir
	return b
}

func (b *ConfigBuilder) WithRedisStore(addr, prefix string) *ConfigBuilder {
	b.config.Store.Backend = StoreBackendRedis
	b.config.Store.RedisAddr = addr
	if prefix != "" {
		b.config.Store.RedisPrefix = prefix
	}
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.config
}
