// Package rentd is a lease-allocation server: it rents items ("slogans")
// from a shared, finite pool to concurrently-connected TCP clients over a
// minimal VERB::ARG line protocol. An item is leased by at most one client at
// a time, a client holds at most one lease at a time, and every lease expires
// after a fixed duration, returning the item to the pool.
//
// Basic usage:
//
//	srv, err := rentd.New(rentd.NewConfigBuilder().WithBindAddr("127.0.0.1:25001").Build(), logger)
//	if err != nil { ... }
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Stop()
package rentd

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/eleven-am/rentd/internal/adapters/allocator"
	"github.com/eleven-am/rentd/internal/adapters/expiry"
	"github.com/eleven-am/rentd/internal/adapters/registry"
	badgerstore "github.com/eleven-am/rentd/internal/adapters/store/badger"
	memorystore "github.com/eleven-am/rentd/internal/adapters/store/memory"
	redisstore "github.com/eleven-am/rentd/internal/adapters/store/redis"
	"github.com/eleven-am/rentd/internal/dispatch"
	"github.com/eleven-am/rentd/internal/domain"
	"github.com/eleven-am/rentd/internal/ports"
	"github.com/eleven-am/rentd/internal/server"
)

// Server assembles the store, allocator, expiry scheduler, client registry
// and TCP front end behind one lifecycle.
type Server struct {
	cfg       *Config
	store     ports.ItemStore
	scheduler *expiry.Scheduler
	allocator *allocator.Allocator
	registry  ports.ClientRegistry
	server    *server.Server
	logger    *slog.Logger

	redisClient *goredis.Client
}

// New builds a Server from cfg, filling unset fields from defaults. The
// persistent store backends clear all leases at startup so a restarted
// process recovers to a leased-nothing state.
func New(cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger}

	store, err := s.openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.store = store

	if cfg.Store.Backend != domain.StoreBackendMemory {
		if _, err := store.ClearAllLeases(context.Background()); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to clear stale leases: %w", err)
		}
	}

	hub := server.NewHub(logger)
	s.scheduler = expiry.NewScheduler(hub, logger)
	s.allocator = allocator.New(store, s.scheduler, cfg.LeaseDuration, logger)
	s.scheduler.Bind(s.allocator)

	s.registry = registry.NewMemoryClientRegistry(logger)
	dispatcher := dispatch.NewDispatcher(s.allocator, store, s.registry, logger)
	s.server = server.New(cfg.BindAddr, dispatcher, s.registry, hub, logger)

	return s, nil
}

func (s *Server) openStore(cfg *Config, logger *slog.Logger) (ports.ItemStore, error) {
	switch cfg.Store.Backend {
	case domain.StoreBackendMemory:
		return memorystore.NewStore(logger), nil
	case domain.StoreBackendBadger:
		return badgerstore.Open(cfg.Store.DataDir, logger)
	case domain.StoreBackendRedis:
		s.redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.Store.RedisAddr})
		return redisstore.NewStore(s.redisClient, cfg.Store.RedisPrefix, logger), nil
	default:
		return nil, domain.Error{
			Type:    domain.ErrorTypeInvalid,
			Message: fmt.Sprintf("unknown store backend: %s", cfg.Store.Backend),
		}
	}
}

// Start binds the listener and begins serving. It returns immediately;
// serving continues until Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	return s.server.Start(ctx)
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.server.Addr()
}

// Allocator exposes the lease engine for embedders that drive it directly,
// e.g. a connection-teardown hook that wants release-on-disconnect.
func (s *Server) Allocator() ports.Allocator {
	return s.allocator
}

// Stop shuts everything down: listener and connections first, then pending
// expiry timers, then the store.
func (s *Server) Stop() {
	s.server.Stop()
	s.scheduler.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close failed", "error", err.Error())
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("redis close failed", "error", err.Error())
		}
	}
	s.logger.Info("rentd stopped")
}
