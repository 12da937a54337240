package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eleven-am/rentd"
)

func main() {
	var (
		addr          = flag.String("addr", "127.0.0.1:25001", "listen address")
		storeBackend  = flag.String("store", "memory", "store backend: memory, badger or redis")
		dataDir       = flag.String("data-dir", "./data", "data directory for the badger store")
		redisAddr     = flag.String("redis-addr", "", "redis address for the redis store")
		redisPrefix   = flag.String("redis-prefix", "rentd", "redis key prefix")
		leaseDuration = flag.Duration("lease-duration", 15*time.Second, "how long a rented slogan stays leased")
		debug         = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	builder := rentd.NewConfigBuilder().
		WithBindAddr(*addr).
		WithLeaseDuration(*leaseDuration)

	switch *storeBackend {
	case "memory":
		builder = builder.WithMemoryStore()
	case "badger":
		builder = builder.WithBadgerStore(*dataDir)
	case "redis":
		builder = builder.WithRedisStore(*redisAddr, *redisPrefix)
	default:
		logger.Error("unknown store backend", "store", *storeBackend)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := rentd.New(builder.Build(), logger)
	if err != nil {
		logger.Error("failed to build server", "error", err.Error())
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("rentd started", "addr", srv.Addr(), "store", *storeBackend, "lease_duration", leaseDuration.String())

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Stop()
}
