// Command triggr runs the Triggr node: the chain ingester, DSL-driven
// trigger router, document store, pub/sub bus, and HTTP/WebSocket
// gateway in a single process (spec.md §2).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/triggr/node/internal/authn"
	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/gateway"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/internal/pubsub"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/router"
	"github.com/triggr/node/internal/store"
	"github.com/triggr/node/pkg/logger"
	"github.com/triggr/node/pkg/version"
)

func main() {
	os.Exit(run())
}

// run wires every component and blocks until SIGINT/SIGTERM, returning
// the process exit code per spec.md §6.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; a config error this early has nowhere else to go.
		fmt.Fprintln(os.Stderr, "triggr: config error:", err)
		return 1
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	log.WithField("version", version.String()).Info("starting triggr node")

	m := metrics.New(prometheus.DefaultRegisterer)

	engine, err := kv.Open(cfg.Storage.DataDir)
	if err != nil {
		log.WithField("error", err.Error()).Error("failed to open storage engine")
		return 2
	}
	defer engine.Close()

	bus := pubsub.New(0)
	bus.SetMetrics(m)

	docs := store.New(engine, bus)
	reg := registry.New(engine, docs, log)
	triggers := router.New(engine, docs, reg, log)
	triggers.SetMetrics(m)
	triggers.SetBudget(cfg.Chain.TriggerBudget)
	if err := triggers.RebuildIndex(); err != nil {
		log.WithField("error", err.Error()).Error("failed to rebuild trigger index at startup")
		return 2
	}

	jwtAuth := authn.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)

	srv := gateway.New(cfg.Server, cfg.RateLimit, log, m, reg, docs, triggers, bus, jwtAuth)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := newChainSupervisor(cfg.Chain, reg, triggers, log, m)
	go sup.Run(ctx)

	log.WithField("addr", cfg.Server.Host).Info("gateway listening")
	if err := srv.Run(ctx); err != nil {
		log.WithField("error", err.Error()).Error("gateway server failed")
		return 3
	}

	log.Info("shutdown complete")
	return 0
}
