package main

import (
	"context"
	"sync"
	"time"

	"github.com/triggr/node/internal/chain"
	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/router"
	"github.com/triggr/node/pkg/logger"
)

// reconcileInterval controls how often the supervisor re-scans the
// registry for projects created or deleted since the last pass. New
// projects created through the console only start receiving chain events
// after the next tick; this mirrors the reconciliation-loop idiom the
// teacher lineage uses for its own background listener supervision
// instead of a bespoke pub/sub-on-create hook.
const reconcileInterval = 10 * time.Second

// chainSupervisor owns the one chain.Client per distinct project and
// keeps its set of running subscriptions in sync with the Contract
// Registry, and drains each client's intake channel into the Trigger
// Router (spec.md §2 data flow: "C6 decodes -> publishes to C7").
type chainSupervisor struct {
	cfg      config.ChainConfig
	reg      *registry.Registry
	triggers *router.Router
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	cancel map[string]context.CancelFunc // project id -> stop its subscription
}

func newChainSupervisor(cfg config.ChainConfig, reg *registry.Registry, triggers *router.Router, log *logger.Logger, m *metrics.Metrics) *chainSupervisor {
	return &chainSupervisor{
		cfg:      cfg,
		reg:      reg,
		triggers: triggers,
		log:      log,
		metrics:  m,
		cancel:   make(map[string]context.CancelFunc),
	}
}

// Run reconciles subscriptions against the registry until ctx is
// canceled, then stops every subscription it started.
func (s *chainSupervisor) Run(ctx context.Context) {
	s.reconcile(ctx)
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *chainSupervisor) reconcile(ctx context.Context) {
	projects, err := s.reg.ListAllProjects()
	if err != nil {
		if s.log != nil {
			s.log.WithField("error", err.Error()).Warn("chain supervisor: failed to list projects")
		}
		return
	}

	live := make(map[string]struct{}, len(projects))
	s.mu.Lock()
	for _, proj := range projects {
		live[proj.ID] = struct{}{}
		if _, running := s.cancel[proj.ID]; running {
			continue
		}
		subCtx, cancel := context.WithCancel(ctx)
		s.cancel[proj.ID] = cancel
		client := chain.NewClient(s.cfg, s.log)
		client.SetMetrics(s.metrics)
		sub := chain.Subscription{
			ProjectID:       proj.ID,
			Endpoint:        s.cfg.Endpoint,
			ContractAddress: proj.ContractAddress,
			Schema:          proj.EventSchema,
		}
		go client.Run(subCtx, sub)
		go s.drain(subCtx, client)
	}
	for projectID, cancel := range s.cancel {
		if _, ok := live[projectID]; !ok {
			cancel()
			delete(s.cancel, projectID)
		}
	}
	s.mu.Unlock()
}

// drain forwards every event a client decodes to the trigger router until
// its subscription is canceled.
func (s *chainSupervisor) drain(ctx context.Context, client *chain.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Intake():
			if !ok {
				return
			}
			s.triggers.Dispatch(ev)
		}
	}
}

func (s *chainSupervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for projectID, cancel := range s.cancel {
		cancel()
		delete(s.cancel, projectID)
	}
}
