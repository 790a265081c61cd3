package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/router"
	"github.com/triggr/node/internal/store"
)

const depositedDescriptor = `{
  "source": {"hash": "0x1"},
  "contract": {"name": "Escrow"},
  "version": 1,
  "types": [{"id": 0, "type": "u64"}],
  "spec": {"events": [{"name": "Deposited", "args": [{"name": "amount", "type": 0}]}]}
}`

func newTestSupervisor(t *testing.T) (*chainSupervisor, *registry.Registry) {
	t.Helper()
	engine, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	docs := store.New(engine, nil)
	reg := registry.New(engine, docs, nil)
	triggers := router.New(engine, docs, reg, nil)

	cfg := config.ChainConfig{Endpoint: "ws://127.0.0.1:0", ReconnectInitial: time.Millisecond, ReconnectMax: time.Millisecond, IntakeQueueSize: 8}
	sup := newChainSupervisor(cfg, reg, triggers, nil, nil)
	return sup, reg
}

func TestReconcileStartsOneSubscriptionPerProject(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proj1, _, err := reg.CreateProject("owner", "Escrow", "", "addr1", []byte(depositedDescriptor))
	require.NoError(t, err)
	proj2, _, err := reg.CreateProject("owner", "Escrow", "", "addr2", []byte(depositedDescriptor))
	require.NoError(t, err)

	sup.reconcile(ctx)

	sup.mu.Lock()
	require.Len(t, sup.cancel, 2)
	require.Contains(t, sup.cancel, proj1.ID)
	require.Contains(t, sup.cancel, proj2.ID)
	sup.mu.Unlock()
}

func TestReconcileStopsDeletedProjects(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr1", []byte(depositedDescriptor))
	require.NoError(t, err)
	sup.reconcile(ctx)

	sup.mu.Lock()
	require.Len(t, sup.cancel, 1)
	sup.mu.Unlock()

	require.NoError(t, reg.DeleteProject(proj.ID))
	sup.reconcile(ctx)

	sup.mu.Lock()
	require.Len(t, sup.cancel, 0)
	sup.mu.Unlock()
}

func TestStopAllCancelsEverySubscription(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	ctx := context.Background()

	_, _, err := reg.CreateProject("owner", "Escrow", "", "addr1", []byte(depositedDescriptor))
	require.NoError(t, err)
	sup.reconcile(ctx)

	sup.stopAll()

	sup.mu.Lock()
	require.Len(t, sup.cancel, 0)
	sup.mu.Unlock()
}
