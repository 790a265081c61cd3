package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/event"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/store"
	"github.com/triggr/node/internal/value"
)

const depositedDescriptor = `{
  "source": {"hash": "0x1"},
  "contract": {"name": "Escrow"},
  "version": 1,
  "types": [{"id": 0, "type": "u64"}, {"id": 1, "type": "AccountId"}],
  "spec": {"events": [{"name": "Deposited", "args": [
    {"name": "amount", "type": 0}, {"name": "depositor", "type": 1}
  ]}]}
}`

func newTestRouter(t *testing.T) (*Router, *registry.Registry, *store.Store) {
	t.Helper()
	engine, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	docs := store.New(engine, nil)
	reg := registry.New(engine, docs, nil)
	r := New(engine, docs, reg, nil)
	return r, reg, docs
}

func TestCreateTriggerCompilesAndIndexes(t *testing.T) {
	r, reg, docs := newTestRouter(t)
	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr", []byte(depositedDescriptor))
	require.NoError(t, err)

	src := `fn main(events) {
		insert @deposits:events.Deposited.depositor { amount: events.Deposited.amount }
	}`
	trig, err := r.CreateTrigger(proj.ID, "", "record deposits", src)
	require.NoError(t, err)
	require.Equal(t, "Deposited", trig.BoundEvent)
	require.True(t, trig.Active)

	ev := event.Decoded{ProjectID: proj.ID, Name: "Deposited", Fields: map[string]value.Value{
		"amount": value.Int(7), "depositor": value.String("dep1"),
	}}
	r.Dispatch(ev)

	doc, err := docs.GetDoc(proj.ID, "deposits", "dep1")
	require.NoError(t, err)
	amt, _ := doc.Data.Get("amount")
	i, _ := amt.Int()
	require.Equal(t, int64(7), i)

	got, err := r.GetTrigger(proj.ID, trig.TriggerID)
	require.NoError(t, err)
	require.False(t, got.LastRunAt.IsZero())
}

func TestCreateTriggerRejectsBadReference(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr", []byte(depositedDescriptor))
	require.NoError(t, err)

	src := `fn main(events) {
		insert @deposits { who: events.Foo.bar }
	}`
	_, err = r.CreateTrigger(proj.ID, "", "", src)
	svcErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.CodeValidation, svcErr.Code)
	require.Contains(t, svcErr.Details, "line")
}

func TestSetActiveRemovesAndRestoresFromIndex(t *testing.T) {
	r, reg, docs := newTestRouter(t)
	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr", []byte(depositedDescriptor))
	require.NoError(t, err)

	src := `fn main(events) {
		insert @deposits:events.Deposited.depositor { amount: events.Deposited.amount }
	}`
	trig, err := r.CreateTrigger(proj.ID, "", "", src)
	require.NoError(t, err)

	_, err = r.SetActive(proj.ID, trig.TriggerID, false)
	require.NoError(t, err)

	ev := event.Decoded{ProjectID: proj.ID, Name: "Deposited", Fields: map[string]value.Value{
		"amount": value.Int(1), "depositor": value.String("x"),
	}}
	r.Dispatch(ev)
	_, err = docs.GetDoc(proj.ID, "deposits", "x")
	require.Error(t, err)

	_, err = r.SetActive(proj.ID, trig.TriggerID, true)
	require.NoError(t, err)
	r.Dispatch(ev)
	_, err = docs.GetDoc(proj.ID, "deposits", "x")
	require.NoError(t, err)
}

func TestRebuildIndexRecompilesAndDeactivatesOnFailure(t *testing.T) {
	engine, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	docs := store.New(engine, nil)
	reg := registry.New(engine, docs, nil)
	r := New(engine, docs, reg, nil)

	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr", []byte(depositedDescriptor))
	require.NoError(t, err)
	src := `fn main(events) {
		insert @deposits:events.Deposited.depositor { amount: events.Deposited.amount }
	}`
	trig, err := r.CreateTrigger(proj.ID, "", "", src)
	require.NoError(t, err)
	require.NoError(t, r.putTrigger(Trigger{
		ProjectID: proj.ID, TriggerID: "broken", Active: true,
		Source: `fn main(events) { insert @x { y: events.Foo.bar } }`,
	}))

	r2 := New(engine, docs, reg, nil)
	require.NoError(t, r2.RebuildIndex())

	broken, err := r2.GetTrigger(proj.ID, "broken")
	require.NoError(t, err)
	require.False(t, broken.Active)
	require.NotEmpty(t, broken.CompileError)

	ev := event.Decoded{ProjectID: proj.ID, Name: "Deposited", Fields: map[string]value.Value{
		"amount": value.Int(3), "depositor": value.String("y"),
	}}
	r2.Dispatch(ev)
	_, err = docs.GetDoc(proj.ID, "deposits", "y")
	require.NoError(t, err)

	got, err := r2.GetTrigger(proj.ID, trig.TriggerID)
	require.NoError(t, err)
	require.True(t, got.Active)
}

func TestRestartPreservesTriggersAndDocuments(t *testing.T) {
	dir := t.TempDir()
	src := `fn main(events) {
		insert @deposits:events.Deposited.depositor { amount: events.Deposited.amount }
	}`

	engine, err := kv.Open(dir)
	require.NoError(t, err)
	docs := store.New(engine, nil)
	reg := registry.New(engine, docs, nil)
	r := New(engine, docs, reg, nil)

	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr", []byte(depositedDescriptor))
	require.NoError(t, err)
	trig, err := r.CreateTrigger(proj.ID, "t1", "", src)
	require.NoError(t, err)
	doc, err := docs.InsertDoc(proj.ID, "deposits", "d1", value.Object().Set("amount", value.Int(9)).Build())
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	engine2, err := kv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine2.Close() })
	docs2 := store.New(engine2, nil)
	reg2 := registry.New(engine2, docs2, nil)
	r2 := New(engine2, docs2, reg2, nil)
	require.NoError(t, r2.RebuildIndex())

	doc2, err := docs2.GetDoc(proj.ID, "deposits", "d1")
	require.NoError(t, err)
	require.Equal(t, doc.Data, doc2.Data)
	require.Equal(t, doc.Metadata.Version, doc2.Metadata.Version)
	require.True(t, doc.Metadata.CreatedAt.Equal(doc2.Metadata.CreatedAt))

	trig2, err := r2.GetTrigger(proj.ID, "t1")
	require.NoError(t, err)
	require.Equal(t, trig.Source, trig2.Source)
	require.True(t, trig2.Active)
}

func TestDeleteTriggerRemovesFromDispatch(t *testing.T) {
	r, reg, docs := newTestRouter(t)
	proj, _, err := reg.CreateProject("owner", "Escrow", "", "addr", []byte(depositedDescriptor))
	require.NoError(t, err)
	src := `fn main(events) {
		insert @deposits:events.Deposited.depositor { amount: events.Deposited.amount }
	}`
	trig, err := r.CreateTrigger(proj.ID, "", "", src)
	require.NoError(t, err)

	require.NoError(t, r.DeleteTrigger(proj.ID, trig.TriggerID))

	ev := event.Decoded{ProjectID: proj.ID, Name: "Deposited", Fields: map[string]value.Value{
		"amount": value.Int(1), "depositor": value.String("z"),
	}}
	r.Dispatch(ev)
	_, err = docs.GetDoc(proj.ID, "deposits", "z")
	require.Error(t, err)
}
