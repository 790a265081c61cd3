package router

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/dsl"
	"github.com/triggr/node/internal/dslrun"
	"github.com/triggr/node/internal/event"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/store"
	"github.com/triggr/node/pkg/logger"
)

// Router is the Trigger Router (C7). One instance serves every project;
// the dispatch index and compiled-tree cache are in-memory and rebuilt
// from persisted Trigger records at startup (spec.md §5: "in-memory;
// each is guarded by a reader-writer lock").
type Router struct {
	engine  *kv.Engine
	docs    *store.Store
	reg     *registry.Registry
	log     *logger.Logger
	now     func() time.Time
	metrics *metrics.Metrics
	budget  time.Duration

	// persistMu serializes trigger-record read-modify-write cycles against
	// the KV engine. It is deliberately separate from mu: KV commits must
	// not happen under the index's write lock (spec.md §5 suspension
	// points), so CRUD persists first and then swaps the index entries.
	persistMu sync.Mutex

	mu       sync.RWMutex
	index    map[string][]string      // project_id+"|"+event_name -> ordered trigger_id
	compiled map[string]*dsl.RuleTree // project_id+"/"+trigger_id -> compiled tree
}

// New constructs a Router. Call RebuildIndex once at startup before
// accepting dispatches.
func New(engine *kv.Engine, docs *store.Store, reg *registry.Registry, log *logger.Logger) *Router {
	return &Router{
		engine:   engine,
		docs:     docs,
		reg:      reg,
		log:      log,
		now:      time.Now,
		index:    make(map[string][]string),
		compiled: make(map[string]*dsl.RuleTree),
	}
}

// SetMetrics attaches the process-wide metrics collector; nil (the
// default) disables instrumentation.
func (r *Router) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// SetBudget overrides the per-invocation wall-clock budget for trigger
// evaluation (spec.md §5, default 2s).
func (r *Router) SetBudget(d time.Duration) { r.budget = d }

func indexKey(projectID, eventName string) string { return projectID + "|" + eventName }
func compiledKey(projectID, triggerID string) string { return projectID + "/" + triggerID }

// CreateTrigger compiles source against the project's contract schema and
// persists it. Compile failures are returned as ValidationError carrying
// the offending line (spec.md §8 scenario 3).
func (r *Router) CreateTrigger(projectID, triggerID, description, source string) (Trigger, error) {
	proj, err := r.reg.GetProject(projectID)
	if err != nil {
		return Trigger{}, err
	}
	if triggerID == "" {
		triggerID = uuid.NewString()
	}

	tree, err := dsl.Compile(source, proj.EventSchema)
	if err != nil {
		return Trigger{}, compileValidationError(err)
	}

	trig := Trigger{
		ProjectID:   projectID,
		TriggerID:   triggerID,
		Description: description,
		Source:      tree.Source,
		Active:      true,
		CreatedAt:   r.now().UTC(),
		BoundEvent:  tree.BoundEvent,
	}

	r.persistMu.Lock()
	if _, exists, err := r.readTrigger(projectID, triggerID); err != nil {
		r.persistMu.Unlock()
		return Trigger{}, err
	} else if exists {
		r.persistMu.Unlock()
		return Trigger{}, apierr.Conflict("trigger %s already exists", triggerID)
	}
	if err := r.putTrigger(trig); err != nil {
		r.persistMu.Unlock()
		return Trigger{}, err
	}
	r.persistMu.Unlock()

	r.mu.Lock()
	r.compiled[compiledKey(projectID, triggerID)] = tree
	r.insertIndex(projectID, tree.BoundEvent, triggerID)
	r.mu.Unlock()
	return trig, nil
}

// ListTriggers returns every trigger in a project, in key order.
func (r *Router) ListTriggers(projectID string) ([]Trigger, error) {
	entries, err := r.engine.ScanPrefix(triggerPrefix(projectID))
	if err != nil {
		return nil, err
	}
	out := make([]Trigger, 0, len(entries))
	for _, e := range entries {
		payload, err := kv.UnwrapRecord(e.Value)
		if err != nil {
			return nil, err
		}
		var t Trigger
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorage, "decode trigger", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// GetTrigger fetches one trigger, NotFound if absent.
func (r *Router) GetTrigger(projectID, triggerID string) (Trigger, error) {
	trig, ok, err := r.readTrigger(projectID, triggerID)
	if err != nil {
		return Trigger{}, err
	}
	if !ok {
		return Trigger{}, apierr.NotFound("trigger %s", triggerID)
	}
	return trig, nil
}

// SetActive flips a trigger's active flag. Reactivating a trigger that
// failed to compile at startup is rejected until it is re-created.
func (r *Router) SetActive(projectID, triggerID string, active bool) (Trigger, error) {
	r.persistMu.Lock()
	trig, ok, err := r.readTrigger(projectID, triggerID)
	if err != nil {
		r.persistMu.Unlock()
		return Trigger{}, err
	}
	if !ok {
		r.persistMu.Unlock()
		return Trigger{}, apierr.NotFound("trigger %s", triggerID)
	}
	if active && trig.CompileError != "" {
		r.persistMu.Unlock()
		return Trigger{}, apierr.Validation("trigger %s failed to compile and cannot be reactivated: %s", triggerID, trig.CompileError)
	}

	wasActive := trig.Active
	trig.Active = active
	if err := r.putTrigger(trig); err != nil {
		r.persistMu.Unlock()
		return Trigger{}, err
	}
	r.persistMu.Unlock()

	r.mu.Lock()
	if active && !wasActive {
		r.insertIndex(projectID, trig.BoundEvent, triggerID)
	} else if !active && wasActive {
		r.removeIndex(projectID, trig.BoundEvent, triggerID)
	}
	r.mu.Unlock()
	return trig, nil
}

// DeleteTrigger removes a trigger record and its index/compiled-tree
// entries.
func (r *Router) DeleteTrigger(projectID, triggerID string) error {
	r.persistMu.Lock()
	trig, ok, err := r.readTrigger(projectID, triggerID)
	if err != nil {
		r.persistMu.Unlock()
		return err
	}
	if !ok {
		r.persistMu.Unlock()
		return apierr.NotFound("trigger %s", triggerID)
	}
	if err := r.engine.Delete(triggerKey(projectID, triggerID)); err != nil {
		r.persistMu.Unlock()
		return err
	}
	r.persistMu.Unlock()

	r.mu.Lock()
	delete(r.compiled, compiledKey(projectID, triggerID))
	if trig.Active {
		r.removeIndex(projectID, trig.BoundEvent, triggerID)
	}
	r.mu.Unlock()
	return nil
}

// RebuildIndex scans every persisted trigger, recompiles it against its
// project's current schema, and rebuilds the dispatch index. Per-trigger
// compile failures mark the trigger inactive and record a diagnostic
// rather than aborting startup (spec.md §4.7).
func (r *Router) RebuildIndex() error {
	entries, err := r.engine.ScanPrefix(allTriggersPrefix)
	if err != nil {
		return err
	}

	newIndex := make(map[string][]string)
	newCompiled := make(map[string]*dsl.RuleTree)

	for _, e := range entries {
		payload, err := kv.UnwrapRecord(e.Value)
		if err != nil {
			return err
		}
		var trig Trigger
		if err := json.Unmarshal(payload, &trig); err != nil {
			return apierr.Wrap(apierr.CodeStorage, "decode trigger", err)
		}

		proj, err := r.reg.GetProject(trig.ProjectID)
		if err != nil {
			r.logBackground(trig, "", "owning project missing at startup")
			continue
		}

		tree, err := dsl.Compile(trig.Source, proj.EventSchema)
		if err != nil {
			trig.Active = false
			trig.CompileError = err.Error()
			_ = r.putTrigger(trig)
			r.logBackground(trig, "", "startup recompile failed: "+err.Error())
			continue
		}

		trig.BoundEvent = tree.BoundEvent
		trig.CompileError = ""
		newCompiled[compiledKey(trig.ProjectID, trig.TriggerID)] = tree
		if trig.Active {
			key := indexKey(trig.ProjectID, tree.BoundEvent)
			newIndex[key] = append(newIndex[key], trig.TriggerID)
		}
	}
	for _, ids := range newIndex {
		sort.Strings(ids)
	}

	r.mu.Lock()
	r.index = newIndex
	r.compiled = newCompiled
	r.mu.Unlock()
	return nil
}

// Dispatch runs every active trigger bound to ev.Name for ev.ProjectID,
// in ascending trigger_id order, updating last_run_at after each attempt
// regardless of outcome (spec.md §4.5, §4.7).
func (r *Router) Dispatch(ev event.Decoded) {
	r.mu.RLock()
	ids := append([]string(nil), r.index[indexKey(ev.ProjectID, ev.Name)]...)
	trees := make(map[string]*dsl.RuleTree, len(ids))
	for _, id := range ids {
		trees[id] = r.compiled[compiledKey(ev.ProjectID, id)]
	}
	r.mu.RUnlock()

	budget := r.budget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	for _, id := range ids {
		tree := trees[id]
		if tree == nil {
			continue
		}
		start := r.now()
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		err := dslrun.Evaluate(ctx, tree, ev, r.docs, ev.ProjectID)
		cancel()
		if r.metrics != nil {
			r.metrics.RecordTriggerRun(ev.ProjectID, id, r.now().Sub(start).Seconds(), err)
		}
		r.recordRun(ev.ProjectID, id, err, ev)
	}
}

func (r *Router) recordRun(projectID, triggerID string, runErr error, ev event.Decoded) {
	r.persistMu.Lock()
	trig, ok, err := r.readTrigger(projectID, triggerID)
	if err != nil || !ok {
		r.persistMu.Unlock()
		return
	}
	trig.LastRunAt = r.now().UTC()
	_ = r.putTrigger(trig)
	r.persistMu.Unlock()
	if runErr != nil {
		r.logBackground(trig, ev.Name, runErr.Error())
	}
}

func (r *Router) logBackground(trig Trigger, eventName, cause string) {
	if r.log == nil {
		return
	}
	r.log.WithFields(map[string]interface{}{
		"project":    trig.ProjectID,
		"trigger_id": trig.TriggerID,
		"event":      eventName,
		"cause":      cause,
	}).Warn("trigger evaluation failed")
}

func (r *Router) insertIndex(projectID, eventName, triggerID string) {
	key := indexKey(projectID, eventName)
	ids := r.index[key]
	pos := sort.SearchStrings(ids, triggerID)
	if pos < len(ids) && ids[pos] == triggerID {
		return
	}
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = triggerID
	r.index[key] = ids
}

func (r *Router) removeIndex(projectID, eventName, triggerID string) {
	key := indexKey(projectID, eventName)
	ids := r.index[key]
	pos := sort.SearchStrings(ids, triggerID)
	if pos >= len(ids) || ids[pos] != triggerID {
		return
	}
	r.index[key] = append(ids[:pos], ids[pos+1:]...)
}

func (r *Router) readTrigger(projectID, triggerID string) (Trigger, bool, error) {
	raw, err := r.engine.Get(triggerKey(projectID, triggerID))
	if err != nil {
		if svcErr, ok := apierr.As(err); ok && svcErr.Code == apierr.CodeNotFound {
			return Trigger{}, false, nil
		}
		return Trigger{}, false, err
	}
	payload, err := kv.UnwrapRecord(raw)
	if err != nil {
		return Trigger{}, false, err
	}
	var trig Trigger
	if err := json.Unmarshal(payload, &trig); err != nil {
		return Trigger{}, false, apierr.Wrap(apierr.CodeStorage, "decode trigger", err)
	}
	return trig, true, nil
}

func (r *Router) putTrigger(trig Trigger) error {
	raw, err := json.Marshal(trig)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorage, "encode trigger", err)
	}
	return r.engine.Put(triggerKey(trig.ProjectID, trig.TriggerID), kv.WrapRecord(raw))
}

// ForgetProject drops every in-memory dispatch-index and compiled-tree
// entry belonging to projectID. The persisted trigger records themselves
// are removed by store.DeleteProjectData as part of cascading project
// deletion (spec.md §3); this only clears the router's own cache so a
// deleted project's triggers stop firing immediately rather than at the
// next restart.
func (r *Router) ForgetProject(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	indexPrefix := projectID + "|"
	for key := range r.index {
		if strings.HasPrefix(key, indexPrefix) {
			delete(r.index, key)
		}
	}
	compiledPrefix := projectID + "/"
	for key := range r.compiled {
		if strings.HasPrefix(key, compiledPrefix) {
			delete(r.compiled, key)
		}
	}
}

// compileValidationError adapts a dsl.CompileError into the gateway-facing
// apierr shape, preserving the line number as a detail.
func compileValidationError(err error) error {
	if cerr, ok := err.(*dsl.CompileError); ok {
		return apierr.Validation("%s", cerr.Error()).WithDetail("line", cerr.Line).WithDetail("kind", cerr.Kind)
	}
	return apierr.Wrap(apierr.CodeValidation, "trigger compile failed", err)
}
