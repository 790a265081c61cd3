// Package pubsub implements the Pub/Sub Bus (C8): a topic → subscriber
// map behind a reader-writer lock, fanning out store.ChangeRecords as
// WsPayloads to bounded per-subscriber queues (spec.md §4.8).
package pubsub

import (
	"fmt"
	"strings"
	"sync"

	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/internal/store"
)

const defaultQueueSize = 256

// WsPayload is the outbound frame shape pushed to every subscriber of a
// matching topic.
type WsPayload struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic"`
	Doc   *store.Document `json:"doc,omitempty"`
	// Degraded echoes true on the first payload of the next successful
	// drain after this subscriber dropped a message, so SDKs can detect
	// the transition without polling (spec.md §8 boundary behavior).
	Degraded bool `json:"degraded,omitempty"`
}

// CollectionTopic and DocumentTopic build the two topic forms from
// spec.md §4.8, namespaced by project so subscribers can never cross a
// project boundary even if they learn another project's collection name.
func CollectionTopic(projectID, collection string) string {
	return fmt.Sprintf("%s:collection:%s:change", projectID, collection)
}

func DocumentTopic(projectID, collection, docID string) string {
	return fmt.Sprintf("%s:document:%s:%s:change", projectID, collection, docID)
}

// Bus is the process-wide pub/sub table. It implements store.Publisher.
type Bus struct {
	mu        sync.RWMutex
	topics    map[string]map[string]*Subscriber // topic -> subscriber id -> Subscriber
	queueSize int
	metrics   *metrics.Metrics
}

// New constructs a Bus whose subscriber queues hold queueSize messages
// before the oldest is dropped. queueSize <= 0 uses the spec default (256).
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{topics: make(map[string]map[string]*Subscriber), queueSize: queueSize}
}

// SetMetrics attaches the process-wide metrics collector; nil (the
// default) disables instrumentation.
func (b *Bus) SetMetrics(m *metrics.Metrics) { b.metrics = m }

// NewSubscriber creates a fresh, unsubscribed Subscriber bound to one
// WebSocket connection, and reports it in the active-subscriber gauge.
func (b *Bus) NewSubscriber(id string) *Subscriber {
	sub := newSubscriber(id, b.queueSize, b.metrics)
	if b.metrics != nil {
		b.metrics.SubscribersActive.Inc()
	}
	return sub
}

// CloseSubscriber marks sub gone from the active-subscriber gauge; callers
// still must RemoveSubscriber to drop its topic memberships.
func (b *Bus) CloseSubscriber(sub *Subscriber) {
	if b.metrics != nil {
		b.metrics.SubscribersActive.Dec()
	}
}

// Subscribe adds sub to topic's fan-out set.
func (b *Bus) Subscribe(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[string]*Subscriber)
		b.topics[topic] = set
	}
	set[sub.ID] = sub
}

// Unsubscribe removes sub from topic's fan-out set.
func (b *Bus) Unsubscribe(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(set, sub.ID)
	if len(set) == 0 {
		delete(b.topics, topic)
	}
}

// RemoveSubscriber drops sub from every topic it was subscribed to, used
// when its WebSocket connection closes.
func (b *Bus) RemoveSubscriber(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, set := range b.topics {
		if _, ok := set[sub.ID]; ok {
			delete(set, sub.ID)
			if len(set) == 0 {
				delete(b.topics, topic)
			}
		}
	}
}

// SubscribersForProject returns every subscriber currently subscribed to
// any topic namespaced under projectID, deduplicated by subscriber id.
// The gateway uses this to close WebSocket connections bound to a
// project that has just been deleted (spec.md §9 open question: "the
// safe choice is to close them with an explicit reason frame").
func (b *Bus) SubscribersForProject(projectID string) []*Subscriber {
	prefix := projectID + ":"
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[string]*Subscriber)
	for topic, set := range b.topics {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		for id, s := range set {
			seen[id] = s
		}
	}
	out := make([]*Subscriber, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

// PublishChange implements store.Publisher: it computes both topics for
// rec and pushes one WsPayload to every subscriber of each.
func (b *Bus) PublishChange(rec store.ChangeRecord) {
	doc := rec.New
	if rec.Op == store.OpDelete {
		doc = rec.Old
	}

	collTopic := CollectionTopic(rec.ProjectID, rec.Collection)
	docTopic := DocumentTopic(rec.ProjectID, rec.Collection, rec.DocID)

	b.publish(collTopic, WsPayload{Op: string(rec.Op), Topic: collTopic, Doc: doc})
	b.publish(docTopic, WsPayload{Op: string(rec.Op), Topic: docTopic, Doc: doc})
}

func (b *Bus) publish(topic string, payload WsPayload) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.topics[topic]))
	for _, s := range b.topics[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.push(payload)
	}
}
