package pubsub

import (
	"sync"

	"github.com/triggr/node/internal/metrics"
)

// Subscriber is a bounded outbound queue feeding one WebSocket
// connection. Overflow drops the oldest message and marks the subscriber
// degraded (spec.md §4.8); it is cleared the next time the consumer
// drains the queue.
type Subscriber struct {
	ID string

	mu       sync.Mutex
	queue    []WsPayload
	maxLen   int
	degraded bool
	notify   chan struct{}
	metrics  *metrics.Metrics

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newSubscriber(id string, maxLen int, m *metrics.Metrics) *Subscriber {
	return &Subscriber{ID: id, maxLen: maxLen, notify: make(chan struct{}, 1), metrics: m, closeCh: make(chan struct{})}
}

// CloseSignal is closed when the bus forces this subscriber's connection
// down (e.g. its owning project was deleted). The gateway's connection
// loop selects on it alongside Notify.
func (s *Subscriber) CloseSignal() <-chan struct{} { return s.closeCh }

// Close forces CloseSignal; idempotent.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.closeCh) })
}

func (s *Subscriber) push(p WsPayload) {
	s.mu.Lock()
	if len(s.queue) >= s.maxLen {
		s.queue = s.queue[1:]
		s.degraded = true
		if s.metrics != nil {
			s.metrics.SubscribersDegraded.WithLabelValues(p.Topic).Inc()
		}
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify signals (non-blocking, coalesced) that the queue has content to
// drain.
func (s *Subscriber) Notify() <-chan struct{} {
	return s.notify
}

// Drain empties and returns every queued payload in FIFO order. If this
// subscriber has dropped a message since the last successful drain, the
// first returned payload echoes Degraded=true and the flag is cleared
// (spec.md §8: "a subsequent successful send clears it").
func (s *Subscriber) Drain() []WsPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	if s.degraded && len(out) > 0 {
		out[0].Degraded = true
		s.degraded = false
	}
	return out
}

// Degraded reports whether this subscriber has dropped a message since
// the flag was last cleared by Drain or ClearDegraded.
func (s *Subscriber) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ClearDegraded resets the degraded flag, e.g. after the gateway has
// surfaced it to the client.
func (s *Subscriber) ClearDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = false
}
