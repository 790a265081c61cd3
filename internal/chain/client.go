package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/event"
	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/pkg/logger"
	"github.com/triggr/node/pkg/version"
)

// ConnectionState tracks a Client's subscription lifecycle, mirroring the
// running/stopped bookkeeping the chain lineage's own listener keeps —
// surfaced here as three states instead of one bool since "connecting"
// (mid-backoff) is distinct from "subscribed" for diagnostics.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateSubscribed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Subscription names one long-lived (endpoint, contract_address)
// subscription and the schema needed to decode its events.
type Subscription struct {
	ProjectID       string
	Endpoint        string
	ContractAddress string
	Schema          []registry.EventDecl
}

// dialer is the seam tests substitute to avoid opening a real socket.
type dialer func(ctx context.Context, url string) (wsConn, error)

// wsConn is the subset of *websocket.Conn the client uses.
type wsConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

func defaultDialer(ctx context.Context, url string) (wsConn, error) {
	header := http.Header{"User-Agent": []string{version.UserAgent()}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Client runs the reconnect-and-decode loop for one or more Subscriptions,
// pushing decoded events onto a bounded channel (spec.md §4.6
// Backpressure: "the ingester blocks on push, never drops").
type Client struct {
	cfg     config.ChainConfig
	log     *logger.Logger
	dial    dialer
	intake  chan event.Decoded
	metrics *metrics.Metrics

	mu             sync.RWMutex
	state          ConnectionState
	reconnectCount int
}

// State reports the client's current connection lifecycle state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ReconnectCount reports how many times this client has had to reconnect.
func (c *Client) ReconnectCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnectCount
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SetMetrics attaches the process-wide metrics collector; nil (the
// default) disables instrumentation.
func (c *Client) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// NewClient constructs a Client with a bounded intake channel sized by
// cfg.IntakeQueueSize.
func NewClient(cfg config.ChainConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		log:    log,
		dial:   defaultDialer,
		intake: make(chan event.Decoded, cfg.IntakeQueueSize),
	}
}

// Intake is the channel C7 consumes decoded events from.
func (c *Client) Intake() <-chan event.Decoded {
	return c.intake
}

// subscribeRequest is the outbound JSON-RPC subscribe call.
type subscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// blockNotification is one inbound finalized-block push.
type blockNotification struct {
	Params struct {
		Result struct {
			BlockNumber uint64     `json:"block_number"`
			Events      []rawEvent `json:"events"`
		} `json:"result"`
	} `json:"params"`
}

type rawEvent struct {
	Contract       string `json:"contract"`
	EventIndex     int    `json:"event_index"`
	EventName      string `json:"event_name"`
	ExtrinsicIndex uint32 `json:"extrinsic_index"`
	DataHex        string `json:"data"`
}

// Run maintains sub's subscription until ctx is canceled, reconnecting
// with exponential backoff and full jitter on every disconnect
// (spec.md §4.6 step 1).
func (c *Client) Run(ctx context.Context, sub Subscription) {
	attempt := 0
	for ctx.Err() == nil {
		c.setState(StateConnecting)
		err := c.connectOnce(ctx, sub)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logWarn(sub, "connection lost, reconnecting: "+err.Error())
		}
		if attempt > 0 {
			c.mu.Lock()
			c.reconnectCount++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.ChainReconnects.WithLabelValues(sub.ProjectID).Inc()
			}
		}
		delay := backoff(attempt, c.cfg.ReconnectInitial, c.cfg.ReconnectMax)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context, sub Subscription) error {
	conn, err := c.dial(ctx, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sub.Endpoint, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{
		JSONRPC: "2.0", ID: 1, Method: "chain_subscribeFinalizedEvents",
		Params: []interface{}{sub.ContractAddress},
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.setState(StateSubscribed)

	schemaByName := make(map[string]registry.EventDecl, len(sub.Schema))
	for _, d := range sub.Schema {
		schemaByName[d.Name] = d
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var notif blockNotification
		if err := json.Unmarshal(msg, &notif); err != nil {
			c.logWarn(sub, "malformed block notification: "+err.Error())
			continue
		}
		for _, re := range notif.Params.Result.Events {
			if re.Contract != sub.ContractAddress {
				continue
			}
			c.handleRawEvent(ctx, sub, schemaByName, notif.Params.Result.BlockNumber, re)
		}
	}
}

func (c *Client) handleRawEvent(ctx context.Context, sub Subscription, schemaByName map[string]registry.EventDecl, blockNumber uint64, re rawEvent) {
	decl, ok := schemaByName[re.EventName]
	if !ok {
		c.logWarn(sub, fmt.Sprintf("event %q at block %d not in contract schema, skipped", re.EventName, blockNumber))
		return
	}
	raw, err := hex.DecodeString(trimHexPrefix(re.DataHex))
	if err != nil {
		c.logWarn(sub, fmt.Sprintf("event %q at block %d has invalid hex payload: %v", re.EventName, blockNumber, err))
		return
	}
	fields, err := DecodeEvent(raw, decl)
	if err != nil {
		c.logWarn(sub, fmt.Sprintf("event %q at block %d failed to decode: %v", re.EventName, blockNumber, err))
		return
	}

	decoded := event.Decoded{
		ProjectID:      sub.ProjectID,
		Name:           re.EventName,
		Fields:         fields,
		BlockNumber:    blockNumber,
		ExtrinsicIndex: re.ExtrinsicIndex,
	}
	select {
	case c.intake <- decoded:
		if c.metrics != nil {
			c.metrics.EventsDecoded.WithLabelValues(sub.ProjectID, re.EventName).Inc()
			c.metrics.IntakeQueueDepth.WithLabelValues(sub.ProjectID).Set(float64(len(c.intake)))
		}
	case <-ctx.Done():
	}
}

func (c *Client) logWarn(sub Subscription, msg string) {
	if c.log == nil {
		return
	}
	c.log.WithFields(map[string]interface{}{
		"project":  sub.ProjectID,
		"contract": sub.ContractAddress,
		"endpoint": sub.Endpoint,
	}).Warn(msg)
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// backoff computes the next reconnect delay: initial*2^attempt capped at
// max, with full jitter (spec.md §4.6 step 1).
func backoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	upper := initial
	for i := 0; i < attempt && upper < max; i++ {
		upper *= 2
	}
	if upper > max {
		upper = max
	}
	return time.Duration(rand.Int63n(int64(upper) + 1))
}
