package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/registry"
)

// fakeConn replays a canned sequence of inbound messages, then returns
// errClosed — simulating a server push followed by a disconnect.
type fakeConn struct {
	messages [][]byte
	sent     []interface{}
	idx      int
}

var errClosed = errors.New("fake: connection closed")

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	if f.idx >= len(f.messages) {
		return 0, nil, errClosed
	}
	m := f.messages[f.idx]
	f.idx++
	return 1, m, nil
}

func (f *fakeConn) Close() error { return nil }

func depositedSchema() []registry.EventDecl {
	return []registry.EventDecl{{
		Name: "Deposited",
		Fields: []registry.FieldDecl{
			{Name: "amount", Type: registry.TypeUint64},
		},
	}}
}

func buildNotification(t *testing.T, contract string, blockNumber uint64, amount uint64) []byte {
	t.Helper()
	payload := make([]byte, 8)
	for i := 0; i < 8; i++ {
		payload[i] = byte(amount >> (8 * i))
	}
	notif := blockNotification{}
	notif.Params.Result.BlockNumber = blockNumber
	notif.Params.Result.Events = []rawEvent{{
		Contract:  contract,
		EventName: "Deposited",
		DataHex:   "0x" + hex.EncodeToString(payload),
	}}
	raw, err := json.Marshal(notif)
	require.NoError(t, err)
	return raw
}

func TestConnectOnceDecodesAndPushesToIntake(t *testing.T) {
	conn := &fakeConn{messages: [][]byte{buildNotification(t, "addr1", 42, 777)}}
	c := NewClient(config.ChainConfig{IntakeQueueSize: 4}, nil)
	c.dial = func(ctx context.Context, url string) (wsConn, error) { return conn, nil }

	sub := Subscription{ProjectID: "p1", Endpoint: "wss://fake", ContractAddress: "addr1", Schema: depositedSchema()}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.connectOnce(ctx, sub)
	require.ErrorIs(t, err, errClosed)

	select {
	case ev := <-c.Intake():
		require.Equal(t, "Deposited", ev.Name)
		require.Equal(t, uint64(42), ev.BlockNumber)
		amt, _ := ev.Fields["amount"].Int()
		require.Equal(t, int64(777), amt)
	default:
		t.Fatal("expected a decoded event on the intake channel")
	}
	require.Len(t, conn.sent, 1)
}

func TestConnectOnceSkipsEventsForOtherContracts(t *testing.T) {
	conn := &fakeConn{messages: [][]byte{buildNotification(t, "someone-elses-addr", 1, 5)}}
	c := NewClient(config.ChainConfig{IntakeQueueSize: 4}, nil)
	c.dial = func(ctx context.Context, url string) (wsConn, error) { return conn, nil }

	sub := Subscription{ProjectID: "p1", Endpoint: "wss://fake", ContractAddress: "addr1", Schema: depositedSchema()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.connectOnce(ctx, sub)

	select {
	case ev := <-c.Intake():
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestConnectOnceReachesSubscribedState(t *testing.T) {
	conn := &fakeConn{messages: [][]byte{buildNotification(t, "addr1", 1, 1)}}
	c := NewClient(config.ChainConfig{IntakeQueueSize: 4}, nil)
	c.dial = func(ctx context.Context, url string) (wsConn, error) { return conn, nil }

	sub := Subscription{ProjectID: "p1", Endpoint: "wss://fake", ContractAddress: "addr1", Schema: depositedSchema()}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = c.connectOnce(ctx, sub)
	require.Equal(t, StateSubscribed, c.State())
}

func TestRunReconnectsUntilContextCanceled(t *testing.T) {
	attempts := 0
	c := NewClient(config.ChainConfig{IntakeQueueSize: 1, ReconnectInitial: time.Millisecond, ReconnectMax: 2 * time.Millisecond}, nil)
	c.dial = func(ctx context.Context, url string) (wsConn, error) {
		attempts++
		return &fakeConn{}, nil
	}
	sub := Subscription{ProjectID: "p1", Endpoint: "wss://fake", ContractAddress: "addr1"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c.Run(ctx, sub)
	require.GreaterOrEqual(t, attempts, 1)
	require.Equal(t, StateDisconnected, c.State())
	require.GreaterOrEqual(t, c.ReconnectCount(), attempts-2)
}
