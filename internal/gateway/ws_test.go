package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/pubsub"
	"github.com/triggr/node/internal/value"
)

func dialWS(t *testing.T, ts *testServer, apiKey string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?api_key=" + apiKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscription(t *testing.T, ts *testServer, projectID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ts.bus.SubscribersForProject(projectID)) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription was never registered")
}

func TestWebSocketSubscribeReceivesChangePayload(t *testing.T) {
	ts := newTestServer(t)
	projectID, apiKey := ts.createProject(t)

	conn := dialWS(t, ts, apiKey)
	require.NoError(t, conn.WriteJSON(map[string]string{"data": "subscribe:collection:accounts:change"}))
	waitForSubscription(t, ts, projectID)

	_, err := ts.docs.InsertDoc(projectID, "accounts", "alice", value.Object().Set("balance", value.Int(10)).Build())
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var payload pubsub.WsPayload
	require.NoError(t, conn.ReadJSON(&payload))
	require.Equal(t, "insert", payload.Op)
	require.Equal(t, "collection:accounts:change", payload.Topic)
	require.NotNil(t, payload.Doc)
	require.Equal(t, "alice", payload.Doc.DocID)
}

func TestWebSocketUnknownInboundFramesIgnored(t *testing.T) {
	ts := newTestServer(t)
	projectID, apiKey := ts.createProject(t)

	conn := dialWS(t, ts, apiKey)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	require.NoError(t, conn.WriteJSON(map[string]string{"data": "frobnicate:something"}))

	// the connection must survive the junk and still accept a real command
	require.NoError(t, conn.WriteJSON(map[string]string{"data": "subscribe:collection:accounts:change"}))
	waitForSubscription(t, ts, projectID)
}

func TestWebSocketRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}
