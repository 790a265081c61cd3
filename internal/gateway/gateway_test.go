package gateway

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/authn"
	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/pubsub"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/router"
	"github.com/triggr/node/internal/store"
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

type testServer struct {
	handler http.Handler
	reg     *registry.Registry
	docs    *store.Store
	bus     *pubsub.Bus
	jwtAuth *authn.JWTAuthenticator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	bus := pubsub.New(0)
	docs := store.New(engine, bus)
	reg := registry.New(engine, docs, nil)
	triggers := router.New(engine, docs, reg, nil)
	require.NoError(t, triggers.RebuildIndex())

	jwtAuth := authn.NewJWTAuthenticator("test-secret", time.Hour)
	srv := New(config.ServerConfig{RequestTimeout: 5 * time.Second}, config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}, nil, nil, reg, docs, triggers, bus, jwtAuth)

	return &testServer{handler: srv.buildRouter(), reg: reg, docs: docs, bus: bus, jwtAuth: jwtAuth}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) bearer(t *testing.T, ownerID string) string {
	t.Helper()
	token, err := ts.jwtAuth.Issue(ownerID)
	require.NoError(t, err)
	return token
}

func (ts *testServer) createProject(t *testing.T) (projectID, apiKey string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("project_name", "Escrow"))
	require.NoError(t, w.WriteField("contract_addr", "addr1"))
	part, err := w.CreateFormFile("contracts_json", "contracts.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(depositedDescriptor))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/console/project", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ts.bearer(t, "owner-1"))
	rec := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data struct {
			Project registry.Project `json:"project"`
			Secret  string           `json:"secret"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data.Project.ID, resp.Data.Secret
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateProjectRequiresBearer(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/console/project", nil)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateProjectAndListCollections(t *testing.T) {
	ts := newTestServer(t)
	_, apiKey := ts.createProject(t)

	req := httptest.NewRequest(http.MethodGet, "/api/db/collections", nil)
	req.Header.Set("x-api-key", apiKey)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, apiKey := ts.createProject(t)

	insertBody := `{"doc_id":"alice","data":{"balance":10}}`
	req := httptest.NewRequest(http.MethodPost, "/api/db/collections/accounts/docs", bytes.NewBufferString(insertBody))
	req.Header.Set("x-api-key", apiKey)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/db/collections/accounts/docs/alice", nil)
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	patchBody := `{"data":{"balance":20}}`
	req = httptest.NewRequest(http.MethodPatch, "/api/db/collections/accounts/docs/alice", bytes.NewBufferString(patchBody))
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/db/collections/accounts/docs/alice", nil)
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/db/collections/accounts/docs/alice", nil)
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, apiKey := ts.createProject(t)

	createBody := `{"contract_addr":"addr1","description":"record deposits","trigger":"fn main(events) {\n\tinsert @deposits:events.Deposited.depositor { amount: events.Deposited.amount }\n}"}`
	req := httptest.NewRequest(http.MethodPost, "/api/trigger", bytes.NewBufferString(createBody))
	req.Header.Set("x-api-key", apiKey)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data struct {
			TriggerID string `json:"trigger_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.TriggerID)

	req = httptest.NewRequest(http.MethodGet, "/api/trigger/addr1", nil)
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/trigger/addr1/"+resp.Data.TriggerID+"/state", bytes.NewBufferString(`{"active":false}`))
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/trigger/addr1/"+resp.Data.TriggerID, nil)
	req.Header.Set("x-api-key", apiKey)
	rec = ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteProjectClosesSubscribers(t *testing.T) {
	ts := newTestServer(t)
	projectID, apiKey := ts.createProject(t)
	sub := ts.bus.NewSubscriber("conn-1")
	ts.bus.Subscribe(sub, pubsub.CollectionTopic(projectID, "accounts"))

	req := httptest.NewRequest(http.MethodDelete, "/api/console/project/"+apiKey, nil)
	req.Header.Set("Authorization", "Bearer "+ts.bearer(t, "owner-1"))
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-sub.CloseSignal():
	default:
		t.Fatal("subscriber of the deleted project was not closed")
	}
	require.Empty(t, ts.bus.SubscribersForProject(projectID))

	_, err := ts.reg.GetProject(projectID)
	require.Error(t, err)
}
