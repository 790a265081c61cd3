package authn

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/registry"
)

func TestJWTAuthenticatorRoundTrips(t *testing.T) {
	auth := NewJWTAuthenticator("test-secret", time.Hour)
	token, err := auth.Issue("owner-1")
	require.NoError(t, err)

	userID, err := auth.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "owner-1", userID)
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuthenticator("secret-a", time.Hour).Issue("owner-1")
	require.NoError(t, err)

	_, err = NewJWTAuthenticator("secret-b", time.Hour).Authenticate(token)
	require.Error(t, err)
}

func TestRequireBearerRejectsMissingHeader(t *testing.T) {
	auth := NewJWTAuthenticator("secret", time.Hour)
	called := false
	h := RequireBearer(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearerStoresOwnerID(t *testing.T) {
	auth := NewJWTAuthenticator("secret", time.Hour)
	token, err := auth.Issue("owner-7")
	require.NoError(t, err)

	var seen string
	h := RequireBearer(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = OwnerID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "owner-7", seen)
}

type fakeResolver struct {
	proj registry.Project
	err  error
}

func (f fakeResolver) GetProjectByAPIKey(string) (registry.Project, error) { return f.proj, f.err }

func TestRequireAPIKeyAcceptsHeaderOrQueryParam(t *testing.T) {
	resolver := fakeResolver{proj: registry.Project{ID: "p1"}}
	var seen registry.Project
	h := RequireAPIKey(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ProjectFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?api_key=trg_abc", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "p1", seen.ID)

	seen = registry.Project{}
	req = httptest.NewRequest(http.MethodGet, "/api/db/collections", nil)
	req.Header.Set("x-api-key", "trg_abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "p1", seen.ID)
}

func TestRequireAPIKeyRejectsUnknownKey(t *testing.T) {
	resolver := fakeResolver{err: apierr.Unauthorized("unknown api key")}
	called := false
	h := RequireAPIKey(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/db/collections", nil)
	req.Header.Set("x-api-key", "bogus")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
