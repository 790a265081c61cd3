// Package authn implements the two auth schemes spec.md §6 requires of the
// gateway: bearer JWT for console endpoints and x-api-key for runtime/SDK
// endpoints, each resolved into the caller's owner id or Project.
package authn

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/registry"
)

// Claims is the JWT payload issued to console users. Triggr does not run
// its own identity provider (spec.md §6: "validated by an external
// identity provider"); Issue exists for local development and tests where
// no such provider is wired in front of the gateway.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates bearer tokens against a shared secret.
type JWTAuthenticator struct {
	secret []byte
	expiry time.Duration
}

// NewJWTAuthenticator constructs a JWTAuthenticator. expiry is only used
// by Issue; Authenticate honors whatever expiry is embedded in the token.
func NewJWTAuthenticator(secret string, expiry time.Duration) *JWTAuthenticator {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTAuthenticator{secret: []byte(secret), expiry: expiry}
}

// Issue mints a bearer token for userID. Used by local/dev tooling; a
// production deployment fronted by a real identity provider never calls
// this on the hot path.
func (a *JWTAuthenticator) Issue(userID string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "triggr",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Authenticate validates a bearer token string and returns its subject.
func (a *JWTAuthenticator) Authenticate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierr.Unauthorized("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return "", apierr.Wrap(apierr.CodeUnauthorized, "invalid bearer token", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", apierr.Unauthorized("invalid bearer token")
	}
	return claims.UserID, nil
}

// ctxKey avoids collisions with context keys set by other packages.
type ctxKey int

const (
	ctxOwnerID ctxKey = iota
	ctxProject
)

// WithOwnerID returns a context carrying the authenticated console user.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxOwnerID, ownerID)
}

// OwnerID reads the authenticated console user out of ctx.
func OwnerID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxOwnerID).(string)
	return v, ok
}

// WithProject returns a context carrying the caller's resolved project.
func WithProject(ctx context.Context, proj registry.Project) context.Context {
	return context.WithValue(ctx, ctxProject, proj)
}

// ProjectFromContext reads the caller's resolved project out of ctx.
func ProjectFromContext(ctx context.Context) (registry.Project, bool) {
	v, ok := ctx.Value(ctxProject).(registry.Project)
	return v, ok
}

// RequireBearer is gateway middleware for console endpoints: it validates
// the Authorization: Bearer header and stores the resolved owner id.
func RequireBearer(auth *JWTAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, apierr.Unauthorized("missing bearer token"))
				return
			}
			ownerID, err := auth.Authenticate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
		})
	}
}

// ProjectResolver looks a plaintext API key up into its owning Project.
// Implemented by *registry.Registry; narrowed to keep authn test-only
// dependency-free.
type ProjectResolver interface {
	GetProjectByAPIKey(plaintextKey string) (registry.Project, error)
}

// RequireAPIKey is gateway middleware for runtime/SDK endpoints: it
// resolves x-api-key (header, or query string for the WebSocket upgrade
// which can't set headers from a browser) into a Project and stores it.
func RequireAPIKey(resolver ProjectResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("x-api-key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key == "" {
				writeAuthError(w, apierr.Unauthorized("missing x-api-key"))
				return
			}
			proj, err := resolver.GetProjectByAPIKey(key)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProject(r.Context(), proj)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	svcErr, ok := apierr.As(err)
	if !ok {
		svcErr = apierr.New(apierr.CodeUnauthorized, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus())
	_, _ = w.Write([]byte(`{"code":"` + string(svcErr.Code) + `","message":"` + svcErr.Message + `"}`))
}
