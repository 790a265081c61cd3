package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/triggr/node/internal/authn"
	"github.com/triggr/node/internal/config"
	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/internal/pubsub"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/router"
	"github.com/triggr/node/internal/store"
	"github.com/triggr/node/pkg/logger"
)

// Server is the Gateway (C9): the HTTP + WebSocket surface over the
// Document Store, Contract Registry, and Trigger Router.
type Server struct {
	cfg     config.ServerConfig
	log     *logger.Logger
	metrics *metrics.Metrics

	registry *registry.Registry
	docs     *store.Store
	triggers *router.Router
	bus      *pubsub.Bus

	jwtAuth *authn.JWTAuthenticator
	limiter *rateLimiter

	httpServer *http.Server
}

// New constructs a Server; call Run to start accepting connections.
func New(
	cfg config.ServerConfig,
	rl config.RateLimitConfig,
	log *logger.Logger,
	m *metrics.Metrics,
	reg *registry.Registry,
	docs *store.Store,
	triggers *router.Router,
	bus *pubsub.Bus,
	jwtAuth *authn.JWTAuthenticator,
) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		registry: reg,
		docs:     docs,
		triggers: triggers,
		bus:      bus,
		jwtAuth:  jwtAuth,
		limiter:  newRateLimiter(rl.RequestsPerSecond, rl.Burst),
	}
}

// buildRouter wires every route from spec.md §4.9 behind the common
// middleware chain (recovery, CORS, metrics, per-request timeout, rate
// limit).
func (s *Server) buildRouter() http.Handler {
	r := mux.NewRouter()

	bearer := authn.RequireBearer(s.jwtAuth)
	apiKey := authn.RequireAPIKey(s.registry)

	console := r.PathPrefix("/api/console").Subrouter()
	console.Use(bearer)
	console.HandleFunc("/project", s.handleCreateProject).Methods(http.MethodPost)
	console.HandleFunc("/projects", s.handleListProjects).Methods(http.MethodGet)
	console.HandleFunc("/project/{api_key}", s.handleGetProjectConsole).Methods(http.MethodGet)
	console.HandleFunc("/project/{api_key}", s.handleDeleteProjectConsole).Methods(http.MethodDelete)

	db := r.PathPrefix("/api/db").Subrouter()
	db.Use(apiKey)
	db.HandleFunc("/collections", s.handleListCollections).Methods(http.MethodGet)
	db.HandleFunc("/collections", s.handleCreateCollection).Methods(http.MethodPost)
	db.HandleFunc("/collections/{collection}/docs", s.handleListDocs).Methods(http.MethodGet)
	db.HandleFunc("/collections/{collection}/docs", s.handleInsertDoc).Methods(http.MethodPost)
	db.HandleFunc("/collections/{collection}/docs/{docId}", s.handleGetDoc).Methods(http.MethodGet)
	db.HandleFunc("/collections/{collection}/docs/{docId}", s.handlePutDoc).Methods(http.MethodPut)
	db.HandleFunc("/collections/{collection}/docs/{docId}", s.handlePatchDoc).Methods(http.MethodPatch)
	db.HandleFunc("/collections/{collection}/docs/{docId}", s.handleDeleteDoc).Methods(http.MethodDelete)

	r.Handle("/api/trigger", apiKey(http.HandlerFunc(s.handleCreateTrigger))).Methods(http.MethodPost)
	trig := r.PathPrefix("/api/trigger").Subrouter()
	trig.Use(apiKey)
	trig.HandleFunc("/{contract}", s.handleListTriggers).Methods(http.MethodGet)
	trig.HandleFunc("/{contract}/{triggerId}/state", s.handleSetTriggerState).Methods(http.MethodPut)
	trig.HandleFunc("/{contract}/{triggerId}", s.handleDeleteTrigger).Methods(http.MethodDelete)

	r.Handle("/ws", apiKey(http.HandlerFunc(s.handleWebSocket))).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = corsMiddleware(handler)
	handler = metricsMiddleware(s.metrics)(handler)
	handler = rateLimitMiddleware(s.limiter)(handler)
	handler = timeoutMiddleware(s.cfg.RequestTimeout)(handler)
	handler = recoveryMiddleware(s.log)(handler)
	return handler
}

// Run starts the HTTP listener and blocks until ctx is canceled, then
// drains in-flight requests before returning (spec.md §6 exit codes:
// SIGTERM "triggers a graceful drain of in-flight HTTP requests and
// pub/sub flushes before exit").
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.buildRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
