package gateway

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/metrics"
	"github.com/triggr/node/pkg/logger"
)

// corsMiddleware allows any origin, matching the teacher's own gateway
// (SDK/browser callers are not same-origin with the node).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware converts a panicking handler into a 500 instead of
// taking down the whole gateway (spec.md §7: background and per-request
// failures must never crash the process).
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if log != nil {
						log.WithFields(map[string]interface{}{
							"path":   r.URL.Path,
							"method": r.Method,
							"panic":  rec,
						}).Error("panic recovered in gateway handler")
					}
					writeError(w, apierr.New(apierr.CodeInternal, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// timeoutMiddleware enforces the per-request deadline from spec.md §5
// ("HTTP handlers use a per-request deadline (default 30s)"). WebSocket
// upgrades bypass it: http.TimeoutHandler's writer cannot be hijacked,
// and the connection is long-lived anyway.
func timeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		timed := http.TimeoutHandler(next, d, `{"code":"INTERNAL_ERROR","message":"request timed out"}`)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware records request counts/duration/in-flight gauges.
func metricsMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || websocket.IsWebSocketUpgrade(r) {
				// the statusRecorder wrapper would hide http.Hijacker from
				// the websocket upgrader
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			status := strconv.Itoa(wrapped.status)
			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status = code
		s.written = true
	}
	s.ResponseWriter.WriteHeader(code)
}

// rateLimiter is a per-key token bucket behind a map, grounded on the
// teacher's infrastructure/middleware/ratelimit.go RateLimiter shape.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newRateLimiter(requestsPerSecond float64, burst int) *rateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &rateLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(requestsPerSecond), burst: burst}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// rateLimitMiddleware enforces a per-API-key (falling back to remote
// addr, for console callers) token bucket, surfacing apierr.CodeRateLimited
// per spec.md §7.
func rateLimitMiddleware(rl *rateLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("x-api-key")
			if key == "" {
				key = r.RemoteAddr
			}
			if !rl.allow(key) {
				writeError(w, apierr.Newf(apierr.CodeRateLimited, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
