// Package http serves the scheduler's JSON API, the iCalendar feed and the
// operational endpoints.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"scadenze/internal/core"
	applog "scadenze/internal/log"
	"scadenze/internal/metrics"
	"scadenze/internal/middleware/ratelimit"
	"scadenze/internal/middleware/security"
	"scadenze/internal/middleware/trace"
	"scadenze/internal/ports"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
)

// RuleRenderer renders an item's policy as an RRULE value.
type RuleRenderer interface {
	Rule(item core.RecurringItem) (string, error)
}

// Deps are the collaborators of the API handlers.
type Deps struct {
	Items       ports.ItemReader
	Completions ports.CompletionReader
	// Source expands items for previews and feeds regardless of their
	// active flag.
	Source     schedule.Source
	Rules      RuleRenderer
	Resolver   *services.NextDueResolver
	Loader     *services.CompletionLoader
	Completion *services.CompletionService
	Metrics    *metrics.Registry
	// Logger is stored per request with its request ID. Nil uses the slog
	// default.
	Logger *applog.Logger

	// Ready reports whether the backing store is reachable.
	Ready func(ctx context.Context) error
	// Now supplies today's date when as_of or month is omitted.
	Now func() time.Time

	RateLimit      ratelimit.Config
	TrustedProxies []string
}

type Server struct {
	http.Server
	deps    Deps
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = applog.FromContext(context.Background())
	}
	proxies := deps.TrustedProxies
	if len(proxies) == 0 {
		proxies = security.DefaultTrustedProxies
	}
	ips, err := security.NewIPResolver(proxies...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		deps:    deps,
		limiter: ratelimit.NewLimiter(deps.RateLimit),
	}

	r := chi.NewRouter()
	r.Use(trace.NewMiddleware(ips.ClientIP, deps.Metrics.ObserveHTTP).Middleware)
	r.Use(applog.Middleware(deps.Logger.WithComponent(applog.ComponentHTTP), trace.FromRequest))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(ips.ClientIP, func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		}))
		r.Get("/recurring", s.handleListRecurring)
		r.Route("/recurring/{id}", func(r chi.Router) {
			r.Get("/preview", s.handlePreview)
			r.Get("/next-due", s.handleNextDue)
			r.Get("/occurrences", s.handleOccurrences)
			r.Get("/calendar.ics", s.handleCalendar)
		})
		r.Put("/occurrences/{occurrenceId}/completion", s.handleSetCompletion)
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Shutdown stops the rate limiter and drains the server. Safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
