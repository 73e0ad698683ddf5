// Package api serves the agent's read side over HTTP: health, Prometheus
// metrics, the round ledger, optimizer summaries and the live event stream.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logibid/internal/auth"
	"logibid/internal/events"
	"logibid/internal/logging"
	"logibid/internal/metrics"
	"logibid/internal/store"
)

type Server struct {
	Ledger  store.Ledger
	Broker  events.EventBroker
	Auth    *auth.Verifier
	Agent   string // agent name for the in-memory optimizer metrics fallback
	Session string // default session for queries without ?session=

	log *slog.Logger
}

func NewServer(ledger store.Ledger, broker events.EventBroker, verifier *auth.Verifier, agent, session string) *Server {
	return &Server{
		Ledger:  ledger,
		Broker:  broker,
		Auth:    verifier,
		Agent:   agent,
		Session: session,
		log:     logging.New("api"),
	}
}

// Routes registers every endpoint on a new mux wrapped in request logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events/ws", s.requireAuth(false, events.StreamHandler(s.Broker)))

	// Ledger
	mux.HandleFunc("/v1/rounds", s.requireAuth(false, s.RoundsHandler))
	mux.HandleFunc("/v1/rounds/", s.requireAuth(false, s.RoundByIDHandler))
	mux.HandleFunc("/v1/plan-metrics", s.requireAuth(false, s.PlanMetricsHandler))

	// Admin
	mux.HandleFunc("/v1/admin/debug", s.requireAuth(true, s.DebugJSON))
	return s.logMiddleware(mux)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
