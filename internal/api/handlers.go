package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"logibid/internal/opt"
	"logibid/internal/store"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the ledger when it supports it (Postgres).
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if pg, ok := s.Ledger.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) session(r *http.Request) string {
	if v := r.URL.Query().Get("session"); v != "" {
		return v
	}
	return s.Session
}

// RoundsHandler lists the rounds of a session in auction order.
func (s *Server) RoundsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/rounds" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session := s.session(r)
	if session == "" {
		writeProblem(w, http.StatusBadRequest, "Missing session", "session query parameter required", r.URL.Path)
		return
	}
	items, err := s.Ledger.ListRounds(r.Context(), session)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List rounds failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "items": items})
}

func (s *Server) RoundByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/rounds/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	rec, err := s.Ledger.GetRound(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Round not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get round failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PlanMetricsHandler returns the optimizer summaries of a session. It prefers
// the ledger and falls back to the in-memory metrics of the running agent.
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fleet := r.URL.Query().Get("fleet")
	includeWeights := false
	if v := r.URL.Query().Get("includeWeights"); strings.EqualFold(v, "true") || v == "1" {
		includeWeights = true
	}
	items := []map[string]any{}
	saved, err := s.Ledger.ListPlanMetrics(r.Context(), s.session(r))
	if err == nil && len(saved) > 0 {
		for f, m := range saved {
			if fleet != "" && f != fleet {
				continue
			}
			items = append(items, map[string]any{
				"fleet":         f,
				"iterations":    m.Iterations,
				"improvements":  m.Improvements,
				"acceptedWorse": m.AcceptedWorse,
				"bestCost":      m.BestCost,
				"finalCost":     m.FinalCost,
				"moveSelects":   m.MoveSelects,
				"source":        "ledger",
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	for f, m := range opt.GetMetrics(s.Agent) {
		if fleet != "" && f != fleet {
			continue
		}
		item := map[string]any{
			"fleet":         f,
			"iterations":    m.Iterations,
			"improvements":  m.Improvements,
			"acceptedWorse": m.AcceptedWorse,
			"bestCost":      m.BestCost,
			"finalCost":     m.FinalCost,
			"moveSelects":   m.MoveSelects[:],
			"source":        "memory",
		}
		if includeWeights {
			item["snapshots"] = m.Snapshots
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
