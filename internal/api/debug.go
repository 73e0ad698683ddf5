package api

import (
	"net/http"
	"os"
	"time"

	"logibid/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":   buildinfo.Info(),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"agent":   s.Agent,
		"session": s.Session,
		"config": map[string]any{
			"AUTH_MODE":        os.Getenv("AUTH_MODE"),
			"HAS_DATABASE_URL": os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":    os.Getenv("REDIS_URL") != "",
			"HAS_WEBHOOK_URL":  os.Getenv("WEBHOOK_URL") != "",
		},
	})
}
