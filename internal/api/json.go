package api

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 body; Type names the failure class under /problems/.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func problemType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "/problems/bad-request"
	case http.StatusUnauthorized:
		return "/problems/unauthorized"
	case http.StatusForbidden:
		return "/problems/forbidden"
	case http.StatusNotFound:
		return "/problems/not-found"
	case http.StatusServiceUnavailable:
		return "/problems/unavailable"
	default:
		return "about:blank"
	}
}

// respond marshals before writing the header so an unencodable body becomes a
// 500 instead of a truncated 200.
func respond(w http.ResponseWriter, status int, contentType string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"title":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	respond(w, status, "application/json", v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	respond(w, status, "application/problem+json", Problem{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}
