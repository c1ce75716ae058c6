package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

const readyTimeout = 3 * time.Second

// Pinger is used for readiness checks (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Check is an additional named readiness dependency, e.g. the shared rate limit store.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Server serves liveness and readiness checks.
type Server struct {
	pinger Pinger
	checks []Check
}

// NewServer returns a health server. pinger may be nil; then readiness skips the DB ping.
func NewServer(pinger Pinger, checks ...Check) *Server {
	return &Server{pinger: pinger, checks: checks}
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Live reports that the process is up.
// GET /healthz
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, statusResponse{Status: "ok"})
}

// Ready reports whether the database and other dependencies answer.
// GET /readyz
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	resp := statusResponse{Status: "ok", Checks: map[string]string{}}
	code := http.StatusOK
	record := func(name string, err error) {
		if err != nil {
			log.Printf("health: %s not ready: %v", name, err)
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			return
		}
		resp.Checks[name] = "ok"
	}
	if s.pinger != nil {
		record("database", s.pinger.PingContext(ctx))
	}
	for _, c := range s.checks {
		if c.Run != nil {
			record(c.Name, c.Run(ctx))
		}
	}
	writeStatus(w, code, resp)
}

func writeStatus(w http.ResponseWriter, code int, body statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
