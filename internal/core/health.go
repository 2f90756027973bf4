package core

import (
	"net/http"
)

// healthResponse is the body returned by the health check endpoint.
type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// HandleHealth serves the liveness check. It deliberately avoids touching the
// database: load balancers poll it at high frequency and a degraded database
// is surfaced through request errors, not liveness flaps.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.Config != nil {
		resp.Service = s.Config.Service
		resp.Version = s.Config.Build.Version
	}
	JSON(w, r, http.StatusOK, resp)
}
