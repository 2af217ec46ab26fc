package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/web3money/portal/internal/gate"
	"github.com/web3money/portal/internal/service"
)

const recentAttemptLimit = 20

type diagnosticsView struct {
	Diagnostics service.Diagnostics
	Attempts    *service.AttemptSummary
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !s.service.DiagnosticsEnabled() {
		http.NotFound(w, r)
		return
	}
	if flagsOf(s.browserSession(r)).AccessVerified != gate.VerifiedValue {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	view := diagnosticsView{Diagnostics: s.service.DiagnosticApplicants(r.Context())}
	attempts, err := s.service.RecentAttempts(r.Context(), recentAttemptLimit)
	if err != nil {
		s.logger.Error("load vote attempts failed", "error", err)
	}
	view.Attempts = attempts

	if err := s.renderPage(w, http.StatusOK, view, "base.html", "pages/diagnostics.html"); err != nil {
		s.logger.Error("render page error", "error", err)
	}
}

type healthResponse struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{OK: true, Checks: map[string]string{"database": "ok"}}
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check failed", "check", "database", "error", err)
		resp.OK = false
		resp.Checks["database"] = "unavailable"
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("write health response failed", "error", err)
	}
}
