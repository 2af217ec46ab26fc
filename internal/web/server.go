package web

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3money/portal/internal/domain"
	"github.com/web3money/portal/internal/gate"
	"github.com/web3money/portal/internal/metrics"
	"github.com/web3money/portal/internal/service"
	"github.com/web3money/portal/internal/voting"
)

// Pinger reports whether a dependency is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators a Server renders pages from.
type Deps struct {
	Gate     *gate.Gate
	Workflow *voting.Workflow
	Service  *service.PortalService
	Sessions sessions.Store
	DB       Pinger
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	// Development relaxes referrer checks and enables the relay override.
	Development bool
	Templates   fs.FS
	Logger      *slog.Logger
}

type Server struct {
	gate        *gate.Gate
	workflow    *voting.Workflow
	service     *service.PortalService
	sessions    sessions.Store
	db          Pinger
	gatherer    prometheus.Gatherer
	metrics     *metrics.Metrics
	development bool
	templates   fs.FS
	mux         *http.ServeMux
	handler     http.Handler
	tmplFuncs   template.FuncMap
	logger      *slog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		gate:        d.Gate,
		workflow:    d.Workflow,
		service:     d.Service,
		sessions:    d.Sessions,
		db:          d.DB,
		gatherer:    d.Gatherer,
		metrics:     d.Metrics,
		development: d.Development,
		templates:   d.Templates,
		mux:         http.NewServeMux(),
		logger:      d.Logger,
		tmplFuncs: template.FuncMap{
			"inc":        func(i int) int { return i + 1 },
			"score":      func(f float64) string { return fmt.Sprintf("%.1f", f) },
			"nearExpiry": func(c domain.Campaign, now time.Time) bool { return c.NearExpiry(now) },
			"isPremium":  func(t domain.Tier) bool { return t == domain.TierPremium },
		},
	}
	s.registerRoutes()

	var h http.Handler = s.mux
	h = securityHeaders(h)
	h = middleware.Recoverer(h)
	h = requestLogger(s.logger, h)
	h = middleware.RealIP(h)
	h = middleware.RequestID(h)
	s.handler = h
	return s
}

func (s *Server) registerRoutes() {
	cfg := s.gate.Config()

	s.mux.HandleFunc("GET /{$}", s.handleEntry)
	for _, r := range cfg.Relays {
		s.mux.HandleFunc("GET "+r.Path, s.handleRelay)
		s.mux.HandleFunc("POST "+r.Path, s.handleRelayOverride)
	}
	if cfg.Main.Path != "" {
		s.mux.HandleFunc("GET "+cfg.Main.Path, s.handleMain)
	}
	for _, t := range cfg.Tiers {
		s.mux.HandleFunc("GET "+t.Path, s.handleTierPage)
	}
	s.mux.HandleFunc("GET /campaigns/{id}/applicants", s.handleApplicants)
	s.mux.HandleFunc("GET /campaigns/{id}/applicants/{applicantID}/vote", s.handleVoteForm)
	s.mux.HandleFunc("POST /campaigns/{id}/applicants/{applicantID}/vote", s.handleVoteSubmit)
	s.mux.HandleFunc("GET /diagnostics/applicants", s.handleDiagnostics)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		// The gates read the full referrer of same-origin navigations.
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"script-src 'self' 'unsafe-inline' https://unpkg.com; "+
				"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; "+
				"font-src https://fonts.gstatic.com; "+
				"img-src 'self' data:; "+
				"connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer returns an *http.Server for addr; the caller owns its lifecycle.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// renderPage parses and executes a full-page template set.
func (s *Server) renderPage(w http.ResponseWriter, status int, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return tmpl.ExecuteTemplate(w, "base", data)
}

// renderPartial parses and executes a single named partial template.
// The file must contain exactly one {{define "name"}}...{{end}} block.
func (s *Server) renderPartial(w http.ResponseWriter, status int, file string, data any) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, file)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	basename := file
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		basename = file[idx+1:]
	}
	name := basename
	for _, t := range tmpl.Templates() {
		if n := t.Name(); n != "" && n != basename {
			name = n
			break
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return tmpl.ExecuteTemplate(w, name, data)
}
