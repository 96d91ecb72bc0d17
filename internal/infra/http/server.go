package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-referral-bot/internal/config"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Server exposes /health, /metrics and, in webhook mode, /webhook/{secret}.
type Server struct {
	cfg           config.HTTPConfig
	webhookSecret string
	webhook       http.Handler
	checks        map[string]Check
	log           *zerolog.Logger
	server        *http.Server
}

// NewServer builds the server. webhook may be nil when the bot polls.
func NewServer(cfg config.HTTPConfig, webhookSecret string, webhook http.Handler, checks map[string]Check, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "HTTPServer").Logger()
	s := &Server{
		cfg:           cfg,
		webhookSecret: webhookSecret,
		webhook:       webhook,
		checks:        checks,
		log:           &l,
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.webhook != nil {
		wr := r.With()
		if s.cfg.WriteTimeout > 0 {
			wr = r.With(Timeout(s.cfg.WriteTimeout))
		}
		wr.Post("/webhook/{secret}", s.handleWebhook)
	}
	return r
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Bool("webhook", s.webhook != nil).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.webhookSecret)) != 1 {
		http.NotFound(w, r)
		return
	}
	s.webhook.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
