// Package httpapi serves the read/command HTTP surface: job and unit
// queries consumed by the dashboard and MCP tools, plus a handful of
// write endpoints (bypass, kill, restart) that delegate to the
// Orchestrator.
//
// Grounded on aipilotbyjd-linkflow-ai's internal/*/server package
// construction idiom: a functional-options constructor building a
// gorilla/mux router with logging/recovery middleware. There is no
// intervening application-service layer here the way linkflow-ai's
// auth server has one — a system this size reads mostly straight off
// the Store and delegates mutations to the Orchestrator directly.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mattsolo1/grove-batch/internal/orchestrator"
	"github.com/mattsolo1/grove-batch/internal/store"
)

// Server is the front-facing read/command HTTP API.
type Server struct {
	st       *store.Store
	orch     *orchestrator.Orchestrator
	log      *logrus.Entry
	readOnly bool

	addr                                   string
	readTimeout, writeTimeout, idleTimeout time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr overrides the default listen address ":3847".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the server's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) { s.log = log }
}

// WithReadOnly restricts the router to the GET routes, for the
// `dashboard` command: a read-only surface that needs no live
// Orchestrator (no Supervisor to spawn or signal).
func WithReadOnly() Option {
	return func(s *Server) { s.readOnly = true }
}

// New builds a Server over an already-open Store. orch may be nil when
// WithReadOnly is also passed; every write route depends on it.
func New(st *store.Store, orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		st:           st,
		orch:         orch,
		addr:         ":3847",
		readTimeout:  15 * time.Second,
		writeTimeout: 15 * time.Second,
		idleTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/units", s.handleListUnits).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/units/{uid}", s.handleGetUnit).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/live", s.handleLiveUnits).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	if !s.readOnly {
		api.HandleFunc("/jobs/{id}/bypass", s.handleBypass).Methods(http.MethodPost)
		api.HandleFunc("/jobs/{id}/kill", s.handleKillJob).Methods(http.MethodPost)
		api.HandleFunc("/jobs/{id}/restart", s.handleRestartJob).Methods(http.MethodPost)
		api.HandleFunc("/jobs/{id}/units/{uid}/kill", s.handleKillUnit).Methods(http.MethodPost)
		api.HandleFunc("/jobs/{id}/units/{uid}/restart", s.handleRestartUnit).Methods(http.MethodPost)
	}

	return r
}

// Handler exposes the configured router so tests can drive requests
// with httptest without going through ListenAndServe.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.log.WithField("addr", s.addr).Info("starting http api")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithField("panic", fmt.Sprintf("%v", rec)).Error("http handler panic")
				WriteError(w, http.StatusInternalServerError, CodeServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
