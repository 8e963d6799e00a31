// Package proxy implements the external HTTP surface (spec §6): the
// OpenAI-compatible chat completions endpoint, the chain execution
// endpoints, and the ambient operational endpoints (models, health,
// metrics). It is grounded on the teacher's internal/server.Server —
// same gorilla/mux route-table shape, same logging/CORS/content-type
// middleware stack, same SSE chunk-writing pattern — generalized from
// the teacher's provider-keyed Router to the model-keyed routing.Engine
// and extended with chain execution, which the teacher never had.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/chain"
	"github.com/intellirouter/intellirouter/internal/metrics"
	"github.com/intellirouter/intellirouter/internal/middleware"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/routing"
)

// Config holds server-level settings independent of routing/security.
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
}

// Server is IntelliRouter's HTTP surface: one gorilla/mux router wired
// to the routing engine, the chain executor, and the security/
// validation middleware chain.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	engine     *routing.Engine
	executor   *chain.Executor
	chains     *chain.Store
	executions *chain.ExecutionStore
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	security   *middleware.SecurityMiddleware
	validation *middleware.ValidationMiddleware

	httpServer *http.Server
}

// New assembles a Server from its dependencies. security and validation
// may be nil, in which case their middleware stages are skipped
// (mirroring the teacher's NewServer, which only wires a middleware
// when its config block is non-nil).
func New(
	cfg Config,
	reg *registry.Registry,
	engine *routing.Engine,
	executor *chain.Executor,
	m *metrics.Metrics,
	logger *logrus.Logger,
	security *middleware.SecurityMiddleware,
	validation *middleware.ValidationMiddleware,
) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		cfg:        cfg,
		registry:   reg,
		engine:     engine,
		executor:   executor,
		chains:     chain.NewStore(),
		executions: chain.NewExecutionStore(),
		metrics:    m,
		logger:     logger,
		security:   security,
		validation: validation,
	}
}

// Start builds the route table and blocks serving HTTP until the
// listener fails or Stop shuts it down.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.cfg.Port,
		Handler:        r,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.cfg.Port).Info("starting IntelliRouter server")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully, releasing the security
// middleware's background goroutines (rate limiter cleanup, audit
// flush) along the way.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping IntelliRouter server")
	if s.security != nil {
		s.security.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.security != nil {
		r.Use(s.security.Handler())
	}
	if s.validation != nil {
		r.Use(s.validation.Middleware)
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/chat/completions", s.handleChatCompletion).Methods(http.MethodPost)
	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{id}", s.handleGetModel).Methods(http.MethodGet)

	api.HandleFunc("/chains", s.handlePutChain).Methods(http.MethodPut)
	api.HandleFunc("/chains", s.handleListChains).Methods(http.MethodGet)
	api.HandleFunc("/chains/{id}", s.handleGetChain).Methods(http.MethodGet)
	api.HandleFunc("/chains/{id}", s.handleDeleteChain).Methods(http.MethodDelete)
	api.HandleFunc("/chains/{id}/execute", s.handleExecuteChain).Methods(http.MethodPost)
	api.HandleFunc("/chains/{id}/executions/{execution_id}", s.handleGetExecution).Methods(http.MethodGet)
	api.HandleFunc("/chains/{id}/executions/{execution_id}/cancel", s.handleCancelExecution).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.HandleFunc("/docs/openapi.yaml", s.handleOpenAPISpec).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)
	r.HandleFunc("/docs/", s.handleSwaggerUI).Methods(http.MethodGet)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("http request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			ct := r.Header.Get("Content-Type")
			if ct != "application/json" && ct != "" {
				s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
// for access logging, and forwards Flush so SSE handlers downstream of
// the middleware chain still see an http.Flusher.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// writeError renders an {error:{message,type,code}} envelope with type
// "api_error" for errors raised outside apierr (the Content-Type check in
// contentTypeMiddleware). Errors produced by the routing/chain layers go through
// writeAPIError in errors.go instead, which maps apierr.Kind precisely.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    fmt.Sprintf("%d", status),
		},
	})
}
