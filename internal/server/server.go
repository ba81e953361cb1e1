package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/ingestkit/ingestkit/internal/errors"
	"github.com/ingestkit/ingestkit/internal/metrics"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/server/handlers"
	servermw "github.com/ingestkit/ingestkit/internal/server/middleware"
)

// Timeouts holds the http.Server timeouts.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	timeouts      Timeouts
	contextPrefix string
	fetchAPI      *handlers.FetchAPI
	connections   metrics.ConnectionTracker
}

// Option configures a Server.
type Option func(*Server)

// WithFetchAPI mounts the fetch log endpoints under /frontend-api/fetches.
func WithFetchAPI(api *handlers.FetchAPI) Option {
	return func(s *Server) {
		s.fetchAPI = api
	}
}

// WithContextHeaders copies inbound headers with prefix into the request
// log context. An empty prefix disables the middleware.
func WithContextHeaders(prefix string) Option {
	return func(s *Server) {
		s.contextPrefix = prefix
	}
}

// WithTimeouts overrides the default server timeouts. Zero fields keep the default.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		if t.Read > 0 {
			s.timeouts.Read = t.Read
		}
		if t.Write > 0 {
			s.timeouts.Write = t.Write
		}
		if t.Idle > 0 {
			s.timeouts.Idle = t.Idle
		}
	}
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		host:   host,
		port:   port,
		timeouts: Timeouts{
			Read:  30 * time.Second,
			Write: 60 * time.Second,
			Idle:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := s.router

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// RequestID → ContextHeaders → Metrics → Recovery
	r.Use(servermw.RequestID)
	if s.contextPrefix != "" {
		r.Use(servermw.ContextHeaders(s.contextPrefix))
	}
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewNotFoundError("The requested resource was not found")
		HandleError(w, req, err)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource")
		HandleError(w, req, err)
	})

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
		ConnState:    s.connections.ConnState,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// ActiveConnections reports the number of open inbound connections.
func (s *Server) ActiveConnections() int64 {
	return s.connections.Active()
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
