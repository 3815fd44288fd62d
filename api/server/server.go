package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"streamq/api"
	"streamq/api/middleware"
	"streamq/config"
	"streamq/logger"
	"streamq/queue"
)

// Server wraps http.Server with graceful shutdown capabilities
type Server struct {
	httpServer *http.Server
	config     *config.Config
	logger     *logger.Logger
}

// dependencies contains all the dependencies needed to create a server
type dependencies struct {
	queue     *queue.Queue
	types     api.TypeLister
	consumers api.StateReporter
	config    *config.Config
	logger    *logger.Logger
}

// New creates a new server with all HTTP configuration. types and consumers
// feed the health endpoint and may be nil.
func New(q *queue.Queue, types api.TypeLister, consumers api.StateReporter, cfg *config.Config, lg *logger.Logger) *Server {
	deps := &dependencies{
		queue:     q,
		types:     types,
		consumers: consumers,
		config:    cfg,
		logger:    lg,
	}

	// Create router with all routes and middleware
	handler := newRouter(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		config: cfg,
		logger: lg,
	}
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// newRouter creates and configures the HTTP router with all routes and middleware
func newRouter(deps *dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /streams/{key}/entries", api.NewProduceHandler(deps.queue, deps.logger))
	mux.HandleFunc("GET /streams/{key}", api.NewInfoHandler(deps.queue, deps.logger))
	mux.HandleFunc("POST /streams/{key}/trim", api.NewTrimHandler(deps.queue, deps.logger))
	mux.HandleFunc("POST /streams/{key}/claim", api.NewClaimHandler(deps.queue, deps.logger))
	mux.HandleFunc("GET /health", api.NewHealthHandler(deps.config.Version, deps.queue, deps.types, deps.consumers, deps.logger))

	return applyMiddleware(mux, deps.logger)
}

// applyMiddleware wraps the handler with all necessary middleware
func applyMiddleware(handler http.Handler, lg *logger.Logger) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	wrapped := handler

	// Request logging middleware
	wrapped = middleware.LoggingMiddleware(lg)(wrapped)

	return wrapped
}

// Start listens on the configured address and blocks until ctx is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.logger.Error("Server failed to start", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", map[string]any{
			"address": ln.Addr().String(),
		})

		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed", map[string]any{
				"error": err.Error(),
			})
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	return s.shutdown()
}

// shutdown gracefully shuts down the server
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", map[string]any{
			"error": err.Error(),
		})

		return err
	}

	s.logger.Info("Server shutdown complete")
	return nil
}
