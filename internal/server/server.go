// Package server exposes identification, streaming, session actions and
// status over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/wine-identify/internal/action"
	"github.com/sells-group/wine-identify/internal/config"
	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/monitoring"
	"github.com/sells-group/wine-identify/internal/session"
	"github.com/sells-group/wine-identify/internal/stream"
)

// Identifier runs identifications.
type Identifier interface {
	Identify(ctx context.Context, req model.IdentificationRequest, opts identify.Options) (*identify.Response, error)
	Stream(ctx context.Context, sink stream.Sink, req model.IdentificationRequest, opts identify.Options, timeout time.Duration) error
}

// Dispatcher runs session actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, s *session.Session, a model.Action) (*action.Result, error)
}

// StatusSource reports service health.
type StatusSource interface {
	Collect(ctx context.Context) (*monitoring.MetricsSnapshot, error)
}

// Deps are the collaborators of a Server. Status may be nil.
type Deps struct {
	Identifier Identifier
	Actions    Dispatcher
	Sessions   *session.Manager
	Status     StatusSource
	Server     config.ServerConfig
	Streaming  config.StreamingConfig
}

// Server is the HTTP surface.
type Server struct {
	id        Identifier
	actions   Dispatcher
	sessions  *session.Manager
	status    StatusSource
	cfg       config.ServerConfig
	streaming config.StreamingConfig
	router    chi.Router
}

// New builds a Server and its routes.
func New(d Deps) (*Server, error) {
	if d.Identifier == nil || d.Actions == nil || d.Sessions == nil {
		return nil, eris.New("server: identifier, actions and sessions are required")
	}
	s := &Server{
		id:        d.Identifier,
		actions:   d.Actions,
		sessions:  d.Sessions,
		status:    d.Status,
		cfg:       d.Server,
		streaming: d.Streaming,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.cfg.RequestTimeoutSecs) * time.Second
}

func (s *Server) streamTimeout() time.Duration {
	if s.streaming.TimeoutSecs <= 0 {
		return s.requestTimeout()
	}
	return time.Duration(s.streaming.TimeoutSecs) * time.Second
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", sessionHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Streams carry their own timeout.
		r.Post("/identify/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))
			r.Post("/identify", s.handleIdentify)
			r.Post("/identify/{requestID}/cancel", s.handleCancel)
			r.Post("/sessions/{sessionID}/actions", s.handleAction)
			r.Get("/status", s.handleStatus)
		})
	})
	return r
}

// Run serves on the configured port until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return eris.Wrap(err, "server listen")
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
