package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/vjranagit/bouncedash/pkg/chart"
	"github.com/vjranagit/bouncedash/pkg/dashboard"
	"github.com/vjranagit/bouncedash/pkg/events"
	"github.com/vjranagit/bouncedash/pkg/validation"
)

// Options holds HTTP server settings
type Options struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	// HeartbeatInterval for the SSE stream; defaults to 30s
	HeartbeatInterval time.Duration
}

// Server implements the dashboard HTTP API
type Server struct {
	sessions *dashboard.Manager
	bus      *events.Bus
	picker   *validation.Picker
	renderer *chart.Renderer
	validate *validator.Validate
	opts     Options
	log      zerolog.Logger

	addr   string
	router *chi.Mux
	server *http.Server

	// done ends open event streams on shutdown
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new API server
func NewServer(addr string, sessions *dashboard.Manager, bus *events.Bus, picker *validation.Picker, opts Options, log zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		sessions: sessions,
		bus:      bus,
		picker:   picker,
		renderer: chart.NewRenderer(),
		validate: validator.New(),
		opts:     opts,
		log:      log.With().Str("component", "api").Logger(),
		addr:     addr,
		router:   chi.NewRouter(),
		done:     make(chan struct{}),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the event stream is long-lived
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1/sessions", func(r chi.Router) {
		r.With(middleware.Timeout(s.opts.RequestTimeout)).Post("/", s.handleCreateSession)

		r.Route("/{session}", func(r chi.Router) {
			r.Use(s.sessionMiddleware)

			// Event stream stays outside the request timeout
			r.Get("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.opts.RequestTimeout))

				r.Delete("/", s.handleDeleteSession)
				r.Post("/range", s.handleSubmitRange)
				r.Delete("/range", s.handleCancelRange)
				r.Get("/state", s.handleState)
				r.Get("/chart.png", s.handleChartPNG)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.closeStreams()
	return s.server.Shutdown(ctx)
}

func (s *Server) closeStreams() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

type ctxKey struct{}

// sessionMiddleware resolves {session} to its controller
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctrl, err := s.sessions.Get(chi.URLParam(r, "session"))
		if err != nil {
			s.writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, ctrl)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func controllerFrom(r *http.Request) *dashboard.Controller {
	return r.Context().Value(ctxKey{}).(*dashboard.Controller)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": s.sessions.Len(),
	})
}

// writeJSON encodes before writing the header so an encode failure becomes
// a 500 instead of a truncated body
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		s.log.Error().Err(err).Int("status", status).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
