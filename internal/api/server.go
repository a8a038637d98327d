package api

import (
	"context"
	"net/http"

	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/config"
	"github.com/callscribe/callscribe/internal/fetcher"
	"github.com/callscribe/callscribe/internal/ledger"
	"github.com/callscribe/callscribe/internal/script"
	"github.com/callscribe/callscribe/internal/twiml"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/callscribe/callscribe/internal/api/middleware"
)

// RecordingFetcher processes one recording-complete notification: download
// the audio, archive it, record the ledger row.
type RecordingFetcher interface {
	Handle(ctx context.Context, ev fetcher.Event) error
}

// Deps bundles the collaborators the HTTP server needs.
type Deps struct {
	Config     *config.Config
	Script     *script.Script
	Renderer   *twiml.Renderer
	Fetcher    RecordingFetcher
	Archive    *archive.Archive
	Recordings ledger.RecordingRepository
	Events     ledger.CallEventRepository
	Admins     ledger.AdminUserRepository
	JWTSecret  []byte
	Metrics    http.Handler // /metrics scrape handler, omitted when nil
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router      *chi.Mux
	cfg         *config.Config
	script      *script.Script
	renderer    *twiml.Renderer
	fetcher     RecordingFetcher
	archive     *archive.Archive
	recordings  ledger.RecordingRepository
	events      ledger.CallEventRepository
	admins      ledger.AdminUserRepository
	jwtSecret   []byte
	metricsHdlr http.Handler

	webhookLimiter *mw.IPRateLimiter
	authLimiter    *mw.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		cfg:            deps.Config,
		script:         deps.Script,
		renderer:       deps.Renderer,
		fetcher:        deps.Fetcher,
		archive:        deps.Archive,
		recordings:     deps.Recordings,
		events:         deps.Events,
		admins:         deps.Admins,
		jwtSecret:      deps.JWTSecret,
		metricsHdlr:    deps.Metrics,
		webhookLimiter: mw.NewIPRateLimiter(mw.WebhookRateLimitConfig()),
		authLimiter:    mw.NewIPRateLimiter(mw.AuthRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background rate limiter goroutines.
func (s *Server) Close() {
	s.webhookLimiter.Stop()
	s.authLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.StructuredLogger)
	r.Use(mw.Recoverer)

	// Voice gateway webhooks. These return TwiML, not JSON.
	r.Route("/voice", func(r chi.Router) {
		r.Use(mw.RateLimit(s.webhookLimiter))

		r.Post("/", s.handleVoiceEntry)
		r.Post("/keypress", s.handleKeypress)
		r.Post("/question/{key}", s.handleQuestion)
		r.Post("/recording-complete", s.handleRecordingComplete)
		r.Post("/goodbye", s.handleGoodbye)
	})

	// Admin API under /api/v1.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(s.authLimiter))
			r.Post("/auth/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdminAuth(s.jwtSecret))

			r.Get("/callers", s.handleListCallers)
			r.Get("/callers/{callerID}", s.handleGetCaller)
			r.Get("/callers/{callerID}/answers/{step}", s.handleCallerAudio)
			r.Get("/calls/{callSID}/events", s.handleCallEvents)
			r.Get("/stats", s.handleStats)
		})
	})

	// Prometheus scrape endpoint.
	if s.metricsHdlr != nil {
		r.Handle("/metrics", s.metricsHdlr)
	}
}
