// Package http exposes the expense tracker as a JSON API.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Clarekpd/ss-expense-tracker/internal/auth"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/metrics"
	"github.com/Clarekpd/ss-expense-tracker/internal/middleware/ratelimit"
	"github.com/Clarekpd/ss-expense-tracker/internal/middleware/security"
	"github.com/Clarekpd/ss-expense-tracker/internal/middleware/trace"
	"github.com/Clarekpd/ss-expense-tracker/internal/services"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Auth     *auth.Service
	Expenses *services.ExpenseService
	Reports  *services.ReportService
	Store    Pinger
	Logger   *log.Logger

	CORSOrigins []string
	// TrustedProxies are extra CIDRs whose forwarded headers name the client.
	TrustedProxies []string
	// AuthRateLimit caps signup and login attempts per client IP per minute.
	AuthRateLimit int
}

type Server struct {
	http.Server
	auth     *auth.Service
	expenses *services.ExpenseService
	reports  *services.ReportService
	store    Pinger
	logger   *log.Logger

	detector    *security.Detector
	authLimiter *ratelimit.Limiter
	started     time.Time
}

// NewServer builds the router and a server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		auth:     deps.Auth,
		expenses: deps.Expenses,
		reports:  deps.Reports,
		store:    deps.Store,
		logger:   logger.WithComponent(log.ComponentHTTP),
		detector: security.NewDetector(logger),
		authLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: deps.AuthRateLimit,
		}),
		started: time.Now(),
	}
	for _, cidr := range deps.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring trusted proxy", "cidr", cidr, log.FieldError, err)
		}
	}

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(deps.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	// trace wraps Recoverer so recovered panics are logged and counted as 500s.
	r.Use(trace.NewMiddleware(s.logger, s.detector.ExtractClientIP).Middleware)
	r.Use(middleware.Recoverer)
	r.Use(s.detector.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders: []string{trace.RequestIDHeader},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authLimiter.Middleware(s.detector.ExtractClientIP, nil))
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/user", s.handleProfile)
		r.Put("/user/password", s.handleChangePassword)

		r.Get("/expenses", s.handleListExpenses)
		r.Post("/expenses", s.handleCreateExpense)
		r.Put("/expenses/{id}", s.handleUpdateExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/monthly", s.handleMonthly)
			r.Get("/daily", s.handleDaily)
			r.Get("/weekly", s.handleWeekly)
		})
	})

	return r
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.authLimiter.Stop()
	return s.Server.Shutdown(ctx)
}
