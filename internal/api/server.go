// Package api exposes the tracker over HTTP for services that do not link
// it directly, and for operators.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"igautomate/pkg/logger"
	"igautomate/pkg/ratelimit"
)

// Tracker is the part of ratelimit.Tracker the API serves
type Tracker interface {
	Allow(api ratelimit.APIType, tenantID, accountID, userID string) ratelimit.Decision
	RecordEngagement(tenantID, accountID, userID string) error
	GetPlatformRateLimit(tenantID, accountID string) int
	EngagedUserCount(tenantID, accountID string) int
	Stats() ratelimit.Stats
}

var _ Tracker = (*ratelimit.Tracker)(nil)

// Options configure the router
type Options struct {
	CORSOrigins []string
	// MetricsPath mounts MetricsHandler when both are set
	MetricsPath    string
	MetricsHandler http.Handler
	Logger         logger.Logger
}

type Server struct {
	tracker Tracker
	log     logger.Logger
	router  chi.Router
}

// New builds the router for tracker
func New(tracker Tracker, opts Options) *Server {
	s := &Server{
		tracker: tracker,
		log:     logger.Component(opts.Logger, "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	if opts.MetricsPath != "" && opts.MetricsHandler != nil {
		r.Method(http.MethodGet, opts.MetricsPath, opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/admissions/{api}", s.handleAdmission)
		r.Post("/engagements", s.handleEngagement)
		r.Get("/accounts/{tenant}/{account}/limits", s.handleLimits)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.log.DebugWithFields("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}
