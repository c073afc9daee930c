package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/middleware"
)

type RouterDeps struct {
	Handler        *Handler
	AllowedOrigins []string
	APILimiter     *middleware.IPRateLimiter
	WSLimiter      *middleware.IPRateLimiter
	Metrics        http.Handler // nil disables /metrics
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	h := d.Handler

	r.Get("/", h.HandleStatus)
	r.Get("/healthz", h.HandleHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(wr chi.Router) {
		if d.WSLimiter != nil {
			wr.Use(middleware.RateLimitMiddleware(d.WSLimiter))
		}
		wr.Get("/telemetry", h.HandleWebSocket)
	})

	r.Group(func(ar chi.Router) {
		if d.APILimiter != nil {
			ar.Use(middleware.RateLimitMiddleware(d.APILimiter))
		}
		ar.Post("/control", h.HandleControl)
		ar.Route("/api/sessions", func(sr chi.Router) {
			sr.Get("/", h.HandleSessions)
			sr.Get("/{id}/events", h.HandleSessionEvents)
		})
	})

	return r
}
