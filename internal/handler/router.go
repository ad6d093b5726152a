package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"planning-poker/internal/middleware"
	"planning-poker/internal/repository"
	"planning-poker/internal/service"
	"planning-poker/internal/service/auth"
	apperrors "planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

// RouterDeps are what the HTTP surface needs
type RouterDeps struct {
	Rooms          service.RoomService
	Backend        *repository.Backend
	Tokens         *auth.TokenService
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	StreamPoll     time.Duration
	RequestTimeout time.Duration
	Version        string
	Logger         *logger.Logger
}

// NewRouter configures and returns the HTTP router
func NewRouter(deps RouterDeps) *chi.Mux {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0, 0)
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = deps.AllowedOrigins

	r.Use(middleware.RequestID())
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(corsConfig, log))

	healthHandler := NewHealthHandler(deps.Backend, deps.Version, log)
	roomHandler := NewRoomHandler(deps.Rooms, log)
	actionHandler := NewActionHandler(deps.Rooms, deps.Tokens, log)
	stream := NewRoomStream(deps.Rooms, deps.AllowedOrigins, deps.StreamPoll, log)

	r.Get("/health", healthHandler.Check)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, log))

		// long-lived; no request timeout
		r.Get("/room/{code}/ws", stream.Serve)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(timeout))
			r.Use(middleware.ParticipantToken(deps.Tokens, log))

			r.Get("/room/{code}", roomHandler.GetRoom)
			r.Post("/room/{code}/leave", roomHandler.Leave)
			r.Post("/actions/{action}", actionHandler.Handle)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, apperrors.NewNotFoundError("Endpoint not found"), log)
	})

	return r
}
