package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tablebook/internal/model"
)

// ReservationAPI is the booking core as seen by HTTP handlers.
// *service.ReservationService implements it.
type ReservationAPI interface {
	CreateReservation(ctx context.Context, req model.ReservationRequest) (*model.Reservation, error)
	GetAvailability(ctx context.Context, restaurantID, date string, partySize int) ([]model.AvailableSlot, error)
	ConfirmReservation(ctx context.Context, id, date string) (*model.Reservation, error)
	CancelReservation(ctx context.Context, id, date string) (*model.Reservation, error)
	CheckInReservation(ctx context.Context, id, date string) (*model.Reservation, error)
	CompleteReservation(ctx context.Context, id, date string) (*model.Reservation, error)
	MarkNoShow(ctx context.Context, id, date string) (*model.Reservation, error)
	GetUserReservations(ctx context.Context, userID string, filter model.ReservationFilter) ([]model.Reservation, error)
	GetRestaurantReservations(ctx context.Context, restaurantID string, filter model.ReservationFilter) ([]model.Reservation, error)
	GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error)
}

type Config struct {
	Listen            string
	APIKeys           []string
	RequestsPerSecond float64
	Burst             int
}

// HTTPServer serves the JSON reservation API.
type HTTPServer struct {
	svc     ReservationAPI
	keys    map[string]struct{}
	limiter *RateLimiter
	logger  *zerolog.Logger
	server  *http.Server
}

func NewHTTPServer(cfg Config, svc ReservationAPI, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}

	s := &HTTPServer{
		svc:     svc,
		keys:    keys,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:  logger,
	}

	handler := otelhttp.NewHandler(s.loggingMiddleware(s.limiter.Middleware(s.authMiddleware(s.routes()))), "tablebook-api")
	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/reservations", s.handleCreateReservation)
	mux.HandleFunc("POST /api/v1/reservations/{id}/{action}", s.handleTransition)
	mux.HandleFunc("GET /api/v1/restaurants/{id}/availability", s.handleAvailability)
	mux.HandleFunc("GET /api/v1/restaurants/{id}/reservations", s.handleRestaurantReservations)
	mux.HandleFunc("GET /api/v1/restaurants/{id}/reservations/export", s.handleExport)
	mux.HandleFunc("GET /api/v1/users/{id}/reservations", s.handleUserReservations)
	return mux
}

// Handler exposes the fully wrapped handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
