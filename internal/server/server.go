package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
	"github.com/alanyoungcy/memebattle/internal/server/handler"
	"github.com/alanyoungcy/memebattle/internal/server/middleware"
	"github.com/alanyoungcy/memebattle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminKey guards /api/admin. Empty refuses every admin call.
	AdminKey string
	// APIRateLimit caps requests per client IP per APIRateWindow. Zero
	// disables the limit.
	APIRateLimit  int
	APIRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Metrics may be nil when the metrics endpoint is disabled.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Battles  *handler.BattleHandler
	Payments *handler.PaymentHandler
	Fees     *handler.FeeHandler
	Admin    *handler.AdminHandler
	Metrics  http.Handler
}

// Server is the HTTP + WebSocket API of the battle service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// Admin routes sit behind the admin key; everything else is public and rate
// limited per client IP when limiter is non-nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	h := NewHandler(cfg, handlers, wsHub, limiter, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Await holds a request open until the payment expires.
		WriteTimeout: 11 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler. It is separate
// from NewServer so tests can mount it on httptest.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Public battle API.
	var public http.Handler = publicRoutes(handlers)
	if limiter != nil && cfg.APIRateLimit > 0 {
		public = middleware.RateLimit(limiter, cfg.APIRateLimit, cfg.APIRateWindow, logger)(public)
	}
	mux.Handle("/api/battles", public)
	mux.Handle("/api/battles/", public)
	mux.Handle("/api/payments/", public)
	mux.Handle("GET /api/fees", public)

	// Operator API.
	mux.Handle("/api/admin/", middleware.AdminAuth(cfg.AdminKey)(adminRoutes(handlers)))

	var root http.Handler = mux
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

func publicRoutes(handlers Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/battles", handlers.Battles.CreateBattle)
	mux.HandleFunc("GET /api/battles", handlers.Battles.ListBattles)
	mux.HandleFunc("GET /api/battles/{id}", handlers.Battles.GetBattle)
	mux.HandleFunc("GET /api/battles/{id}/voters", handlers.Battles.ListVoters)
	mux.HandleFunc("POST /api/battles/{id}/accept", handlers.Battles.AcceptBattle)
	mux.HandleFunc("POST /api/battles/{id}/votes", handlers.Battles.CastVote)

	mux.HandleFunc("GET /api/payments/{id}", handlers.Payments.GetPayment)
	mux.HandleFunc("POST /api/payments/{id}/await", handlers.Payments.AwaitPayment)
	mux.HandleFunc("POST /api/payments/webhook", handlers.Payments.Webhook)

	mux.HandleFunc("GET /api/fees", handlers.Fees.GetFees)
	return mux
}

func adminRoutes(handlers Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /api/admin/fees", handlers.Fees.UpdateFees)

	mux.HandleFunc("POST /api/admin/refund/full-battle", handlers.Admin.RefundFullBattle)
	mux.HandleFunc("POST /api/admin/refund/challenger", handlers.Admin.RefundChallenger)
	mux.HandleFunc("POST /api/admin/refund/acceptor", handlers.Admin.RefundAcceptor)
	mux.HandleFunc("POST /api/admin/refund/voters", handlers.Admin.RefundVoters)
	mux.HandleFunc("POST /api/admin/refund/trigger-expired", handlers.Admin.TriggerExpired)

	mux.HandleFunc("POST /api/admin/battles/{id}/settle", handlers.Admin.SettleBattle)
	mux.HandleFunc("GET /api/admin/battles/{id}/audit", handlers.Admin.AuditTrail)
	mux.HandleFunc("GET /api/admin/battles/{id}/archive", handlers.Admin.ArchivedBattle)
	return mux
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
