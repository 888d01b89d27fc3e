// Package api provides the HTTP surface of the loyalty engine: driver event
// ingest, the level and VIP read models, wallet queries and a live feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/domain"
	"github.com/rideloop/loyalty/internal/health"
)

// WalletReader is the read side of the driver wallet.
type WalletReader interface {
	Balance(ctx context.Context, driverID string) (int64, error)
	PoolBalance(ctx context.Context) (int64, error)
	History(ctx context.Context, driverID string, limit int) ([]domain.LedgerEntry, error)
	Verify(ctx context.Context) error
}

// Server is the loyalty HTTP API server.
type Server struct {
	registry       *loyalty.Registry
	wallet         WalletReader
	health         *health.Checker
	live           *LiveHub
	metricsEnabled bool
	version        string
}

// NewServer creates a new API server.
func NewServer(registry *loyalty.Registry, wallet WalletReader) *Server {
	return &Server{registry: registry, wallet: wallet, version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the checker reported on /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetLiveHub sets the live VIP feed hub.
func (s *Server) SetLiveHub(h *LiveHub) { s.live = h }

// SetVersion sets the version reported on /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})

	r.Get("/api/level-table", s.handleLevelTable)
	r.Get("/api/vip-rules", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.registry.Rules())
	})

	// Operator tick over every loaded driver.
	r.Post("/api/tick", s.handleTickAll)

	r.Route("/api/drivers/{id}", func(r chi.Router) {
		r.Post("/rides", s.handleRide)
		r.Post("/online", s.handleOnline)
		r.Post("/offline", s.handleOffline)
		r.Post("/tick", s.handleTick)
		r.Post("/reset-progress", s.handleResetProgress)
		r.Post("/reset-cycle", s.handleResetCycle)

		r.Get("/level", s.handleLevel)
		r.Get("/vip", s.handleVIP)
		r.Get("/snapshot", s.handleSnapshot)

		r.Get("/payouts/pending", s.handlePendingPayouts)
		r.Post("/payouts/retry", s.handleRetryPayouts)

		if s.wallet != nil {
			r.Get("/wallet", s.handleBalance)
			r.Get("/wallet/history", s.handleHistory)
		}
		if s.live != nil {
			r.Get("/live", s.live.HandleLive)
		}
	})

	if s.wallet != nil {
		r.Get("/api/wallet/pool", s.handlePool)
	}
	if s.live != nil {
		r.Get("/api/live", s.live.HandleLive)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

func (s *Server) handleLevelTable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":               domain.LevelTable(),
		"vip_ride_threshold": domain.VIPRideThreshold,
		"vip_name":           domain.LevelName(domain.LevelVIP),
	})
}

// tickResult is the JSON form of one driver's tick.
type tickResult struct {
	DriverID string              `json:"driver_id"`
	Report   *loyalty.TickReport `json:"report,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func (s *Server) handleTickAll(w http.ResponseWriter, r *http.Request) {
	reports := s.registry.TickAll(r.Context(), s.registry.Clock().Now())
	out := make([]tickResult, 0, len(reports))
	for _, rep := range reports {
		tr := tickResult{DriverID: rep.DriverID, Report: rep.Report}
		if rep.Err != nil {
			tr.Error = rep.Err.Error()
		}
		out = append(out, tr)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"at":      s.registry.Clock().Now(),
		"drivers": out,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"type":    kind,
		},
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidDriver):
		return http.StatusBadRequest, "invalid_driver"
	case errors.Is(err, domain.ErrDriverNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrNotVIP):
		return http.StatusConflict, "not_vip"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence"
	case errors.Is(err, domain.ErrWalletCredit):
		return http.StatusBadGateway, "wallet"
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrSchemaTooNew):
		return http.StatusInternalServerError, "invalid_state"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "error"
	}
}

// corsMiddleware adds CORS headers for browser dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestTimeout bounds the engine call of one request.
const requestTimeout = 30 * time.Second
