package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/domain"
)

// ─── Driver Resolution ──────────────────────────────────────────────────────

// owner returns the driver for a write, creating it on first use.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (*loyalty.Driver, context.Context, context.CancelFunc, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	d, err := s.registry.Driver(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cancel()
		writeDomainError(w, err)
		return nil, nil, nil, false
	}
	return d, ctx, cancel, true
}

// known returns the driver for a read. Unknown drivers are 404.
func (s *Server) known(w http.ResponseWriter, r *http.Request) (*loyalty.Driver, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	d, err := s.registry.Lookup(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return d, true
}

// ─── Events ─────────────────────────────────────────────────────────────────

// rideResponse carries the ride result. PayoutPending is set when the
// ride was saved but a bonus could not be credited yet.
type rideResponse struct {
	*loyalty.RideResult
	PayoutPending bool   `json:"payout_pending,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

func (s *Server) handleRide(w http.ResponseWriter, r *http.Request) {
	d, ctx, cancel, ok := s.owner(w, r)
	if !ok {
		return
	}
	defer cancel()

	res, err := d.CompleteRide(ctx)
	if res == nil {
		writeDomainError(w, err)
		return
	}
	resp := rideResponse{RideResult: res}
	if err != nil {
		resp.Warning = err.Error()
		resp.PayoutPending = errors.Is(err, domain.ErrWalletCredit)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	d, ctx, cancel, ok := s.owner(w, r)
	if !ok {
		return
	}
	defer cancel()
	if err := d.GoOnline(ctx); err != nil && !errors.Is(err, domain.ErrWalletCredit) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.VIPView(s.registry.Clock().Now()))
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	d, ctx, cancel, ok := s.owner(w, r)
	if !ok {
		return
	}
	defer cancel()
	if err := d.GoOffline(ctx); err != nil && !errors.Is(err, domain.ErrWalletCredit) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.VIPView(s.registry.Clock().Now()))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	d, ctx, cancel, ok := s.owner(w, r)
	if !ok {
		return
	}
	defer cancel()
	report, err := d.Tick(ctx, s.registry.Clock().Now())
	if report == nil {
		writeDomainError(w, err)
		return
	}
	tr := tickResult{DriverID: d.ID(), Report: report}
	if err != nil {
		tr.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	d, ctx, cancel, ok := s.owner(w, r)
	if !ok {
		return
	}
	defer cancel()
	if err := d.ResetProgress(ctx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleResetCycle(w http.ResponseWriter, r *http.Request) {
	d, ctx, cancel, ok := s.owner(w, r)
	if !ok {
		return
	}
	defer cancel()
	if err := d.ResetCycle(ctx); err != nil && !errors.Is(err, domain.ErrWalletCredit) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.VIPView(s.registry.Clock().Now()))
}

// ─── Read Models ────────────────────────────────────────────────────────────

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.known(w, r); ok {
		writeJSON(w, http.StatusOK, d.LevelView())
	}
}

func (s *Server) handleVIP(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.known(w, r); ok {
		writeJSON(w, http.StatusOK, d.VIPView(s.registry.Clock().Now()))
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if d, ok := s.known(w, r); ok {
		writeJSON(w, http.StatusOK, d.Snapshot())
	}
}

// ─── Payouts ────────────────────────────────────────────────────────────────

func (s *Server) handlePendingPayouts(w http.ResponseWriter, r *http.Request) {
	d, ok := s.known(w, r)
	if !ok {
		return
	}
	pending := d.PendingPayouts()
	if pending == nil {
		pending = []domain.Credit{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": pending})
}

func (s *Server) handleRetryPayouts(w http.ResponseWriter, r *http.Request) {
	d, ok := s.known(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := d.RetryPayouts(ctx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": []domain.Credit{}})
}
