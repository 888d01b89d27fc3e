package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rideloop/loyalty/internal/app/loyalty"
	"github.com/rideloop/loyalty/internal/domain"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !loyalty.ValidDriverID(id) {
		writeDomainError(w, domain.ErrInvalidDriver)
		return
	}
	balance, err := s.wallet.Balance(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"driver_id": id,
		"balance":   balance,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !loyalty.ValidDriverID(id) {
		writeDomainError(w, domain.ErrInvalidDriver)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.wallet.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"driver_id": id,
		"entries":   entries,
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	balance, err := s.wallet.PoolBalance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	balanced := true
	verifyErr := ""
	if err := s.wallet.Verify(r.Context()); err != nil {
		balanced = false
		verifyErr = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":  domain.BonusPoolAccount,
		"balance":  balance,
		"balanced": balanced,
		"error":    verifyErr,
	})
}
