// Package handlers exposes the booking core over JSON. Authentication is an
// external concern; the parent identity arrives as the X-Parent-UID header
// set by the gateway.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/booking"
	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/credits"
	"github.com/icehouse/academy/internal/pairing"
	"github.com/icehouse/academy/internal/recurring"
	"github.com/icehouse/academy/internal/schedule"
)

// API bundles the services the handlers dispatch to.
type API struct {
	DB        *gorm.DB
	Ledger    *capacity.Ledger
	Schedule  *schedule.Service
	Pairing   *pairing.Engine
	Bookings  *booking.Service
	Recurring *recurring.Processor
	Logger    *zap.Logger
}

func parentUID(r *http.Request) string {
	return r.Header.Get("X-Parent-UID")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeErr maps the error taxonomy to status codes. Admission rejections
// carry the full slot list so the client can offer alternatives.
func (a *API) writeErr(w http.ResponseWriter, err error) {
	var vErr *schedule.ValidationError
	var admErr *capacity.AdmissionError
	var compErr *credits.CompensationFailedError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Msg})
	case errors.Is(err, schedule.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "registration not found"})
	case errors.As(err, &admErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      admErr.Error(),
			"full_slots": admErr.Full,
		})
	case errors.Is(err, credits.ErrInsufficientCredits):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": "insufficient credits"})
	case errors.As(err, &compErr):
		a.Logger.Error("compensation failure surfaced to API", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "booking failed; support has been alerted"})
	default:
		// Store errors are retryable; never report a failed check as success.
		a.Logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "temporary failure, retry"})
	}
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
