package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type sundayRequest struct {
	Date string `json:"date"` // YYYY-MM-DD, must be a Sunday
	Time string `json:"time,omitempty"`
}

// BookSunday books one Sunday ice seat funded by one credit.
// POST /registrations/{id}/sunday
func (a *API) BookSunday(w http.ResponseWriter, r *http.Request) {
	regID, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req sundayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request body: " + err.Error()})
		return
	}

	bk, err := a.Bookings.BookSunday(r.Context(), regID, parentUID(r), req.Date, req.Time)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bk)
}

// CancelBooking flips a booking to cancelled by its code.
// POST /bookings/{code}/cancel
func (a *API) CancelBooking(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing code"})
		return
	}
	bk, err := a.Bookings.Cancel(r.Context(), code, parentUID(r))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bk)
}
