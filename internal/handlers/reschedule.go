package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/icehouse/academy/internal/schedule"
)

type rescheduleRequest struct {
	ChangeType string   `json:"change_type"` // one_time | permanent
	NewDays    []string `json:"new_days"`
	NewTime    string   `json:"new_time,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Reschedule proposes a schedule change for a registration.
// POST /registrations/{id}/reschedule
func (a *API) Reschedule(w http.ResponseWriter, r *http.Request) {
	regID, ok := uintParam(w, r, "id")
	if !ok {
		return
	}

	var req rescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request body: " + err.Error()})
		return
	}

	res, err := a.Schedule.ProposeChange(r.Context(), schedule.ChangeRequest{
		RegistrationID: regID,
		ParentUID:      parentUID(r),
		ChangeType:     req.ChangeType,
		NewDays:        req.NewDays,
		NewTime:        req.NewTime,
		Reason:         req.Reason,
	})
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Occurrences lists the resolved upcoming training dates for a
// registration, with one-time exceptions applied.
// GET /registrations/{id}/occurrences?weeks=4
func (a *API) Occurrences(w http.ResponseWriter, r *http.Request) {
	regID, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	weeks := 4
	if raw := r.URL.Query().Get("weeks"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 12 {
			weeks = n
		}
	}

	occs, err := a.Schedule.UpcomingOccurrences(r.Context(), regID, parentUID(r), weeks)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"occurrences": occs})
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad " + name})
		return 0, false
	}
	return uint(id), true
}
