package handlers

import (
	"net/http"
	"strconv"
)

// PairingSuggestions lists slots where a waiting partner already exists.
// GET /pairing/suggestions?category=M13&exclude=12
func (a *API) PairingSuggestions(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "category is required"})
		return
	}
	var exclude uint
	if raw := r.URL.Query().Get("exclude"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			exclude = uint(id)
		}
	}

	times, err := a.Pairing.SuggestedTimes(r.Context(), category, exclude)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": times})
}

type pairingRescheduleRequest struct {
	Day  string `json:"day"`
	Time string `json:"time"`
}

// PairingReschedule moves a semi-private registration; the outcome names
// both affected partners so the client can show who was matched or dropped.
// POST /registrations/{id}/pairing/reschedule
func (a *API) PairingReschedule(w http.ResponseWriter, r *http.Request) {
	regID, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	var req pairingRescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request body: " + err.Error()})
		return
	}

	out, err := a.Pairing.TryReschedule(r.Context(), regID, parentUID(r), req.Day, req.Time)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PairingEnroll puts a semi-private registration into the matchmaking pool
// at its current slot (used right after signup).
// POST /registrations/{id}/pairing/enroll
func (a *API) PairingEnroll(w http.ResponseWriter, r *http.Request) {
	regID, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	out, err := a.Pairing.EnsureWaitlisted(r.Context(), regID, parentUID(r))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
