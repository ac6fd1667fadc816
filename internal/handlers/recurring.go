package handlers

import (
	"net/http"
)

type optInRequest struct {
	RegistrationID uint   `json:"registration_id"`
	SessionType    string `json:"session_type"`
	Day            string `json:"day"`
	Time           string `json:"time"`
}

// RecurringOptIn creates a weekly auto-booking schedule.
// POST /recurring
func (a *API) RecurringOptIn(w http.ResponseWriter, r *http.Request) {
	uid := parentUID(r)
	if uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing parent identity"})
		return
	}
	var req optInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad request body: " + err.Error()})
		return
	}
	if req.RegistrationID == 0 || req.Day == "" || req.Time == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "registration_id, day and time are required"})
		return
	}
	if req.SessionType == "" {
		req.SessionType = "group"
	}

	sched, err := a.Recurring.OptIn(r.Context(), uid, req.RegistrationID, req.SessionType, req.Day, req.Time)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

// RecurringResume reactivates a paused schedule.
// POST /recurring/{id}/resume
func (a *API) RecurringResume(w http.ResponseWriter, r *http.Request) {
	schedID, ok := uintParam(w, r, "id")
	if !ok {
		return
	}
	sched, err := a.Recurring.Resume(r.Context(), schedID, parentUID(r))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// RecurringRun triggers a processor run now and returns the stats. This is
// the batch entrypoint; the cron scheduler hits it daily.
// POST /recurring/run
func (a *API) RecurringRun(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Recurring.Run(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
