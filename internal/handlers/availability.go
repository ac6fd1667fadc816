package handlers

import (
	"net/http"
	"strconv"

	"github.com/icehouse/academy/internal/catalog"
)

// Availability answers "is there a seat" for a (program, day, time) slot.
// GET /availability?program=group&day=monday&time=16:00-17:00&exclude=12
func (a *API) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	program := q.Get("program")
	day := q.Get("day")
	timeSlot := q.Get("time")
	if program == "" || day == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "program and day are required"})
		return
	}

	var exclude uint
	if raw := q.Get("exclude"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad exclude id"})
			return
		}
		exclude = uint(id)
	}

	avail, err := a.Ledger.CheckAvailability(r.Context(), program, day, timeSlot, exclude)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// CatalogSlots lists the fixed catalog for a program and age category.
// GET /catalog?program=group&category=M13
func (a *API) CatalogSlots(w http.ResponseWriter, r *http.Request) {
	program := r.URL.Query().Get("program")
	category := r.URL.Query().Get("category")
	slots := catalog.AssignedSlots(program, category)
	if slots == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no offering for this program and category"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}
