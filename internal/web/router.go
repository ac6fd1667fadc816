package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icehouse/academy/internal/handlers"
)

// Router wires the JSON API.
func Router(api *handlers.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Slot catalog + availability
	r.Get("/catalog", api.CatalogSlots)
	r.Get("/availability", api.Availability)

	// Reschedules and resolved schedules
	r.Post("/registrations/{id}/reschedule", api.Reschedule)
	r.Get("/registrations/{id}/occurrences", api.Occurrences)

	// Semi-private matchmaking
	r.Get("/pairing/suggestions", api.PairingSuggestions)
	r.Post("/registrations/{id}/pairing/enroll", api.PairingEnroll)
	r.Post("/registrations/{id}/pairing/reschedule", api.PairingReschedule)

	// Sunday ice + cancellation
	r.Post("/registrations/{id}/sunday", api.BookSunday)
	r.Post("/bookings/{code}/cancel", api.CancelBooking)

	// Recurring auto-booking
	r.Post("/recurring", api.RecurringOptIn)
	r.Post("/recurring/{id}/resume", api.RecurringResume)
	r.Post("/recurring/run", api.RecurringRun)

	// QR image for door check-in
	r.Get("/qr/{code}.png", api.QR)

	return r
}
