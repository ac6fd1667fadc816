package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/icehouse/academy/internal/models"
)

// QR renders a booking code as a PNG so rink staff can scan it at the door.
// GET /qr/{code}.png
func (a *API) QR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		http.NotFound(w, r)
		return
	}
	// ensure code exists
	var bk models.SessionBooking
	if err := a.DB.Where("code = ?", code).First(&bk).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
