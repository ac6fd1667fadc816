package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/icehouse/academy/internal/booking"
	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/credits"
	"github.com/icehouse/academy/internal/db"
	"github.com/icehouse/academy/internal/handlers"
	"github.com/icehouse/academy/internal/models"
	"github.com/icehouse/academy/internal/pairing"
	"github.com/icehouse/academy/internal/recurring"
	"github.com/icehouse/academy/internal/schedule"
)

func testRouter(t *testing.T) (http.Handler, *gorm.DB) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zap.NewNop()
	ledger := capacity.NewLedger(gdb, log)
	creditLedger := credits.NewGormLedger(gdb)
	api := &handlers.API{
		DB:        gdb,
		Ledger:    ledger,
		Schedule:  schedule.NewService(gdb, ledger, nil, log, time.UTC),
		Pairing:   pairing.NewEngine(gdb, ledger, nil, log, time.UTC),
		Bookings:  booking.NewService(gdb, ledger, creditLedger, nil, log, time.UTC),
		Recurring: recurring.NewProcessor(gdb, ledger, creditLedger, nil, log, time.UTC),
		Logger:    log,
	}
	return Router(api), gdb
}

func TestRouterHealthz(t *testing.T) {
	r, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterAvailability(t *testing.T) {
	r, _ := testRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/availability?program=group&day=monday&time=16:00-17:00", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out capacity.Availability
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Available || out.Capacity != 6 {
		t.Fatalf("empty slot should be available with capacity 6, got %+v", out)
	}
}

func TestRouterRescheduleUnknownRegistration(t *testing.T) {
	r, _ := testRouter(t)
	body := strings.NewReader(`{"change_type":"one_time","new_days":["thursday"]}`)
	req := httptest.NewRequest(http.MethodPost, "/registrations/999/reschedule", body)
	req.Header.Set("X-Parent-UID", "nobody")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterSundayInsufficientCredits(t *testing.T) {
	r, gdb := testRouter(t)

	parent := models.Parent{UID: "p1", Name: "Parent"}
	if err := gdb.Create(&parent).Error; err != nil {
		t.Fatal(err)
	}
	player := models.Player{Name: "Kid", AgeCategory: "M13", ParentID: parent.ID}
	if err := gdb.Create(&player).Error; err != nil {
		t.Fatal(err)
	}
	reg := models.Registration{
		ParentID: parent.ID, PlayerID: player.ID,
		ProgramType: models.ProgramGroup, AgeCategory: "M13", Frequency: "1x",
		SelectedDays: "monday", TimeSlot: "16:00-17:00",
		Status: models.RegistrationActive,
	}
	if err := gdb.Create(&reg).Error; err != nil {
		t.Fatal(err)
	}

	// Next Sunday relative to the real clock keeps the past-date check happy.
	d := time.Now().UTC()
	for d.Weekday() != time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	body := strings.NewReader(`{"date":"` + d.Format("2006-01-02") + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/registrations/1/sunday", body)
	req.Header.Set("X-Parent-UID", "p1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}
