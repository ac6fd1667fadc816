package db_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/icehouse/academy/internal/db"
)

// TestWALMode verifies that the DSN parameters in db.go enable WAL journal mode.
// WAL is the key SQLite setting for concurrent reads + single-writer throughput.
func TestWALMode(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "wal_test.db") +
		"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	var mode string
	gdb.Raw("PRAGMA journal_mode").Scan(&mode)
	if mode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", mode)
	}
}

// TestOpen_CreatesIndexes verifies that Open() creates the composite and
// partial unique indexes GORM does not auto-create from struct tags.
func TestOpen_CreatesIndexes(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "idx_test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}

	checks := map[string][]string{
		"registrations":         {"idx_reg_program_status"},
		"session_bookings":      {"idx_booking_date_slot"},
		"recurring_schedules":   {"idx_recurring_due"},
		"schedule_exceptions":   {"idx_exception_applied"},
		"semi_private_pairings": {"idx_pairing_p1_active", "idx_pairing_p2_active"},
	}
	for table, wants := range checks {
		found := indexNames(t, sqlDB, table)
		for _, want := range wants {
			if !found[want] {
				t.Errorf("index %q missing from %s; found: %v", want, table, found)
			}
		}
	}
}

func indexNames(t *testing.T, sqlDB *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := sqlDB.Query("PRAGMA index_list(" + table + ")")
	if err != nil {
		t.Fatalf("PRAGMA index_list: %v", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var seq int
		var name string
		var unique bool
		var origin, partial string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out[name] = true
	}
	return out
}
