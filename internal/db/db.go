package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/icehouse/academy/internal/models"
)

// Open opens the sqlite database at path, migrates the schema and returns
// the handle. Callers own the handle and inject it into services; there is
// no package-level connection.
func Open(path string) (*gorm.DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer; cap the pool accordingly.
	// The single writer is also what makes transactional admission checks
	// a real serialization point.
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate runs AutoMigrate plus the indexes GORM doesn't create from tags.
// Shared with the per-package test helpers.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Parent{},
		&models.Player{},
		&models.Registration{},
		&models.ScheduleException{},
		&models.ScheduleChange{},
		&models.SemiPrivatePairing{},
		&models.UnpairedSemiPrivate{},
		&models.RecurringSchedule{},
		&models.SessionBooking{},
		&models.SundaySlot{},
		&models.CreditPurchase{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	// One applied exception per (registration, date). The schedule service
	// also upserts inside a transaction; the index catches what a race slips
	// past the pre-check.
	conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_exception_applied
		ON schedule_exceptions(registration_id, exception_date)
		WHERE status = 'applied'`)

	// One active pairing per registration, checked from both seats.
	conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_pairing_p1_active
		ON semi_private_pairings(player1_registration_id) WHERE status = 'active'`)
	conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_pairing_p2_active
		ON semi_private_pairings(player2_registration_id) WHERE status = 'active'`)

	// Composite indexes for the hot capacity scans.
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_reg_program_status ON registrations(program_type, status)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_booking_date_slot  ON session_bookings(session_date, time_slot, status)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_recurring_due      ON recurring_schedules(is_active, next_booking_date)")

	return nil
}
