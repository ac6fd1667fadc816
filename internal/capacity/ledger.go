// Package capacity is the occupancy ledger: it counts who holds a slot and
// gates every write that would add an occupant. Admissions run inside one
// transaction with a recount so two requests racing for the last seat
// cannot both land.
package capacity

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/catalog"
	"github.com/icehouse/academy/internal/dates"
	"github.com/icehouse/academy/internal/metrics"
	"github.com/icehouse/academy/internal/models"
)

// Availability is the result of a slot occupancy query.
type Availability struct {
	BookedCount int  `json:"booked_count"`
	Capacity    int  `json:"capacity"`
	Available   bool `json:"available"`
}

// Ledger answers availability queries and admits new slot occupants.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// CheckAvailability reports occupancy of (programType, day, timeSlot),
// excluding excludeRegID so "can I move here" checks don't count the mover.
// Store errors are returned as-is: a failed check is never "available".
func (l *Ledger) CheckAvailability(ctx context.Context, programType, day, timeSlot string, excludeRegID uint) (Availability, error) {
	var out Availability
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = l.checkTx(tx, programType, day, timeSlot, excludeRegID)
		return err
	})
	if err != nil {
		return Availability{}, fmt.Errorf("availability check %s %s %s: %w", programType, day, timeSlot, err)
	}
	return out, nil
}

// Admit recounts the slot inside one transaction and, if a seat is open,
// runs the caller's write in the same transaction. Returns *AdmissionError
// when the slot is full.
func (l *Ledger) Admit(ctx context.Context, programType, day, timeSlot string, excludeRegID uint, write func(tx *gorm.DB) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		avail, err := l.checkTx(tx, programType, day, timeSlot, excludeRegID)
		if err != nil {
			return fmt.Errorf("admission check %s %s %s: %w", programType, day, timeSlot, err)
		}
		if !avail.Available {
			metrics.IncAdmissionRejected(programType)
			return &AdmissionError{Full: []SlotRef{{Day: day, Time: timeSlot}}}
		}
		return write(tx)
	})
}

// AdmitMany checks every requested day and rejects the whole operation if
// any is full, listing all full days. On success the caller's write runs in
// the same transaction (all-or-nothing admission).
func (l *Ledger) AdmitMany(ctx context.Context, programType string, days []string, timeSlot string, excludeRegID uint, write func(tx *gorm.DB) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var full []SlotRef
		for _, day := range days {
			avail, err := l.checkTx(tx, programType, day, timeSlot, excludeRegID)
			if err != nil {
				return fmt.Errorf("admission check %s %s %s: %w", programType, day, timeSlot, err)
			}
			if !avail.Available {
				full = append(full, SlotRef{Day: day, Time: timeSlot})
			}
		}
		if len(full) > 0 {
			metrics.IncAdmissionRejected(programType)
			return &AdmissionError{Full: full}
		}
		return write(tx)
	})
}

// checkTx counts occupants of the slot within the caller's transaction.
//
// group:        active group registrations training that day (seats per day).
// private/semi: the (day, time) is one exclusive session. It is held by an
//               active private registration or by an active pairing; waiting
//               semi-private players hold nothing until matched.
// sunday:      "day" is a YYYY-MM-DD date resolved against the persisted
//               counter row.
func (l *Ledger) checkTx(tx *gorm.DB, programType, day, timeSlot string, excludeRegID uint) (Availability, error) {
	switch programType {
	case models.ProgramGroup:
		n, err := l.countGroup(tx, day, timeSlot, excludeRegID)
		if err != nil {
			return Availability{}, err
		}
		seats := catalog.GroupCapacity
		return Availability{BookedCount: n, Capacity: seats, Available: n < seats}, nil

	case models.ProgramPrivate, models.ProgramSemiPrivate:
		n, err := l.countSession(tx, day, timeSlot, excludeRegID)
		if err != nil {
			return Availability{}, err
		}
		seats := catalog.PrivateCapacity
		return Availability{BookedCount: n, Capacity: seats, Available: n < seats}, nil

	case models.ProgramSunday:
		return l.checkSundayTx(tx, day, timeSlot)
	}
	return Availability{}, fmt.Errorf("unknown program type %q", programType)
}

func (l *Ledger) countGroup(tx *gorm.DB, day, timeSlot string, excludeRegID uint) (int, error) {
	d := dates.NormDay(day)
	if d == "" {
		return 0, fmt.Errorf("unknown day %q", day)
	}
	q := tx.Model(&models.Registration{}).
		Where("program_type = ? AND status = ?", models.ProgramGroup, models.RegistrationActive).
		Where("(',' || lower(selected_days) || ',') LIKE ?", "%,"+d+",%")
	if timeSlot != "" {
		q = q.Where("time_slot = ?", timeSlot)
	}
	if excludeRegID != 0 {
		q = q.Where("id <> ?", excludeRegID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// countSession counts exclusive holders of (day, time): solo private
// registrations plus active semi-private pairings. A pairing counts once no
// matter that it seats two players.
func (l *Ledger) countSession(tx *gorm.DB, day, timeSlot string, excludeRegID uint) (int, error) {
	d := dates.NormDay(day)
	if d == "" {
		return 0, fmt.Errorf("unknown day %q", day)
	}

	var solo int64
	q := tx.Model(&models.Registration{}).
		Where("program_type = ? AND status = ?", models.ProgramPrivate, models.RegistrationActive).
		Where("(',' || lower(selected_days) || ',') LIKE ?", "%,"+d+",%").
		Where("time_slot = ?", timeSlot)
	if excludeRegID != 0 {
		q = q.Where("id <> ?", excludeRegID)
	}
	if err := q.Count(&solo).Error; err != nil {
		return 0, err
	}

	var paired int64
	pq := tx.Model(&models.SemiPrivatePairing{}).
		Where("status = ? AND lower(scheduled_day) = ? AND scheduled_time = ?", models.PairingActive, d, timeSlot)
	if excludeRegID != 0 {
		pq = pq.Where("player1_registration_id <> ? AND player2_registration_id <> ?", excludeRegID, excludeRegID)
	}
	if err := pq.Count(&paired).Error; err != nil {
		return 0, err
	}

	return int(solo + paired), nil
}

func (l *Ledger) checkSundayTx(tx *gorm.DB, date, timeSlot string) (Availability, error) {
	var slot models.SundaySlot
	err := tx.Where("slot_date = ? AND time_slot = ?", date, timeSlot).First(&slot).Error
	if err == gorm.ErrRecordNotFound {
		// No row yet means nobody has booked; capacity comes from the catalog.
		seats := catalog.SundayCapacityDflt
		return Availability{BookedCount: 0, Capacity: seats, Available: seats > 0}, nil
	}
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		BookedCount: slot.Booked,
		Capacity:    slot.Capacity,
		Available:   slot.Booked < slot.Capacity,
	}, nil
}

// AdmitSunday takes one seat on the (date, timeSlot) counter row with a
// conditional update, creating the row on first booking. The caller's write
// runs in the same transaction and a failed write releases the seat with
// the rollback.
func (l *Ledger) AdmitSunday(ctx context.Context, date, timeSlot string, capacityIfNew int, write func(tx *gorm.DB) error) error {
	if capacityIfNew <= 0 {
		capacityIfNew = catalog.SundayCapacityDflt
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot models.SundaySlot
		err := tx.Where("slot_date = ? AND time_slot = ?", date, timeSlot).First(&slot).Error
		if err == gorm.ErrRecordNotFound {
			slot = models.SundaySlot{SlotDate: date, TimeSlot: timeSlot, Capacity: capacityIfNew}
			if err := tx.Create(&slot).Error; err != nil {
				return fmt.Errorf("create sunday slot: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("load sunday slot: %w", err)
		}

		res := tx.Model(&models.SundaySlot{}).
			Where("id = ? AND booked < capacity", slot.ID).
			Update("booked", gorm.Expr("booked + 1"))
		if res.Error != nil {
			return fmt.Errorf("take sunday seat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			metrics.IncAdmissionRejected(models.ProgramSunday)
			return &AdmissionError{Full: []SlotRef{{Day: date, Time: timeSlot}}}
		}
		return write(tx)
	})
}

// ReleaseSunday frees one seat after a cancellation. Never goes below zero.
func (l *Ledger) ReleaseSunday(ctx context.Context, date, timeSlot string) error {
	res := l.db.WithContext(ctx).Model(&models.SundaySlot{}).
		Where("slot_date = ? AND time_slot = ? AND booked > 0", date, timeSlot).
		Update("booked", gorm.Expr("booked - 1"))
	if res.Error != nil {
		return fmt.Errorf("release sunday seat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		l.logger.Warn("sunday release found no seat to free",
			zap.String("date", date), zap.String("time", timeSlot))
	}
	return nil
}

// CheckDateIn reports availability for a concrete session date: the
// weekday's standing occupancy plus dated bookings for that exact date.
// Used by the recurring processor, which books dates rather than weekdays.
// A registration counts at most once per date: dated bookings belonging to
// a standing registration already counted are skipped, and excludeRegID
// keeps the asking registration's own seat out of both counts.
func (l *Ledger) CheckDateIn(ctx context.Context, programType, date, timeSlot, day string, excludeRegID uint) (Availability, error) {
	if programType == models.ProgramSunday {
		return l.CheckAvailability(ctx, programType, date, timeSlot, 0)
	}
	d := dates.NormDay(day)
	if d == "" {
		return Availability{}, fmt.Errorf("unknown day %q", day)
	}
	var out Availability
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		avail, err := l.checkTx(tx, programType, day, timeSlot, excludeRegID)
		if err != nil {
			return err
		}
		var dated int64
		if err := tx.Model(&models.SessionBooking{}).
			Where("session_date = ? AND time_slot = ? AND session_type = ? AND status <> ?",
				date, timeSlot, programType, models.BookingCancelled).
			Where("registration_id <> ?", excludeRegID).
			Where(`registration_id NOT IN (
				SELECT id FROM registrations
				WHERE program_type = ? AND status = ?
				  AND (',' || lower(selected_days) || ',') LIKE ?
				  AND time_slot = ?)`,
				programType, models.RegistrationActive, "%,"+d+",%", timeSlot).
			Count(&dated).Error; err != nil {
			return err
		}
		avail.BookedCount += int(dated)
		avail.Available = avail.BookedCount < avail.Capacity
		out = avail
		return nil
	})
	if err != nil {
		return Availability{}, fmt.Errorf("availability check %s %s %s: %w", programType, date, timeSlot, err)
	}
	return out, nil
}

// DB exposes the underlying handle for callers composing their own
// transactions around an admission (see schedule.Service).
func (l *Ledger) DB() *gorm.DB { return l.db }
