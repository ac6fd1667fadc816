// Package recurring is the weekly auto-booking batch: for every active
// schedule due today it checks credits and capacity, books the next
// occurrence, and pauses the schedule when it can't. One schedule's
// failure never aborts the rest of the run.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/credits"
	"github.com/icehouse/academy/internal/dates"
	"github.com/icehouse/academy/internal/metrics"
	"github.com/icehouse/academy/internal/models"
	"github.com/icehouse/academy/internal/notify"
	"github.com/icehouse/academy/internal/schedule"
)

// Stats is the per-run report returned for observability.
type Stats struct {
	Processed                 int `json:"processed"`
	Booked                    int `json:"booked"`
	Duplicates                int `json:"duplicates"`
	PausedInsufficientCredits int `json:"paused_insufficient_credits"`
	PausedSlotUnavailable     int `json:"paused_slot_unavailable"`
	Errors                    int `json:"errors"`
}

type Processor struct {
	db       *gorm.DB
	ledger   *capacity.Ledger
	credits  credits.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewProcessor(db *gorm.DB, ledger *capacity.Ledger, creditLedger credits.Ledger, notifier notify.Notifier, logger *zap.Logger, loc *time.Location) *Processor {
	return &Processor{
		db:       db,
		ledger:   ledger,
		credits:  creditLedger,
		notifier: notifier,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// SetNow overrides the clock for tests.
func (p *Processor) SetNow(now func() time.Time) { p.now = now }

// Run processes every active schedule due today. Item failures are counted
// and logged, never propagated; the returned error covers only the listing
// query itself.
func (p *Processor) Run(ctx context.Context) (Stats, error) {
	today := dates.Format(p.now().In(p.loc))

	var due []models.RecurringSchedule
	if err := p.db.WithContext(ctx).
		Where("is_active = ? AND next_booking_date <= ?", true, today).
		Order("next_booking_date asc, id asc").
		Find(&due).Error; err != nil {
		return Stats{}, fmt.Errorf("list due schedules: %w", err)
	}

	var stats Stats
	for i := range due {
		stats.Processed++
		outcome, err := p.processOne(ctx, &due[i])
		metrics.IncRecurringOutcome(outcome)
		switch outcome {
		case "booked":
			stats.Booked++
		case "duplicate":
			stats.Duplicates++
		case "paused_credits":
			stats.PausedInsufficientCredits++
		case "paused_slot":
			stats.PausedSlotUnavailable++
		default:
			stats.Errors++
			p.logger.Error("recurring schedule failed",
				zap.Uint("schedule", due[i].ID),
				zap.String("date", due[i].NextBookingDate),
				zap.Error(err))
		}
	}

	p.logger.Info("recurring run complete",
		zap.Int("processed", stats.Processed),
		zap.Int("booked", stats.Booked),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("paused_credits", stats.PausedInsufficientCredits),
		zap.Int("paused_slot", stats.PausedSlotUnavailable),
		zap.Int("errors", stats.Errors))
	return stats, nil
}

// processOne runs the credit / capacity / duplicate checks and then
// deduct -> book -> advance, compensating the deduction if the booking
// write fails.
func (p *Processor) processOne(ctx context.Context, sched *models.RecurringSchedule) (string, error) {
	date := sched.NextBookingDate
	day, err := p.weekdayOf(date)
	if err != nil {
		return "error", err
	}

	// 1. Credit check.
	balance, err := p.credits.Balance(ctx, sched.ParentUID)
	if err != nil {
		return "error", fmt.Errorf("credit balance: %w", err)
	}
	if balance < 1 {
		if err := p.pause(ctx, sched, models.PausedInsufficientCredits); err != nil {
			return "error", err
		}
		return "paused_credits", nil
	}

	// 2. Capacity check for the concrete date.
	avail, err := p.ledger.CheckDateIn(ctx, sched.SessionType, date, sched.TimeSlot, day, sched.RegistrationID)
	if err != nil {
		return "error", err
	}
	if !avail.Available {
		if err := p.pause(ctx, sched, models.PausedSlotUnavailable); err != nil {
			return "error", err
		}
		return "paused_slot", nil
	}

	// 3. Idempotency: a rerun over an already-booked date advances the
	// schedule without charging again.
	dup, err := p.existingBooking(ctx, sched.RegistrationID, date, sched.TimeSlot, sched.SessionType)
	if err != nil {
		return "error", err
	}
	if dup != nil {
		if err := p.advance(ctx, sched); err != nil {
			return "error", err
		}
		return "duplicate", nil
	}

	// 4. Commit: deduct, book, compensate on failure.
	ref, err := p.credits.Deduct(ctx, sched.ParentUID, 1)
	if err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			// Balance moved under us between check and deduct.
			if perr := p.pause(ctx, sched, models.PausedInsufficientCredits); perr != nil {
				return "error", perr
			}
			return "paused_credits", nil
		}
		return "error", fmt.Errorf("deduct credit: %w", err)
	}

	bk := models.SessionBooking{
		RegistrationID:      sched.RegistrationID,
		SessionType:         sched.SessionType,
		SessionDate:         date,
		TimeSlot:            sched.TimeSlot,
		Status:              models.BookingBooked,
		CreditsUsed:         1,
		PurchaseRef:         ref,
		IsRecurring:         true,
		RecurringScheduleID: &sched.ID,
		Code:                "BK-" + strings.ToUpper(uuid.NewString()[:8]),
	}
	if err := p.db.WithContext(ctx).Create(&bk).Error; err != nil {
		cause := fmt.Errorf("create booking: %w", err)
		if refundErr := p.credits.Refund(ctx, sched.ParentUID, ref, 1); refundErr != nil {
			cerr := &credits.CompensationFailedError{
				ParentUID: sched.ParentUID,
				Ref:       ref,
				Amount:    1,
				Cause:     cause,
				RefundErr: refundErr,
			}
			p.logger.Error("MANUAL RECONCILIATION REQUIRED: credit deducted, booking failed, refund failed",
				zap.Uint("schedule", sched.ID), zap.Error(cerr))
			return "error", cerr
		}
		return "error", cause
	}

	// 5. Advance a week.
	if err := p.advanceBooked(ctx, sched, date); err != nil {
		return "error", err
	}

	p.notifyParent(ctx, sched, "Weekly session booked",
		fmt.Sprintf("Booked %s at %s with 1 credit.", date, sched.TimeSlot))
	return "booked", nil
}

// pause deactivates the schedule with a reason. Terminal until Resume.
func (p *Processor) pause(ctx context.Context, sched *models.RecurringSchedule, reason string) error {
	res := p.db.WithContext(ctx).Model(&models.RecurringSchedule{}).
		Where("id = ? AND is_active = ?", sched.ID, true).
		Updates(map[string]any{"is_active": false, "paused_reason": reason})
	if res.Error != nil {
		return fmt.Errorf("pause schedule: %w", res.Error)
	}
	sched.IsActive = false
	sched.PausedReason = reason

	title, msg := "Weekly booking paused", ""
	switch reason {
	case models.PausedInsufficientCredits:
		msg = "Your credit balance is empty, so automatic booking is paused. Top up and resume to continue."
	case models.PausedSlotUnavailable:
		msg = fmt.Sprintf("The %s slot was full for %s. Automatic booking is paused; pick a new slot or resume later.",
			sched.TimeSlot, sched.NextBookingDate)
	}
	p.notifyParent(ctx, sched, title, msg)
	return nil
}

// advance moves next_booking_date forward exactly 7 days without touching
// last_booked_date; used on the duplicate path.
func (p *Processor) advance(ctx context.Context, sched *models.RecurringSchedule) error {
	next, err := p.plusWeek(sched.NextBookingDate)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Model(&models.RecurringSchedule{}).
		Where("id = ?", sched.ID).
		Update("next_booking_date", next).Error; err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	sched.NextBookingDate = next
	return nil
}

func (p *Processor) advanceBooked(ctx context.Context, sched *models.RecurringSchedule, bookedDate string) error {
	next, err := p.plusWeek(bookedDate)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Model(&models.RecurringSchedule{}).
		Where("id = ?", sched.ID).
		Updates(map[string]any{
			"last_booked_date":  bookedDate,
			"next_booking_date": next,
		}).Error; err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	sched.LastBookedDate = bookedDate
	sched.NextBookingDate = next
	return nil
}

// Resume reactivates a paused schedule, rolling the next booking date
// forward week by week until it lands today or later.
func (p *Processor) Resume(ctx context.Context, scheduleID uint, parentUID string) (*models.RecurringSchedule, error) {
	var sched models.RecurringSchedule
	q := p.db.WithContext(ctx).Where("id = ?", scheduleID)
	if parentUID != "" {
		q = q.Where("parent_uid = ?", parentUID)
	}
	if err := q.First(&sched).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, schedule.ErrNotFound
		}
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	today := dates.Format(p.now().In(p.loc))
	next := sched.NextBookingDate
	for next < today {
		var err error
		next, err = p.plusWeek(next)
		if err != nil {
			return nil, err
		}
	}

	if err := p.db.WithContext(ctx).Model(&models.RecurringSchedule{}).
		Where("id = ?", sched.ID).
		Updates(map[string]any{
			"is_active":         true,
			"paused_reason":     "",
			"next_booking_date": next,
		}).Error; err != nil {
		return nil, fmt.Errorf("resume schedule: %w", err)
	}
	sched.IsActive = true
	sched.PausedReason = ""
	sched.NextBookingDate = next
	return &sched, nil
}

// OptIn creates a recurring schedule for a registration, first occurrence
// on the next calendar occurrence of the given day. The registration must
// be active and owned by parentUID.
func (p *Processor) OptIn(ctx context.Context, parentUID string, regID uint, sessionType, day, timeSlot string) (*models.RecurringSchedule, error) {
	var reg models.Registration
	q := p.db.WithContext(ctx).
		Where("registrations.id = ? AND registrations.status = ?", regID, models.RegistrationActive)
	if parentUID != "" {
		q = q.Joins("JOIN parents ON parents.id = registrations.parent_id").
			Where("parents.uid = ?", parentUID)
	}
	if err := q.First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, schedule.ErrNotFound
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}

	next, err := dates.NextOccurrence(day, p.now().In(p.loc))
	if err != nil {
		return nil, err
	}
	sched := models.RecurringSchedule{
		ParentUID:       parentUID,
		RegistrationID:  regID,
		SessionType:     sessionType,
		TimeSlot:        timeSlot,
		NextBookingDate: next,
		IsActive:        true,
	}
	if err := p.db.WithContext(ctx).Create(&sched).Error; err != nil {
		return nil, fmt.Errorf("create recurring schedule: %w", err)
	}
	return &sched, nil
}

func (p *Processor) existingBooking(ctx context.Context, regID uint, date, timeSlot, sessionType string) (*models.SessionBooking, error) {
	var found []models.SessionBooking
	err := p.db.WithContext(ctx).
		Where("registration_id = ? AND session_date = ? AND time_slot = ? AND session_type = ? AND status <> ?",
			regID, date, timeSlot, sessionType, models.BookingCancelled).
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (p *Processor) weekdayOf(date string) (string, error) {
	d, err := dates.Parse(date, p.loc)
	if err != nil {
		return "", err
	}
	return dates.DayToken(d.Weekday()), nil
}

func (p *Processor) plusWeek(date string) (string, error) {
	d, err := dates.Parse(date, p.loc)
	if err != nil {
		return "", err
	}
	return dates.Format(d.AddDate(0, 0, 7)), nil
}

func (p *Processor) notifyParent(ctx context.Context, sched *models.RecurringSchedule, title, msg string) {
	if p.notifier == nil {
		return
	}
	var parentID uint
	_ = p.db.WithContext(ctx).Table("registrations").
		Select("parent_id").
		Where("id = ?", sched.RegistrationID).
		Scan(&parentID).Error
	err := p.notifier.Send(ctx, notify.Notification{
		UserID: parentID, UserType: "parent", Type: "recurring",
		Title: title, Message: msg, Priority: "normal",
	})
	if err != nil {
		p.logger.Warn("recurring notification failed", zap.Uint("schedule", sched.ID), zap.Error(err))
	}
}
