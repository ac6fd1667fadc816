// Package booking creates and cancels dated session bookings. Sunday ice
// goes through the persisted seat counter; every paid path follows
// deduct -> book -> compensate-on-failure so a charged-but-unbooked state
// never survives a request.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/catalog"
	"github.com/icehouse/academy/internal/credits"
	"github.com/icehouse/academy/internal/dates"
	"github.com/icehouse/academy/internal/models"
	"github.com/icehouse/academy/internal/notify"
	"github.com/icehouse/academy/internal/schedule"
)

// RefundCutoff is how close to the session a cancellation stops being
// refund-eligible. Evaluated here at the service boundary, not enforced in
// the store.
const RefundCutoff = 24 * time.Hour

type Service struct {
	db       *gorm.DB
	ledger   *capacity.Ledger
	credits  credits.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewService(db *gorm.DB, ledger *capacity.Ledger, creditLedger credits.Ledger, notifier notify.Notifier, logger *zap.Logger, loc *time.Location) *Service {
	return &Service{
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
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// BookSunday books one Sunday ice seat for a registration, funded by one
// credit. The seat is taken with a conditional counter update; if the
// booking row fails after the credit was deducted the deduction is
// refunded before returning.
func (s *Service) BookSunday(ctx context.Context, regID uint, parentUID, date, timeSlot string) (*models.SessionBooking, error) {
	reg, parent, err := s.loadOwned(ctx, regID, parentUID)
	if err != nil {
		return nil, err
	}

	window, ok := catalog.SundayWindow(reg.AgeCategory)
	if !ok {
		return nil, &schedule.ValidationError{Msg: fmt.Sprintf("category %s is not eligible for sunday ice", reg.AgeCategory)}
	}
	if timeSlot == "" {
		timeSlot = window
	}
	if timeSlot != window {
		return nil, &schedule.ValidationError{Msg: fmt.Sprintf("category %s skates at %s on sundays", reg.AgeCategory, window)}
	}

	d, err := dates.Parse(date, s.loc)
	if err != nil {
		return nil, &schedule.ValidationError{Msg: err.Error()}
	}
	if d.Weekday() != time.Sunday {
		return nil, &schedule.ValidationError{Msg: fmt.Sprintf("%s is not a sunday", date)}
	}
	// Compare calendar dates in the venue zone; instant math would flip a
	// same-day booking to "past" once local evening crosses UTC midnight.
	if dates.Format(d) < dates.Format(s.now().In(s.loc)) {
		return nil, &schedule.ValidationError{Msg: "cannot book a past date"}
	}

	// Duplicate guard before charging anything.
	dup, err := s.existingBooking(ctx, reg.ID, date, timeSlot, models.ProgramSunday)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return nil, &schedule.ValidationError{Msg: "already booked for this date"}
	}

	ref, err := s.credits.Deduct(ctx, parent.UID, 1)
	if err != nil {
		return nil, err // includes ErrInsufficientCredits
	}

	bk := models.SessionBooking{
		RegistrationID: reg.ID,
		SessionType:    models.ProgramSunday,
		SessionDate:    date,
		TimeSlot:       timeSlot,
		Status:         models.BookingBooked,
		CreditsUsed:    1,
		PurchaseRef:    ref,
		Code:           newBookingCode(),
	}
	err = s.ledger.AdmitSunday(ctx, date, timeSlot, catalog.SundayCapacityDflt, func(tx *gorm.DB) error {
		if err := tx.Create(&bk).Error; err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.compensate(ctx, parent.UID, ref, 1, err)
	}

	s.notify(ctx, reg.ParentID, "Sunday ice booked",
		fmt.Sprintf("Booked %s at %s. Code %s.", date, timeSlot, bk.Code))
	return &bk, nil
}

// Cancel flips a booking to cancelled, frees the seat, and refunds the
// credit when the cancellation lands before the refund cutoff. Never a
// delete; capacity counts pick up the freed seat immediately.
func (s *Service) Cancel(ctx context.Context, code, parentUID string) (*models.SessionBooking, error) {
	var bk models.SessionBooking
	q := s.db.WithContext(ctx).Where("session_bookings.code = ?", code)
	if parentUID != "" {
		q = q.Joins("JOIN registrations ON registrations.id = session_bookings.registration_id").
			Joins("JOIN parents ON parents.id = registrations.parent_id").
			Where("parents.uid = ?", parentUID)
	}
	if err := q.First(&bk).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, schedule.ErrNotFound
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if bk.Status == models.BookingCancelled {
		return &bk, nil
	}

	res := s.db.WithContext(ctx).Model(&models.SessionBooking{}).
		Where("id = ? AND status = ?", bk.ID, models.BookingBooked).
		Update("status", models.BookingCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("cancel booking: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Someone else cancelled it between load and update.
		bk.Status = models.BookingCancelled
		return &bk, nil
	}
	bk.Status = models.BookingCancelled

	if bk.SessionType == models.ProgramSunday {
		if err := s.ledger.ReleaseSunday(ctx, bk.SessionDate, bk.TimeSlot); err != nil {
			s.logger.Warn("sunday seat release failed", zap.String("code", bk.Code), zap.Error(err))
		}
	}

	if bk.CreditsUsed > 0 && s.refundEligible(bk.SessionDate) {
		parentUID, err := s.parentUIDFor(ctx, bk.RegistrationID)
		if err == nil {
			if err := s.credits.Refund(ctx, parentUID, bk.PurchaseRef, bk.CreditsUsed); err != nil {
				s.logger.Error("cancellation refund failed",
					zap.String("code", bk.Code), zap.String("parent", parentUID), zap.Error(err))
			}
		}
	}
	return &bk, nil
}

// refundEligible applies the time cutoff: a refund requires cancelling at
// least RefundCutoff before the session date starts.
func (s *Service) refundEligible(sessionDate string) bool {
	d, err := dates.Parse(sessionDate, s.loc)
	if err != nil {
		return false
	}
	return s.now().In(s.loc).Add(RefundCutoff).Before(d)
}

func (s *Service) compensate(ctx context.Context, parentUID, ref string, amount int, cause error) error {
	if refundErr := s.credits.Refund(ctx, parentUID, ref, amount); refundErr != nil {
		err := &credits.CompensationFailedError{
			ParentUID: parentUID,
			Ref:       ref,
			Amount:    amount,
			Cause:     cause,
			RefundErr: refundErr,
		}
		s.logger.Error("MANUAL RECONCILIATION REQUIRED: credit deducted, booking failed, refund failed",
			zap.String("parent", parentUID), zap.String("purchase_ref", ref), zap.Error(err))
		return err
	}
	return cause
}

func (s *Service) existingBooking(ctx context.Context, regID uint, date, timeSlot, sessionType string) (*models.SessionBooking, error) {
	var found []models.SessionBooking
	err := s.db.WithContext(ctx).
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

func (s *Service) loadOwned(ctx context.Context, regID uint, parentUID string) (*models.Registration, *models.Parent, error) {
	var reg models.Registration
	if err := s.db.WithContext(ctx).Preload("Parent").
		Where("id = ? AND status = ?", regID, models.RegistrationActive).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, schedule.ErrNotFound
		}
		return nil, nil, fmt.Errorf("load registration: %w", err)
	}
	if parentUID != "" && reg.Parent.UID != parentUID {
		return nil, nil, schedule.ErrNotFound
	}
	return &reg, &reg.Parent, nil
}

func (s *Service) parentUIDFor(ctx context.Context, regID uint) (string, error) {
	var uid string
	err := s.db.WithContext(ctx).Table("registrations").
		Select("parents.uid").
		Joins("JOIN parents ON parents.id = registrations.parent_id").
		Where("registrations.id = ?", regID).
		Scan(&uid).Error
	if err != nil {
		return "", fmt.Errorf("parent uid: %w", err)
	}
	return uid, nil
}

func (s *Service) notify(ctx context.Context, parentID uint, title, msg string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notify.Notification{
		UserID: parentID, UserType: "parent", Type: "booking",
		Title: title, Message: msg, Priority: "normal",
	})
	if err != nil {
		s.logger.Warn("booking notification failed", zap.Uint("parent", parentID), zap.Error(err))
	}
}

func newBookingCode() string {
	return "BK-" + strings.ToUpper(uuid.NewString()[:8])
}
