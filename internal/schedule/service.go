// Package schedule owns the recurring assignment on a registration and the
// two ways it changes: permanent edits that rewrite the baseline, and
// one-time exceptions that override a single calendar date.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/dates"
	"github.com/icehouse/academy/internal/models"
	"github.com/icehouse/academy/internal/notify"
)

// Change types accepted by ProposeChange.
const (
	ChangeOneTime   = "one_time"
	ChangePermanent = "permanent"
)

// ChangeRequest is a parent-initiated reschedule.
type ChangeRequest struct {
	RegistrationID uint
	ParentUID      string // ownership check; empty skips it (admin path)
	ChangeType     string
	NewDays        []string
	NewTime        string // empty keeps the current time slot
	Reason         string
}

// Result reports what a successful proposal persisted.
type Result struct {
	Change     models.ScheduleChange
	Exceptions []models.ScheduleException // one_time only
}

// Service performs reschedules and resolves effective schedules.
type Service struct {
	db       *gorm.DB
	ledger   *capacity.Ledger
	notifier notify.Notifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewService(db *gorm.DB, ledger *capacity.Ledger, notifier notify.Notifier, logger *zap.Logger, loc *time.Location) *Service {
	return &Service{
		db:       db,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// SetNow overrides the clock; tests pin "today" with it.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

func (s *Service) today() time.Time {
	return s.now().In(s.loc)
}

// expectedDayCount is 1 for 1x and 2 for 2x; private and semi-private
// sessions always sit on a single day regardless of the frequency field.
func expectedDayCount(programType, frequency string) int {
	if programType == models.ProgramPrivate || programType == models.ProgramSemiPrivate {
		return 1
	}
	if frequency == "2x" {
		return 2
	}
	return 1
}

// ProposeChange validates, admits and persists a reschedule. Admission is
// all-or-nothing: if any requested day is full the whole operation is
// rejected with every full day listed, and nothing is written.
func (s *Service) ProposeChange(ctx context.Context, req ChangeRequest) (*Result, error) {
	reg, err := s.loadOwned(ctx, req.RegistrationID, req.ParentUID)
	if err != nil {
		return nil, err
	}

	// Semi-private moves affect a partner: they dissolve the pairing and
	// rematch, which the pairing engine owns. Rewriting the registration
	// here would strand an active pairing at the old slot.
	if reg.ProgramType == models.ProgramSemiPrivate {
		return nil, validationf("semi-private schedules change through partner matching; use the pairing reschedule")
	}

	newDays := normalizeDays(req.NewDays)
	if len(newDays) == 0 {
		return nil, validationf("no valid days in request")
	}
	if want := expectedDayCount(reg.ProgramType, reg.Frequency); len(newDays) != want {
		return nil, validationf(fmt.Sprintf("expected %d day(s) for %s frequency, got %d", want, reg.Frequency, len(newDays)))
	}

	newTime := req.NewTime
	if newTime == "" {
		newTime = reg.TimeSlot
	}

	oldDays := dates.SplitList(reg.SelectedDays)
	switch req.ChangeType {
	case ChangePermanent:
		return s.applyPermanent(ctx, reg, oldDays, newDays, newTime, req.Reason)
	case ChangeOneTime:
		return s.applyOneTime(ctx, reg, oldDays, newDays, newTime, req.Reason)
	}
	return nil, validationf(fmt.Sprintf("unknown change type %q", req.ChangeType))
}

func (s *Service) applyPermanent(ctx context.Context, reg *models.Registration, oldDays, newDays []string, newTime, reason string) (*Result, error) {
	res := &Result{}
	err := s.ledger.AdmitMany(ctx, reg.ProgramType, newDays, newTime, reg.ID, func(tx *gorm.DB) error {
		if err := tx.Model(&models.Registration{}).Where("id = ?", reg.ID).Updates(map[string]any{
			"selected_days": dates.JoinList(newDays),
			"time_slot":     newTime,
		}).Error; err != nil {
			return fmt.Errorf("update registration: %w", err)
		}

		// Pending one-time swaps lose their meaning when the baseline day
		// they override is dropped; left applied, their date could later
		// collide with a new-day occurrence and silently swap it. Swaps on
		// days the change keeps stay in force.
		if err := tx.Model(&models.ScheduleException{}).
			Where("registration_id = ? AND status = ? AND exception_date >= ?",
				reg.ID, models.ExceptionApplied, dates.Format(s.today())).
			Where("lower(original_day) NOT IN ?", newDays).
			Update("status", models.ExceptionCancelled).Error; err != nil {
			return fmt.Errorf("cancel stale exceptions: %w", err)
		}

		res.Change = models.ScheduleChange{
			RegistrationID: reg.ID,
			ChangeType:     ChangePermanent,
			OriginalDays:   reg.SelectedDays,
			NewDays:        dates.JoinList(newDays),
			OriginalTime:   reg.TimeSlot,
			NewTime:        newTime,
			Status:         "approved",
			Reason:         reason,
		}
		if err := tx.Create(&res.Change).Error; err != nil {
			return fmt.Errorf("audit schedule change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyChange(ctx, reg, "Schedule updated",
		fmt.Sprintf("Training days changed to %s at %s.", dates.JoinList(newDays), newTime))
	return res, nil
}

func (s *Service) applyOneTime(ctx context.Context, reg *models.Registration, oldDays, newDays []string, newTime, reason string) (*Result, error) {
	removed, added := diffDays(oldDays, newDays)
	if len(removed) == 0 {
		return nil, validationf("one-time change does not alter any day")
	}
	if len(removed) != len(added) {
		return nil, validationf("one-time swap must replace days one for one")
	}

	res := &Result{}
	err := s.ledger.AdmitMany(ctx, reg.ProgramType, added, newTime, reg.ID, func(tx *gorm.DB) error {
		today := s.today()
		for i := range removed {
			excDate, err := dates.NextOccurrence(removed[i], today)
			if err != nil {
				return validationf(err.Error())
			}
			exc, err := s.upsertException(tx, reg.ID, excDate, removed[i], added[i], newTime)
			if err != nil {
				return err
			}
			res.Exceptions = append(res.Exceptions, *exc)
		}

		res.Change = models.ScheduleChange{
			RegistrationID: reg.ID,
			ChangeType:     ChangeOneTime,
			OriginalDays:   dates.JoinList(removed),
			NewDays:        dates.JoinList(added),
			OriginalTime:   reg.TimeSlot,
			NewTime:        newTime,
			Status:         "approved",
			Reason:         reason,
		}
		if err := tx.Create(&res.Change).Error; err != nil {
			return fmt.Errorf("audit schedule change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyChange(ctx, reg, "One-time change confirmed",
		fmt.Sprintf("Swapped %s for %s for one week only.", dates.JoinList(removed), dates.JoinList(added)))
	return res, nil
}

// upsertException updates the applied exception for (registration, date) if
// one exists, otherwise inserts. Runs inside the admission transaction; the
// partial unique index in db.Migrate backs up the pre-check.
func (s *Service) upsertException(tx *gorm.DB, regID uint, excDate, originalDay, replacementDay, replacementTime string) (*models.ScheduleException, error) {
	var exc models.ScheduleException
	err := tx.Where("registration_id = ? AND exception_date = ? AND status = ?",
		regID, excDate, models.ExceptionApplied).First(&exc).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		exc = models.ScheduleException{
			RegistrationID:  regID,
			ExceptionDate:   excDate,
			ExceptionType:   "swap",
			OriginalDay:     originalDay,
			ReplacementDay:  replacementDay,
			ReplacementTime: replacementTime,
			Status:          models.ExceptionApplied,
		}
		if err := tx.Create(&exc).Error; err != nil {
			return nil, fmt.Errorf("create exception: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("find exception: %w", err)
	default:
		exc.OriginalDay = originalDay
		exc.ReplacementDay = replacementDay
		exc.ReplacementTime = replacementTime
		if err := tx.Save(&exc).Error; err != nil {
			return nil, fmt.Errorf("update exception: %w", err)
		}
	}
	return &exc, nil
}

// Occurrence is one resolved training date.
type Occurrence struct {
	Date         string `json:"date"` // actual training date
	Day          string `json:"day"`
	TimeSlot     string `json:"time_slot"`
	Swapped      bool   `json:"swapped,omitempty"`
	OriginalDay  string `json:"original_day,omitempty"`
	OriginalDate string `json:"original_date,omitempty"`
}

// UpcomingOccurrences enumerates the next weeks of training dates for a
// registration, substituting any applied exception for its exact date only.
// Today counts as upcoming for display, unlike exception creation.
func (s *Service) UpcomingOccurrences(ctx context.Context, regID uint, parentUID string, weeks int) ([]Occurrence, error) {
	reg, err := s.loadOwned(ctx, regID, parentUID)
	if err != nil {
		return nil, err
	}
	if weeks <= 0 {
		weeks = 4
	}

	today := s.today()
	var out []Occurrence
	for _, day := range dates.SplitList(reg.SelectedDays) {
		wd, err := dates.Weekday(day)
		if err != nil {
			continue
		}
		first := today.AddDate(0, 0, (int(wd)-int(today.Weekday())+7)%7)
		for w := 0; w < weeks; w++ {
			d := first.AddDate(0, 0, 7*w)
			out = append(out, Occurrence{
				Date:     dates.Format(d),
				Day:      day,
				TimeSlot: reg.TimeSlot,
			})
		}
	}

	if err := s.applyExceptions(ctx, reg.ID, out); err != nil {
		return nil, err
	}

	sortOccurrences(out)
	return out, nil
}

// applyExceptions rewrites any occurrence whose original date carries an
// applied exception. The swap moves the session forward inside its week:
// the replacement date is the first replacement-day date on or after the
// original one.
func (s *Service) applyExceptions(ctx context.Context, regID uint, occs []Occurrence) error {
	if len(occs) == 0 {
		return nil
	}
	var excs []models.ScheduleException
	if err := s.db.WithContext(ctx).
		Where("registration_id = ? AND status = ?", regID, models.ExceptionApplied).
		Find(&excs).Error; err != nil {
		return fmt.Errorf("load exceptions: %w", err)
	}
	if len(excs) == 0 {
		return nil
	}
	byDate := make(map[string]models.ScheduleException, len(excs))
	for _, e := range excs {
		byDate[e.ExceptionDate] = e
	}

	for i := range occs {
		e, ok := byDate[occs[i].Date]
		if !ok {
			continue
		}
		orig, err := dates.Parse(occs[i].Date, s.loc)
		if err != nil {
			continue
		}
		rw, err := dates.Weekday(e.ReplacementDay)
		if err != nil {
			continue
		}
		shift := (int(rw) - int(orig.Weekday()) + 7) % 7
		occs[i] = Occurrence{
			Date:         dates.Format(orig.AddDate(0, 0, shift)),
			Day:          e.ReplacementDay,
			TimeSlot:     firstNonEmpty(e.ReplacementTime, occs[i].TimeSlot),
			Swapped:      true,
			OriginalDay:  e.OriginalDay,
			OriginalDate: e.ExceptionDate,
		}
	}
	return nil
}

func (s *Service) loadOwned(ctx context.Context, regID uint, parentUID string) (*models.Registration, error) {
	var reg models.Registration
	q := s.db.WithContext(ctx).Where("registrations.id = ? AND registrations.status = ?", regID, models.RegistrationActive)
	if parentUID != "" {
		q = q.Joins("JOIN parents ON parents.id = registrations.parent_id").
			Where("parents.uid = ?", parentUID)
	}
	if err := q.First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}
	return &reg, nil
}

// notifyChange is fire-and-forget; a dead sink never fails a reschedule.
func (s *Service) notifyChange(ctx context.Context, reg *models.Registration, title, msg string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notify.Notification{
		UserID:   reg.ParentID,
		UserType: "parent",
		Type:     "schedule_change",
		Title:    title,
		Message:  msg,
		Priority: "normal",
	})
	if err != nil {
		s.logger.Warn("schedule change notification failed", zap.Uint("registration", reg.ID), zap.Error(err))
	}
}

func normalizeDays(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, d := range in {
		n := dates.NormDay(d)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// diffDays pairs dropped days with added ones in order; days present on
// both sides are untouched.
func diffDays(oldDays, newDays []string) (removed, added []string) {
	oldSet := map[string]bool{}
	for _, d := range oldDays {
		oldSet[d] = true
	}
	newSet := map[string]bool{}
	for _, d := range newDays {
		newSet[d] = true
	}
	for _, d := range oldDays {
		if !newSet[d] {
			removed = append(removed, d)
		}
	}
	for _, d := range newDays {
		if !oldSet[d] {
			added = append(added, d)
		}
	}
	return removed, added
}

func sortOccurrences(occs []Occurrence) {
	sort.Slice(occs, func(i, j int) bool { return occs[i].Date < occs[j].Date })
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
