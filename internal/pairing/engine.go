// Package pairing matches semi-private registrants into two-player
// sessions and keeps the partner waitlist. Pairing is greedy and
// immediate; dissolution re-waitlists the abandoned partner at the slot
// they already had so they stay rematchable.
package pairing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/dates"
	"github.com/icehouse/academy/internal/metrics"
	"github.com/icehouse/academy/internal/models"
	"github.com/icehouse/academy/internal/notify"
	"github.com/icehouse/academy/internal/schedule"
)

// PartnerInfo identifies the other player in a pairing outcome.
type PartnerInfo struct {
	RegistrationID uint   `json:"registration_id"`
	PlayerName     string `json:"player_name"`
	AgeCategory    string `json:"age_category"`
}

// Outcome tells the caller everything needed to notify both affected
// parties after a semi-private reschedule.
type Outcome struct {
	HadPreviousPartner bool         `json:"had_previous_partner"`
	PreviousPartner    *PartnerInfo `json:"previous_partner,omitempty"`
	NewPartner         *PartnerInfo `json:"new_partner,omitempty"`
	IsPaired           bool         `json:"is_paired"`
	IsWaiting          bool         `json:"is_waiting"`
}

// SuggestedTime is one (day, time) a waiting player has listed, annotated
// so a new registrant can be steered toward an existing partner.
type SuggestedTime struct {
	Day             string `json:"day"`
	Time            string `json:"time"`
	PartnerName     string `json:"partner_name"`
	PartnerCategory string `json:"partner_category"`
}

// Engine runs the semi-private matchmaking state machine:
// waiting -> paired -> dissolved -> waiting.
type Engine struct {
	db       *gorm.DB
	ledger   *capacity.Ledger
	matcher  Matcher
	notifier notify.Notifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewEngine(db *gorm.DB, ledger *capacity.Ledger, notifier notify.Notifier, logger *zap.Logger, loc *time.Location) *Engine {
	return &Engine{
		db:       db,
		ledger:   ledger,
		matcher:  GreedyMatcher{},
		notifier: notifier,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// SetMatcher swaps the matching strategy.
func (e *Engine) SetMatcher(m Matcher) { e.matcher = m }

// SetNow overrides the clock for tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// SuggestedTimes lists every (day, time) any waiting player in the
// category has as a preference, excluding the asking registration.
func (e *Engine) SuggestedTimes(ctx context.Context, ageCategory string, excludeRegID uint) ([]SuggestedTime, error) {
	type row struct {
		PreferredDays      string
		PreferredTimeSlots string
		Name               string
		AgeCategory        string
	}
	var rows []row
	err := e.db.WithContext(ctx).Table("unpaired_semi_privates u").
		Select("u.preferred_days, u.preferred_time_slots, players.name, u.age_category").
		Joins("JOIN registrations ON registrations.id = u.registration_id").
		Joins("JOIN players ON players.id = registrations.player_id").
		Where("u.status = ? AND u.age_category = ? AND u.registration_id <> ?",
			models.WaitlistWaiting, ageCategory, excludeRegID).
		Where("registrations.status = ?", models.RegistrationActive).
		Order("u.unpaired_since_date asc").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("suggested times: %w", err)
	}

	var out []SuggestedTime
	for _, r := range rows {
		for _, d := range dates.SplitList(r.PreferredDays) {
			for _, t := range dates.SplitList(r.PreferredTimeSlots) {
				out = append(out, SuggestedTime{
					Day:             d,
					Time:            t,
					PartnerName:     r.Name,
					PartnerCategory: r.AgeCategory,
				})
			}
		}
	}
	return out, nil
}

// TryReschedule moves a semi-private registration to (newDay, newTime):
// rejects if another session owns the slot, dissolves any current pairing
// (re-waitlisting the former partner at the old slot), then either pairs
// with a waiting compatible player or parks the mover on the waitlist.
func (e *Engine) TryReschedule(ctx context.Context, regID uint, parentUID, newDay, newTime string) (*Outcome, error) {
	day := dates.NormDay(newDay)
	if day == "" {
		return nil, &schedule.ValidationError{Msg: fmt.Sprintf("unknown day %q", newDay)}
	}
	if newTime == "" {
		return nil, &schedule.ValidationError{Msg: "missing time slot"}
	}

	reg, err := e.loadRegistration(ctx, regID, parentUID)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	var notifs []notify.Notification

	err = e.ledger.Admit(ctx, models.ProgramSemiPrivate, day, newTime, reg.ID, func(tx *gorm.DB) error {
		today := dates.Format(e.now().In(e.loc))

		// Dissolve the current pairing, if any, and give the abandoned
		// partner the old slot as their waitlist preference.
		prev, err := e.activePairing(tx, reg.ID)
		if err != nil {
			return err
		}
		if prev != nil {
			partnerRegID := prev.Player1RegistrationID
			if partnerRegID == reg.ID {
				partnerRegID = prev.Player2RegistrationID
			}
			if err := e.dissolve(tx, prev, "partner_rescheduled"); err != nil {
				return err
			}
			partner, err := e.partnerInfo(tx, partnerRegID)
			if err != nil {
				return err
			}
			if err := upsertWaitlist(tx, partnerRegID, partner.AgeCategory,
				prev.ScheduledDay, prev.ScheduledTime, models.WaitlistWaiting, today); err != nil {
				return err
			}
			out.HadPreviousPartner = true
			out.PreviousPartner = partner
			notifs = append(notifs, e.partnerNotification(tx, partnerRegID,
				"Training partner change",
				fmt.Sprintf("Your partner moved to another slot. You are back on the partner list for %s %s.",
					prev.ScheduledDay, prev.ScheduledTime)))
		}

		// The mover now trains at the new slot either way.
		if err := tx.Model(&models.Registration{}).Where("id = ?", reg.ID).Updates(map[string]any{
			"selected_days": day,
			"time_slot":     newTime,
		}).Error; err != nil {
			return fmt.Errorf("update registration: %w", err)
		}

		// Greedy match against the waitlist.
		cand, err := e.matcher.Match(tx, reg.AgeCategory, day, newTime, reg.ID)
		if err != nil {
			return err
		}
		if cand == nil {
			if err := upsertWaitlist(tx, reg.ID, reg.AgeCategory, day, newTime, models.WaitlistWaiting, today); err != nil {
				return err
			}
			out.IsWaiting = true
			return nil
		}

		pair := models.SemiPrivatePairing{
			PairGroupID:           uuid.NewString(),
			Player1RegistrationID: reg.ID,
			Player2RegistrationID: cand.RegistrationID,
			ScheduledDay:          day,
			ScheduledTime:         newTime,
			Status:                models.PairingActive,
		}
		if err := tx.Create(&pair).Error; err != nil {
			return fmt.Errorf("create pairing: %w", err)
		}

		// Both players leave the waitlist and train at the paired slot.
		if err := upsertWaitlist(tx, reg.ID, reg.AgeCategory, day, newTime, models.WaitlistPaired, today); err != nil {
			return err
		}
		if err := tx.Model(&models.UnpairedSemiPrivate{}).
			Where("registration_id = ?", cand.RegistrationID).
			Update("status", models.WaitlistPaired).Error; err != nil {
			return fmt.Errorf("flag partner paired: %w", err)
		}
		if err := tx.Model(&models.Registration{}).Where("id = ?", cand.RegistrationID).Updates(map[string]any{
			"selected_days": day,
			"time_slot":     newTime,
		}).Error; err != nil {
			return fmt.Errorf("update partner registration: %w", err)
		}

		partner, err := e.partnerInfo(tx, cand.RegistrationID)
		if err != nil {
			return err
		}
		out.IsPaired = true
		out.NewPartner = partner
		notifs = append(notifs, e.partnerNotification(tx, cand.RegistrationID,
			"Partner found!",
			fmt.Sprintf("You are paired for %s at %s.", day, newTime)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.HadPreviousPartner {
		metrics.IncPairingDissolved()
	}
	if out.IsPaired {
		metrics.IncPairingFormed()
	}
	e.sendAll(ctx, notifs)
	return out, nil
}

// EnsureWaitlisted puts a registration on the partner waitlist with its
// current day/time as the preference; used when a semi-private signup
// arrives with nobody to pair with yet. Runs the same matching as a
// reschedule to the registration's own slot.
func (e *Engine) EnsureWaitlisted(ctx context.Context, regID uint, parentUID string) (*Outcome, error) {
	reg, err := e.loadRegistration(ctx, regID, parentUID)
	if err != nil {
		return nil, err
	}
	days := dates.SplitList(reg.SelectedDays)
	if len(days) == 0 {
		return nil, &schedule.ValidationError{Msg: "registration has no assigned day"}
	}
	return e.TryReschedule(ctx, regID, parentUID, days[0], reg.TimeSlot)
}

func (e *Engine) loadRegistration(ctx context.Context, regID uint, parentUID string) (*models.Registration, error) {
	var reg models.Registration
	q := e.db.WithContext(ctx).
		Where("registrations.id = ? AND registrations.program_type = ? AND registrations.status = ?",
			regID, models.ProgramSemiPrivate, models.RegistrationActive)
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
	return &reg, nil
}

func (e *Engine) activePairing(tx *gorm.DB, regID uint) (*models.SemiPrivatePairing, error) {
	var pairs []models.SemiPrivatePairing
	err := tx.Where("status = ? AND (player1_registration_id = ? OR player2_registration_id = ?)",
		models.PairingActive, regID, regID).
		Limit(1).
		Find(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("find pairing: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	return &pairs[0], nil
}

func (e *Engine) dissolve(tx *gorm.DB, pair *models.SemiPrivatePairing, reason string) error {
	now := e.now()
	res := tx.Model(&models.SemiPrivatePairing{}).
		Where("id = ? AND status = ?", pair.ID, models.PairingActive).
		Updates(map[string]any{
			"status":           models.PairingDissolved,
			"dissolved_reason": reason,
			"dissolved_at":     &now,
		})
	if res.Error != nil {
		return fmt.Errorf("dissolve pairing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pairing %d already dissolved", pair.ID)
	}
	return nil
}

func (e *Engine) partnerInfo(tx *gorm.DB, regID uint) (*PartnerInfo, error) {
	var info PartnerInfo
	err := tx.Table("registrations").
		Select("registrations.id AS registration_id, players.name AS player_name, registrations.age_category").
		Joins("JOIN players ON players.id = registrations.player_id").
		Where("registrations.id = ?", regID).
		Scan(&info).Error
	if err != nil {
		return nil, fmt.Errorf("partner info: %w", err)
	}
	if info.RegistrationID == 0 {
		return nil, fmt.Errorf("partner registration %d not found", regID)
	}
	return &info, nil
}

func (e *Engine) partnerNotification(tx *gorm.DB, regID uint, title, msg string) notify.Notification {
	var parentID uint
	_ = tx.Model(&models.Registration{}).Where("id = ?", regID).
		Select("parent_id").Scan(&parentID).Error
	return notify.Notification{
		UserID:   parentID,
		UserType: "parent",
		Type:     "pairing_update",
		Title:    title,
		Message:  msg,
		Priority: "normal",
	}
}

func (e *Engine) sendAll(ctx context.Context, notifs []notify.Notification) {
	if e.notifier == nil {
		return
	}
	for _, n := range notifs {
		if err := e.notifier.Send(ctx, n); err != nil {
			e.logger.Warn("pairing notification failed", zap.Uint("user_id", n.UserID), zap.Error(err))
		}
	}
}

// upsertWaitlist keeps one row per registration (select-then-write inside
// the caller's transaction; the unique index on registration_id backs it).
func upsertWaitlist(tx *gorm.DB, regID uint, ageCategory, day, timeSlot, status, sinceDate string) error {
	var entry models.UnpairedSemiPrivate
	err := tx.Where("registration_id = ?", regID).First(&entry).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		entry = models.UnpairedSemiPrivate{
			RegistrationID:     regID,
			AgeCategory:        ageCategory,
			PreferredDays:      day,
			PreferredTimeSlots: timeSlot,
			Status:             status,
			UnpairedSinceDate:  sinceDate,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("create waitlist entry: %w", err)
		}
	case err != nil:
		return fmt.Errorf("find waitlist entry: %w", err)
	default:
		updates := map[string]any{
			"age_category":         ageCategory,
			"preferred_days":       day,
			"preferred_time_slots": timeSlot,
			"status":               status,
		}
		// Keep the original wait start when the entry is already waiting,
		// so long waiters keep their place in the tie-break.
		if entry.Status != models.WaitlistWaiting || status != models.WaitlistWaiting {
			updates["unpaired_since_date"] = sinceDate
		}
		if err := tx.Model(&models.UnpairedSemiPrivate{}).
			Where("registration_id = ?", regID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update waitlist entry: %w", err)
		}
	}
	return nil
}
