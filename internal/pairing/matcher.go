package pairing

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/models"
)

// Matcher picks a waiting partner for a player moving into (day, time).
// The engine only depends on this interface so a ranked strategy can
// replace the greedy one without touching dissolution or waitlist
// bookkeeping.
type Matcher interface {
	Match(tx *gorm.DB, ageCategory, day, timeSlot string, excludeRegID uint) (*models.UnpairedSemiPrivate, error)
}

// GreedyMatcher returns the first compatible waiting player: same age
// category, the target day and time among their preferences. Ties break on
// longest wait (oldest unpaired_since_date first). Chosen over a globally
// optimal assignment: the waitlist is small and immediate feedback matters
// more.
type GreedyMatcher struct{}

func (GreedyMatcher) Match(tx *gorm.DB, ageCategory, day, timeSlot string, excludeRegID uint) (*models.UnpairedSemiPrivate, error) {
	var candidates []models.UnpairedSemiPrivate
	err := tx.Where("status = ? AND age_category = ? AND registration_id <> ?",
		models.WaitlistWaiting, ageCategory, excludeRegID).
		Where("(',' || lower(preferred_days) || ',') LIKE ?", "%,"+day+",%").
		Where("(',' || preferred_time_slots || ',') LIKE ?", "%,"+timeSlot+",%").
		Order("unpaired_since_date asc, id asc").
		Limit(1).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("match waitlist: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}
