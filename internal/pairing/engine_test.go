package pairing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/icehouse/academy/internal/capacity"
	"github.com/icehouse/academy/internal/db"
	"github.com/icehouse/academy/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func newTestEngine(t *testing.T, gdb *gorm.DB) *Engine {
	t.Helper()
	ledger := capacity.NewLedger(gdb, zap.NewNop())
	eng := NewEngine(gdb, ledger, nil, zap.NewNop(), time.UTC)
	eng.SetNow(func() time.Time { return time.Date(2025, 2, 26, 9, 0, 0, 0, time.UTC) })
	return eng
}

func seedSemiPrivate(t *testing.T, gdb *gorm.DB, uid, playerName, category, day, timeSlot string) models.Registration {
	t.Helper()
	parent := models.Parent{UID: uid, Name: "Parent " + playerName}
	require.NoError(t, gdb.Create(&parent).Error)
	player := models.Player{Name: playerName, AgeCategory: category, ParentID: parent.ID}
	require.NoError(t, gdb.Create(&player).Error)
	reg := models.Registration{
		ParentID:     parent.ID,
		PlayerID:     player.ID,
		ProgramType:  models.ProgramSemiPrivate,
		AgeCategory:  category,
		Frequency:    "1x",
		SelectedDays: day,
		TimeSlot:     timeSlot,
		Status:       models.RegistrationActive,
	}
	require.NoError(t, gdb.Create(&reg).Error)
	return reg
}

func addWaiting(t *testing.T, gdb *gorm.DB, regID uint, category, days, slots, since string) {
	t.Helper()
	require.NoError(t, gdb.Create(&models.UnpairedSemiPrivate{
		RegistrationID:     regID,
		AgeCategory:        category,
		PreferredDays:      days,
		PreferredTimeSlots: slots,
		Status:             models.WaitlistWaiting,
		UnpairedSinceDate:  since,
	}).Error)
}

// Player A paired with C reschedules to a slot where B already waits:
// A+C dissolves, C goes back on the waitlist at the old slot, A+B pairs.
func TestTryReschedule_DissolveAndRepair(t *testing.T) {
	gdb := openTestDB(t)
	eng := newTestEngine(t, gdb)
	ctx := context.Background()

	a := seedSemiPrivate(t, gdb, "pa", "Alice", "M13", "tuesday", "10:00-11:00")
	c := seedSemiPrivate(t, gdb, "pc", "Carol", "M13", "tuesday", "10:00-11:00")
	b := seedSemiPrivate(t, gdb, "pb", "Bella", "M13", "", "")

	require.NoError(t, gdb.Create(&models.SemiPrivatePairing{
		PairGroupID:           "pg-ac",
		Player1RegistrationID: a.ID,
		Player2RegistrationID: c.ID,
		ScheduledDay:          "tuesday",
		ScheduledTime:         "10:00-11:00",
		Status:                models.PairingActive,
	}).Error)
	addWaiting(t, gdb, b.ID, "M13", "friday", "14:00-15:00", "2025-02-01")

	out, err := eng.TryReschedule(ctx, a.ID, "pa", "friday", "14:00-15:00")
	require.NoError(t, err)

	assert.True(t, out.HadPreviousPartner)
	require.NotNil(t, out.PreviousPartner)
	assert.Equal(t, c.ID, out.PreviousPartner.RegistrationID)
	assert.Equal(t, "Carol", out.PreviousPartner.PlayerName)
	assert.True(t, out.IsPaired)
	require.NotNil(t, out.NewPartner)
	assert.Equal(t, b.ID, out.NewPartner.RegistrationID)
	assert.False(t, out.IsWaiting)

	// Old pairing dissolved with a reason.
	var old models.SemiPrivatePairing
	require.NoError(t, gdb.Where("pair_group_id = ?", "pg-ac").First(&old).Error)
	assert.Equal(t, models.PairingDissolved, old.Status)
	assert.Equal(t, "partner_rescheduled", old.DissolvedReason)
	assert.NotNil(t, old.DissolvedAt)

	// Carol is rematchable at the slot she already had.
	var carolEntry models.UnpairedSemiPrivate
	require.NoError(t, gdb.Where("registration_id = ?", c.ID).First(&carolEntry).Error)
	assert.Equal(t, models.WaitlistWaiting, carolEntry.Status)
	assert.Equal(t, "tuesday", carolEntry.PreferredDays)
	assert.Equal(t, "10:00-11:00", carolEntry.PreferredTimeSlots)

	// New pairing is active at the new slot; Bella left the waitlist.
	var pair models.SemiPrivatePairing
	require.NoError(t, gdb.Where("status = ? AND scheduled_day = ?", models.PairingActive, "friday").First(&pair).Error)
	assert.ElementsMatch(t, []uint{a.ID, b.ID}, []uint{pair.Player1RegistrationID, pair.Player2RegistrationID})

	var bellaEntry models.UnpairedSemiPrivate
	require.NoError(t, gdb.Where("registration_id = ?", b.ID).First(&bellaEntry).Error)
	assert.Equal(t, models.WaitlistPaired, bellaEntry.Status)

	// Both registrations now train at the paired slot.
	for _, id := range []uint{a.ID, b.ID} {
		var fresh models.Registration
		require.NoError(t, gdb.First(&fresh, id).Error)
		assert.Equal(t, "friday", fresh.SelectedDays)
		assert.Equal(t, "14:00-15:00", fresh.TimeSlot)
	}

	// Pairing exclusivity: nobody holds two active pairings.
	for _, id := range []uint{a.ID, b.ID, c.ID} {
		var n int64
		require.NoError(t, gdb.Model(&models.SemiPrivatePairing{}).
			Where("status = ? AND (player1_registration_id = ? OR player2_registration_id = ?)",
				models.PairingActive, id, id).
			Count(&n).Error)
		assert.LessOrEqual(t, n, int64(1), "reg %d", id)
	}
}

// Moving to an empty slot parks the player on the waitlist.
func TestTryReschedule_NoMatchWaits(t *testing.T) {
	gdb := openTestDB(t)
	eng := newTestEngine(t, gdb)

	a := seedSemiPrivate(t, gdb, "pa", "Alice", "M13", "tuesday", "10:00-11:00")

	out, err := eng.TryReschedule(context.Background(), a.ID, "pa", "thursday", "20:00-21:00")
	require.NoError(t, err)
	assert.False(t, out.HadPreviousPartner)
	assert.False(t, out.IsPaired)
	assert.True(t, out.IsWaiting)

	var entry models.UnpairedSemiPrivate
	require.NoError(t, gdb.Where("registration_id = ?", a.ID).First(&entry).Error)
	assert.Equal(t, models.WaitlistWaiting, entry.Status)
	assert.Equal(t, "thursday", entry.PreferredDays)
	assert.Equal(t, "2025-02-26", entry.UnpairedSinceDate)
}

// Category mismatch never pairs.
func TestTryReschedule_CategoryGate(t *testing.T) {
	gdb := openTestDB(t)
	eng := newTestEngine(t, gdb)

	a := seedSemiPrivate(t, gdb, "pa", "Alice", "M13", "tuesday", "10:00-11:00")
	b := seedSemiPrivate(t, gdb, "pb", "Bella", "M15", "", "")
	addWaiting(t, gdb, b.ID, "M15", "friday", "14:00-15:00", "2025-02-01")

	out, err := eng.TryReschedule(context.Background(), a.ID, "pa", "friday", "14:00-15:00")
	require.NoError(t, err)
	assert.False(t, out.IsPaired)
	assert.True(t, out.IsWaiting)
}

// A slot owned by another session rejects the move before anything mutates.
func TestTryReschedule_SlotConflict(t *testing.T) {
	gdb := openTestDB(t)
	eng := newTestEngine(t, gdb)

	a := seedSemiPrivate(t, gdb, "pa", "Alice", "M13", "tuesday", "10:00-11:00")

	// A private lesson owns friday 14:00.
	parent := models.Parent{UID: "pp", Name: "Private Parent"}
	require.NoError(t, gdb.Create(&parent).Error)
	player := models.Player{Name: "Solo", AgeCategory: "M13", ParentID: parent.ID}
	require.NoError(t, gdb.Create(&player).Error)
	require.NoError(t, gdb.Create(&models.Registration{
		ParentID: parent.ID, PlayerID: player.ID,
		ProgramType: models.ProgramPrivate, AgeCategory: "M13", Frequency: "1x",
		SelectedDays: "friday", TimeSlot: "14:00-15:00",
		Status: models.RegistrationActive,
	}).Error)

	_, err := eng.TryReschedule(context.Background(), a.ID, "pa", "friday", "14:00-15:00")
	var admErr *capacity.AdmissionError
	require.ErrorAs(t, err, &admErr)

	// Nothing moved.
	var fresh models.Registration
	require.NoError(t, gdb.First(&fresh, a.ID).Error)
	assert.Equal(t, "tuesday", fresh.SelectedDays)
}

// Oldest waiter wins when several candidates match.
func TestGreedyMatcher_OldestWaiterFirst(t *testing.T) {
	gdb := openTestDB(t)
	eng := newTestEngine(t, gdb)

	a := seedSemiPrivate(t, gdb, "pa", "Alice", "M13", "tuesday", "10:00-11:00")
	b := seedSemiPrivate(t, gdb, "pb", "Bella", "M13", "", "")
	d := seedSemiPrivate(t, gdb, "pd", "Dana", "M13", "", "")
	addWaiting(t, gdb, b.ID, "M13", "friday", "14:00-15:00", "2025-02-10")
	addWaiting(t, gdb, d.ID, "M13", "friday", "14:00-15:00", "2025-01-05")

	out, err := eng.TryReschedule(context.Background(), a.ID, "pa", "friday", "14:00-15:00")
	require.NoError(t, err)
	require.True(t, out.IsPaired)
	assert.Equal(t, d.ID, out.NewPartner.RegistrationID, "longest wait is matched first")
}

func TestSuggestedTimes(t *testing.T) {
	gdb := openTestDB(t)
	eng := newTestEngine(t, gdb)
	ctx := context.Background()

	a := seedSemiPrivate(t, gdb, "pa", "Alice", "M13", "tuesday", "10:00-11:00")
	b := seedSemiPrivate(t, gdb, "pb", "Bella", "M13", "", "")
	other := seedSemiPrivate(t, gdb, "po", "Olga", "M15", "", "")
	addWaiting(t, gdb, b.ID, "M13", "friday,monday", "14:00-15:00", "2025-02-01")
	addWaiting(t, gdb, other.ID, "M15", "friday", "14:00-15:00", "2025-02-01")

	times, err := eng.SuggestedTimes(ctx, "M13", a.ID)
	require.NoError(t, err)
	require.Len(t, times, 2, "two preferred days x one time")
	for _, st := range times {
		assert.Equal(t, "Bella", st.PartnerName)
		assert.Equal(t, "M13", st.PartnerCategory)
	}

	// The asking registration's own entry is excluded.
	addWaiting(t, gdb, a.ID, "M13", "saturday", "09:00-10:00", "2025-02-01")
	times, err = eng.SuggestedTimes(ctx, "M13", a.ID)
	require.NoError(t, err)
	for _, st := range times {
		assert.NotEqual(t, "saturday", st.Day)
	}
}
