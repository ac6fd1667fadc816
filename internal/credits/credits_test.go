package credits

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

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

func seedPurchase(t *testing.T, gdb *gorm.DB, uid string, total, remaining int) models.CreditPurchase {
	t.Helper()
	p := models.CreditPurchase{ParentUID: uid, Credits: total, Remaining: remaining}
	require.NoError(t, gdb.Create(&p).Error)
	return p
}

func TestBalance_SumsRemaining(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)
	ctx := context.Background()

	bal, err := ledger.Balance(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, bal, "no purchases means zero, not an error")

	seedPurchase(t, gdb, "p1", 10, 7)
	seedPurchase(t, gdb, "p1", 5, 5)
	seedPurchase(t, gdb, "other", 5, 5)

	bal, err = ledger.Balance(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 12, bal)
}

func TestDeduct_DrawsOldestPurchase(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)
	ctx := context.Background()

	first := seedPurchase(t, gdb, "p1", 10, 3)
	second := seedPurchase(t, gdb, "p1", 10, 10)

	ref, err := ledger.Deduct(ctx, "p1", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	var freshFirst, freshSecond models.CreditPurchase
	require.NoError(t, gdb.First(&freshFirst, first.ID).Error)
	assert.Equal(t, 1, freshFirst.Remaining)
	require.NoError(t, gdb.First(&freshSecond, second.ID).Error)
	assert.Equal(t, 10, freshSecond.Remaining, "newer purchase untouched")
}

func TestDeduct_SkipsPurchasesTooSmall(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)
	ctx := context.Background()

	small := seedPurchase(t, gdb, "p1", 10, 1)
	big := seedPurchase(t, gdb, "p1", 10, 5)

	_, err := ledger.Deduct(ctx, "p1", 3)
	require.NoError(t, err)

	var freshSmall, freshBig models.CreditPurchase
	require.NoError(t, gdb.First(&freshSmall, small.ID).Error)
	assert.Equal(t, 1, freshSmall.Remaining)
	require.NoError(t, gdb.First(&freshBig, big.ID).Error)
	assert.Equal(t, 2, freshBig.Remaining)
}

func TestDeduct_Insufficient(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)
	ctx := context.Background()

	seedPurchase(t, gdb, "p1", 10, 2)

	_, err := ledger.Deduct(ctx, "p1", 3)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	// The short attempt took nothing.
	bal, err := ledger.Balance(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, bal)
}

func TestDeduct_RejectsNonPositiveAmount(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)

	_, err := ledger.Deduct(context.Background(), "p1", 0)
	assert.Error(t, err)
	_, err = ledger.Deduct(context.Background(), "p1", -1)
	assert.Error(t, err)
}

func TestRefund_RestoresDeductedPurchase(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)
	ctx := context.Background()

	seedPurchase(t, gdb, "p1", 10, 5)

	ref, err := ledger.Deduct(ctx, "p1", 2)
	require.NoError(t, err)
	require.NoError(t, ledger.Refund(ctx, "p1", ref, 2))

	bal, err := ledger.Balance(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, bal)
}

func TestRefund_WrongParentRejected(t *testing.T) {
	gdb := openTestDB(t)
	ledger := NewGormLedger(gdb)
	ctx := context.Background()

	seedPurchase(t, gdb, "p1", 10, 5)
	ref, err := ledger.Deduct(ctx, "p1", 2)
	require.NoError(t, err)

	err = ledger.Refund(ctx, "p2", ref, 2)
	assert.Error(t, err, "ref belongs to a different parent")

	err = ledger.Refund(ctx, "p1", "not-a-ref", 2)
	assert.Error(t, err)
}
