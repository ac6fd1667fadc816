// Package credits defines the credit ledger boundary. The booking core
// consumes it; it does not own credit purchase or pricing.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/icehouse/academy/internal/models"
)

// ErrInsufficientCredits is returned by Deduct when the balance is short.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CompensationFailedError is the fatal charged-but-unbooked state: a credit
// was deducted, the booking write failed, and the refund failed too. This
// needs manual reconciliation; callers log it loudly and never retry it
// silently.
type CompensationFailedError struct {
	ParentUID string
	Ref       string
	Amount    int
	Cause     error // the booking failure that triggered compensation
	RefundErr error
}

func (e *CompensationFailedError) Error() string {
	return fmt.Sprintf("compensation failed for parent %s purchase %s (amount %d): booking error: %v; refund error: %v",
		e.ParentUID, e.Ref, e.Amount, e.Cause, e.RefundErr)
}

func (e *CompensationFailedError) Unwrap() error { return e.Cause }

// Ledger is the external credit ledger interface. Deduct and Refund are
// atomic; a Deduct that returns a ref has really taken the credits.
type Ledger interface {
	Balance(ctx context.Context, parentUID string) (int, error)
	Deduct(ctx context.Context, parentUID string, amount int) (ref string, err error)
	Refund(ctx context.Context, parentUID, ref string, amount int) error
}

// GormLedger is the reference implementation backed by credit_purchases
// rows. Deduction draws down the oldest purchase with enough remaining
// credits using a conditional update, so concurrent deductions cannot
// overdraw.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (g *GormLedger) Balance(ctx context.Context, parentUID string) (int, error) {
	var total int64
	err := g.db.WithContext(ctx).Model(&models.CreditPurchase{}).
		Where("parent_uid = ?", parentUID).
		Select("COALESCE(SUM(remaining), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return int(total), nil
}

func (g *GormLedger) Deduct(ctx context.Context, parentUID string, amount int) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	var ref string
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var purchases []models.CreditPurchase
		if err := tx.Where("parent_uid = ? AND remaining >= ?", parentUID, amount).
			Order("created_at asc, id asc").
			Limit(1).
			Find(&purchases).Error; err != nil {
			return fmt.Errorf("find purchase: %w", err)
		}
		if len(purchases) == 0 {
			return ErrInsufficientCredits
		}

		res := tx.Model(&models.CreditPurchase{}).
			Where("id = ? AND remaining >= ?", purchases[0].ID, amount).
			Update("remaining", gorm.Expr("remaining - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("deduct: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the seat between select and update.
			return ErrInsufficientCredits
		}
		ref = strconv.FormatUint(uint64(purchases[0].ID), 10)
		return nil
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *GormLedger) Refund(ctx context.Context, parentUID, ref string, amount int) error {
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return fmt.Errorf("bad purchase ref %q: %w", ref, err)
	}
	res := g.db.WithContext(ctx).Model(&models.CreditPurchase{}).
		Where("id = ? AND parent_uid = ?", id, parentUID).
		Update("remaining", gorm.Expr("remaining + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("refund: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("refund: purchase %s not found for parent %s", ref, parentUID)
	}
	return nil
}
