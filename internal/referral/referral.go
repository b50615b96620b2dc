// Package referral computes the two-level referral bonus cascade for a paid order.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusClaimed     Status = "claimed"
	StatusExpired     Status = "expired"
	StatusTransferred Status = "transferred"
)

const (
	// MaxLevels: walk berhenti setelah 2 hop, tidak ada deteksi cycle.
	MaxLevels = 2

	ThresholdCurrency = 200000
	ThresholdPoints   = 200

	// Basis bonus tetap, bukan grand total order.
	BaseCurrency = 200000
	BasePoints   = 200
)

var levelRates = [MaxLevels]decimal.Decimal{
	decimal.New(10, -2),
	decimal.New(5, -2),
}

type Bonus struct {
	ID             int64           `json:"id"`
	BeneficiaryID  int64           `json:"beneficiary_id"`
	ReferredUserID int64           `json:"referred_user_id"`
	OrderID        int64           `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	Level          int             `json:"level"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ReceivedAt     time.Time       `json:"received_at"`
	Status         Status          `json:"status"`
}

// Tx is the slice of the order transaction the cascade needs.
type Tx interface {
	// ReferrerOf returns nil when the user has no referrer, apperr.ErrNoRecord when
	// the user itself does not exist.
	ReferrerOf(ctx context.Context, userID int64) (*int64, error)
	InsertBonus(ctx context.Context, b *Bonus) error
}

type Repo interface {
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	BonusesForUser(ctx context.Context, userID int64) ([]Bonus, error)
}

type PointValuer interface {
	PointValue(ctx context.Context) (int, error)
}

// Source describes the order that triggers a cascade.
type Source struct {
	PayerID    int64
	OrderID    int64
	GrandTotal int
	InPoints   bool
}

type Engine struct {
	Points PointValuer
	Repo   Repo
	Now    func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Cascade writes up to two pending bonuses inside tx. Nothing is written when the
// order total is below the threshold for its payment method.
func (e *Engine) Cascade(ctx context.Context, tx Tx, src Source) ([]Bonus, error) {
	threshold := ThresholdCurrency
	if src.InPoints {
		threshold = ThresholdPoints
	}
	if src.GrandTotal < threshold {
		return nil, nil
	}

	base, err := e.base(ctx, src.InPoints)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var out []Bonus
	current := src.PayerID
	for level := 1; level <= MaxLevels; level++ {
		ref, err := tx.ReferrerOf(ctx, current)
		if errors.Is(err, apperr.ErrNoRecord) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("referrer of %d: %w", current, err)
		}
		if ref == nil {
			break
		}
		b := Bonus{
			BeneficiaryID:  *ref,
			ReferredUserID: src.PayerID,
			OrderID:        src.OrderID,
			Amount:         base.Mul(levelRates[level-1]).Round(2),
			Level:          level,
			ExpiresAt:      now.AddDate(0, 1, 0),
			ReceivedAt:     now,
			Status:         StatusPending,
		}
		if err := tx.InsertBonus(ctx, &b); err != nil {
			return nil, fmt.Errorf("insert level %d bonus: %w", level, err)
		}
		out = append(out, b)
		current = *ref
	}
	return out, nil
}

// base returns the fixed bonus base in currency units.
func (e *Engine) base(ctx context.Context, inPoints bool) (decimal.Decimal, error) {
	if !inPoints {
		return decimal.NewFromInt(BaseCurrency), nil
	}
	pv, err := e.Points.PointValue(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(BasePoints).Mul(decimal.NewFromInt(int64(pv))), nil
}

// ExpirePending flips pending bonuses whose expiry has passed to expired.
func (e *Engine) ExpirePending(ctx context.Context) (int64, error) {
	n, err := e.Repo.ExpirePending(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("expire pending bonuses: %w", err)
	}
	return n, nil
}

func (e *Engine) ListForUser(ctx context.Context, userID int64) ([]Bonus, error) {
	bs, err := e.Repo.BonusesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list bonuses for %d: %w", userID, err)
	}
	return bs, nil
}
