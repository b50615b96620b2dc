package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/shopspring/decimal"
)

func (t *Tx) ReferrerOf(ctx context.Context, userID int64) (*int64, error) {
	var ref *int64
	if err := t.tx.QueryRow(ctx, `SELECT referred_by FROM users WHERE id=$1`, userID).Scan(&ref); err != nil {
		return nil, noRecord(err)
	}
	return ref, nil
}

func (t *Tx) InsertBonus(ctx context.Context, b *referral.Bonus) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO referral_bonuses(beneficiary_id, referred_user_id, order_id, amount, level,
		                             expires_at, received_at, status)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)
		RETURNING id`,
		b.BeneficiaryID, b.ReferredUserID, b.OrderID, b.Amount.StringFixed(2), b.Level,
		b.ExpiresAt, b.ReceivedAt, b.Status,
	).Scan(&b.ID)
}

func (s *Store) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE referral_bonuses SET status='expired'
		WHERE status='pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) BonusesForUser(ctx context.Context, userID int64) ([]referral.Bonus, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, beneficiary_id, referred_user_id, order_id, amount::text, level,
		       expires_at, received_at, status
		FROM referral_bonuses WHERE beneficiary_id=$1
		ORDER BY received_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []referral.Bonus
	for rows.Next() {
		var (
			b      referral.Bonus
			amount string
		)
		if err := rows.Scan(&b.ID, &b.BeneficiaryID, &b.ReferredUserID, &b.OrderID, &amount, &b.Level,
			&b.ExpiresAt, &b.ReceivedAt, &b.Status); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bonus %d amount %q: %w", b.ID, amount, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
