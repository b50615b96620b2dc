package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
	"github.com/jackc/pgx/v5"
)

const topupColumns = `id, topup_code, purchase_id, invoice_number, user_id, points, price, payment_method, status, created_at`

func scanTopUp(row pgx.Row) (*topup.TopUp, error) {
	var tp topup.TopUp
	err := row.Scan(&tp.ID, &tp.Code, &tp.PurchaseID, &tp.InvoiceNumber, &tp.UserID, &tp.Points, &tp.Price,
		&tp.PaymentMethod, &tp.Status, &tp.CreatedAt)
	if err != nil {
		return nil, noRecord(err)
	}
	return &tp, nil
}

// LockUser serializes every top-up of one user. NO KEY UPDATE tidak bentrok dengan
// FOR KEY SHARE dari FK check insert order milik user yang sama.
func (t *Tx) LockUser(ctx context.Context, userID int64) error {
	var id int64
	return noRecord(t.tx.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR NO KEY UPDATE`, userID).Scan(&id))
}

func (t *Tx) TopUpByPurchaseID(ctx context.Context, purchaseID string) (*topup.TopUp, error) {
	return scanTopUp(t.tx.QueryRow(ctx, `SELECT `+topupColumns+` FROM topups WHERE purchase_id=$1`, purchaseID))
}

func (t *Tx) TopUpByInvoice(ctx context.Context, invoice string) (*topup.TopUp, error) {
	return scanTopUp(t.tx.QueryRow(ctx, `SELECT `+topupColumns+` FROM topups WHERE invoice_number=$1`, invoice))
}

func (t *Tx) LatestTopUpSince(ctx context.Context, userID int64, since time.Time) (*topup.TopUp, error) {
	return scanTopUp(t.tx.QueryRow(ctx, `
		SELECT `+topupColumns+` FROM topups
		WHERE user_id=$1 AND created_at > $2
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID, since))
}

func (t *Tx) InsertTopUp(ctx context.Context, tp *topup.TopUp) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO topups(topup_code, purchase_id, invoice_number, user_id, points, price,
		                   payment_method, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		tp.Code, tp.PurchaseID, tp.InvoiceNumber, tp.UserID, tp.Points, tp.Price,
		tp.PaymentMethod, tp.Status, tp.CreatedAt,
	).Scan(&tp.ID)
	if uniqueViolation(err) != "" {
		return apperr.ErrDuplicateKey
	}
	return err
}
