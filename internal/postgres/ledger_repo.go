package postgres

import (
	"context"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/ledger"
)

// LockStock: lock baris produk (FOR UPDATE) sampai transaksi selesai.
func (t *Tx) LockStock(ctx context.Context, productID int64) (ledger.StockRow, error) {
	r := ledger.StockRow{ProductID: productID}
	err := t.tx.QueryRow(ctx, `SELECT name, stock FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&r.Name, &r.Stock)
	if err != nil {
		return ledger.StockRow{}, noRecord(err)
	}
	return r, nil
}

func (t *Tx) SetStock(ctx context.Context, productID int64, stock int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=now() WHERE id=$1`, productID, stock)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrNoRecord
	}
	return nil
}

func (t *Tx) LockAccount(ctx context.Context, userID int64) (ledger.Account, error) {
	a := ledger.Account{UserID: userID}
	err := t.tx.QueryRow(ctx, `SELECT balance, updated_at FROM points_accounts WHERE user_id=$1 FOR UPDATE`, userID).
		Scan(&a.Balance, &a.UpdatedAt)
	if err != nil {
		return ledger.Account{}, noRecord(err)
	}
	return a, nil
}

func (t *Tx) EnsureAccount(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO points_accounts(user_id, balance) VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func (t *Tx) SetBalance(ctx context.Context, userID int64, balance int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE points_accounts SET balance=$2, updated_at=now() WHERE user_id=$1`, userID, balance)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrNoRecord
	}
	return nil
}
