// Package ledger holds the stock and points balance rules. Every function runs
// inside the caller's transaction; the row locks it takes are released only when
// that transaction ends.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
)

// StockRow is a product row as seen under its lock.
type StockRow struct {
	ProductID int64
	Name      string
	Stock     int
}

type Account struct {
	UserID    int64
	Balance   int
	UpdatedAt time.Time
}

type StockTx interface {
	// LockStock: SELECT ... FOR UPDATE. apperr.ErrNoRecord kalau produk tidak ada.
	LockStock(ctx context.Context, productID int64) (StockRow, error)
	SetStock(ctx context.Context, productID int64, stock int) error
}

type PointsTx interface {
	// LockAccount: SELECT ... FOR UPDATE. apperr.ErrNoRecord kalau akun belum ada.
	LockAccount(ctx context.Context, userID int64) (Account, error)
	// EnsureAccount membuat akun saldo 0 kalau belum ada (ON CONFLICT DO NOTHING).
	EnsureAccount(ctx context.Context, userID int64) error
	SetBalance(ctx context.Context, userID int64, balance int) error
}

// ReserveStock locks the product row and takes qty units out of it.
func ReserveStock(ctx context.Context, tx StockTx, productID int64, qty int) (StockRow, error) {
	if qty <= 0 {
		return StockRow{}, apperr.Validationf("invalid qty %d for product %d", qty, productID)
	}
	row, err := tx.LockStock(ctx, productID)
	if errors.Is(err, apperr.ErrNoRecord) {
		return StockRow{}, apperr.NotFoundf("product %d not found", productID)
	}
	if err != nil {
		return StockRow{}, fmt.Errorf("lock product %d: %w", productID, err)
	}
	if row.Stock < qty {
		return row, apperr.Insufficientf("insufficient stock for %s: available %d, requested %d", row.Name, row.Stock, qty)
	}
	row.Stock -= qty
	if err := tx.SetStock(ctx, productID, row.Stock); err != nil {
		return StockRow{}, fmt.Errorf("update stock %d: %w", productID, err)
	}
	return row, nil
}

// DebitPoints requires an existing account whose balance covers amount.
func DebitPoints(ctx context.Context, tx PointsTx, userID int64, amount int) (Account, error) {
	if amount <= 0 {
		return Account{}, apperr.Validationf("invalid points amount %d", amount)
	}
	acc, err := tx.LockAccount(ctx, userID)
	if errors.Is(err, apperr.ErrNoRecord) {
		return Account{}, apperr.NotFoundf("points account for user %d not found", userID)
	}
	if err != nil {
		return Account{}, fmt.Errorf("lock points account %d: %w", userID, err)
	}
	if acc.Balance <= 0 {
		return acc, apperr.Insufficientf("points balance is empty")
	}
	if acc.Balance < amount {
		return acc, apperr.Insufficientf("insufficient points: balance %d, required %d", acc.Balance, amount)
	}
	acc.Balance -= amount
	if err := tx.SetBalance(ctx, userID, acc.Balance); err != nil {
		return Account{}, fmt.Errorf("debit points %d: %w", userID, err)
	}
	return acc, nil
}

// CreditPoints opens the account lazily and adds amount to it.
func CreditPoints(ctx context.Context, tx PointsTx, userID int64, amount int) (Account, error) {
	if amount <= 0 {
		return Account{}, apperr.Validationf("invalid points amount %d", amount)
	}
	if err := tx.EnsureAccount(ctx, userID); err != nil {
		return Account{}, fmt.Errorf("ensure points account %d: %w", userID, err)
	}
	acc, err := tx.LockAccount(ctx, userID)
	if err != nil {
		return Account{}, fmt.Errorf("lock points account %d: %w", userID, err)
	}
	acc.Balance += amount
	if err := tx.SetBalance(ctx, userID, acc.Balance); err != nil {
		return Account{}, fmt.Errorf("credit points %d: %w", userID, err)
	}
	return acc, nil
}
