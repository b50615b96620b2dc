package ledger

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	stock    map[int64]StockRow
	accounts map[int64]int
	locked   []int64
}

func newFakeTx() *fakeTx {
	return &fakeTx{stock: map[int64]StockRow{}, accounts: map[int64]int{}}
}

func (f *fakeTx) LockStock(_ context.Context, id int64) (StockRow, error) {
	r, ok := f.stock[id]
	if !ok {
		return StockRow{}, apperr.ErrNoRecord
	}
	f.locked = append(f.locked, id)
	return r, nil
}

func (f *fakeTx) SetStock(_ context.Context, id int64, stock int) error {
	r := f.stock[id]
	r.Stock = stock
	f.stock[id] = r
	return nil
}

func (f *fakeTx) LockAccount(_ context.Context, userID int64) (Account, error) {
	b, ok := f.accounts[userID]
	if !ok {
		return Account{}, apperr.ErrNoRecord
	}
	return Account{UserID: userID, Balance: b}, nil
}

func (f *fakeTx) EnsureAccount(_ context.Context, userID int64) error {
	if _, ok := f.accounts[userID]; !ok {
		f.accounts[userID] = 0
	}
	return nil
}

func (f *fakeTx) SetBalance(_ context.Context, userID int64, balance int) error {
	f.accounts[userID] = balance
	return nil
}

func TestReserveStock(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()
	tx.stock[1] = StockRow{ProductID: 1, Name: "Bayam", Stock: 5}

	row, err := ReserveStock(ctx, tx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, row.Stock)
	assert.Equal(t, "Bayam", row.Name)
	assert.Equal(t, 2, tx.stock[1].Stock)

	_, err = ReserveStock(ctx, tx, 1, 3)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientResource))
	assert.Equal(t, 2, tx.stock[1].Stock, "rejected reservation must not touch stock")

	_, err = ReserveStock(ctx, tx, 99, 1)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	_, err = ReserveStock(ctx, tx, 1, 0)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func TestReserveStockExactRemaining(t *testing.T) {
	tx := newFakeTx()
	tx.stock[4] = StockRow{ProductID: 4, Name: "Wortel", Stock: 3}

	row, err := ReserveStock(context.Background(), tx, 4, 3)
	require.NoError(t, err)
	assert.Zero(t, row.Stock)
}

func TestDebitPoints(t *testing.T) {
	ctx := context.Background()

	t.Run("no account", func(t *testing.T) {
		_, err := DebitPoints(ctx, newFakeTx(), 1, 10)
		assert.True(t, apperr.IsKind(err, apperr.NotFound))
	})

	t.Run("empty balance", func(t *testing.T) {
		tx := newFakeTx()
		tx.accounts[1] = 0
		_, err := DebitPoints(ctx, tx, 1, 10)
		assert.True(t, apperr.IsKind(err, apperr.InsufficientResource))
	})

	t.Run("below amount", func(t *testing.T) {
		tx := newFakeTx()
		tx.accounts[1] = 150
		_, err := DebitPoints(ctx, tx, 1, 200)
		assert.True(t, apperr.IsKind(err, apperr.InsufficientResource))
		assert.Equal(t, 150, tx.accounts[1])
	})

	t.Run("exact balance", func(t *testing.T) {
		tx := newFakeTx()
		tx.accounts[1] = 200
		acc, err := DebitPoints(ctx, tx, 1, 200)
		require.NoError(t, err)
		assert.Zero(t, acc.Balance)
		assert.Zero(t, tx.accounts[1])
	})
}

func TestCreditPointsOpensAccount(t *testing.T) {
	ctx := context.Background()
	tx := newFakeTx()

	acc, err := CreditPoints(ctx, tx, 7, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, acc.Balance)

	acc, err = CreditPoints(ctx, tx, 7, 25)
	require.NoError(t, err)
	assert.Equal(t, 75, acc.Balance)

	_, err = CreditPoints(ctx, tx, 7, -1)
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}
