package memstore

import (
	"context"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/ledger"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
)

// Tx is only valid inside Store.InTx; the store lock is already held.
type Tx struct{ s *Store }

var (
	_ orders.Tx = (*Tx)(nil)
	_ topup.Tx  = (*Tx)(nil)
)

func (t *Tx) st() *state { return t.s.st }

// LockKey is a no-op: the whole transaction already runs under the store lock.
func (t *Tx) LockKey(context.Context, string) error { return nil }

func (t *Tx) LockStock(_ context.Context, productID int64) (ledger.StockRow, error) {
	p, ok := t.st().products[productID]
	if !ok {
		return ledger.StockRow{}, apperr.ErrNoRecord
	}
	return ledger.StockRow{ProductID: p.ID, Name: p.Name, Stock: p.Stock}, nil
}

func (t *Tx) SetStock(_ context.Context, productID int64, stock int) error {
	p, ok := t.st().products[productID]
	if !ok {
		return apperr.ErrNoRecord
	}
	p.Stock = stock
	t.st().products[productID] = p
	return nil
}

func (t *Tx) LockAccount(_ context.Context, userID int64) (ledger.Account, error) {
	acc, ok := t.st().accounts[userID]
	if !ok {
		return ledger.Account{}, apperr.ErrNoRecord
	}
	return acc, nil
}

func (t *Tx) EnsureAccount(_ context.Context, userID int64) error {
	if _, ok := t.st().accounts[userID]; !ok {
		t.st().accounts[userID] = ledger.Account{UserID: userID, UpdatedAt: t.s.Now()}
	}
	return nil
}

func (t *Tx) SetBalance(_ context.Context, userID int64, balance int) error {
	acc, ok := t.st().accounts[userID]
	if !ok {
		return apperr.ErrNoRecord
	}
	acc.Balance, acc.UpdatedAt = balance, t.s.Now()
	t.st().accounts[userID] = acc
	return nil
}

func (t *Tx) ReferrerOf(_ context.Context, userID int64) (*int64, error) {
	u, ok := t.st().users[userID]
	if !ok {
		return nil, apperr.ErrNoRecord
	}
	return u.ReferredBy, nil
}

func (t *Tx) InsertBonus(_ context.Context, b *referral.Bonus) error {
	b.ID = t.s.nextID()
	t.st().bonuses = append(t.st().bonuses, *b)
	return nil
}

func (t *Tx) OrderByToken(_ context.Context, token string) (*orders.Order, error) {
	return t.st().orderByToken(token)
}

func (t *Tx) UserByID(_ context.Context, id int64) (*orders.User, error) {
	u, ok := t.st().users[id]
	if !ok {
		return nil, apperr.ErrNoRecord
	}
	return &orders.User{ID: u.ID, ReferredBy: u.ReferredBy}, nil
}

func (t *Tx) InsertOrder(_ context.Context, o *orders.Order) error {
	for _, prev := range t.st().orders {
		if prev.IdempotencyKey == o.IdempotencyKey {
			return apperr.ErrDuplicateKey
		}
		if prev.InvoiceNumber == o.InvoiceNumber {
			return apperr.Conflictf("invoice number %s already used", o.InvoiceNumber)
		}
	}
	o.ID = t.s.nextID()
	lines := make([]orders.OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		l.ID = t.s.nextID()
		l.OrderID = o.ID
		lines[i] = l
	}
	o.Lines = lines
	t.st().orders[o.ID] = *o
	return nil
}

func (t *Tx) LockOrder(_ context.Context, id int64) (*orders.Order, error) {
	o, ok := t.st().orders[id]
	if !ok {
		return nil, apperr.ErrNoRecord
	}
	return &o, nil
}

func (t *Tx) UpdateOrderStatus(_ context.Context, id int64, status orders.Status, payment orders.PaymentStatus, at time.Time) error {
	o, ok := t.st().orders[id]
	if !ok {
		return apperr.ErrNoRecord
	}
	o.Status, o.PaymentStatus, o.UpdatedAt = status, payment, at
	t.st().orders[id] = o
	return nil
}

func (t *Tx) LockUser(_ context.Context, userID int64) error {
	if _, ok := t.st().users[userID]; !ok {
		return apperr.ErrNoRecord
	}
	return nil
}

func (t *Tx) TopUpByPurchaseID(_ context.Context, purchaseID string) (*topup.TopUp, error) {
	for _, tp := range t.st().topups {
		if tp.PurchaseID == purchaseID {
			return &tp, nil
		}
	}
	return nil, apperr.ErrNoRecord
}

func (t *Tx) TopUpByInvoice(_ context.Context, invoice string) (*topup.TopUp, error) {
	for _, tp := range t.st().topups {
		if tp.InvoiceNumber == invoice {
			return &tp, nil
		}
	}
	return nil, apperr.ErrNoRecord
}

func (t *Tx) LatestTopUpSince(_ context.Context, userID int64, since time.Time) (*topup.TopUp, error) {
	var latest *topup.TopUp
	for i := range t.st().topups {
		tp := t.st().topups[i]
		if tp.UserID != userID || !tp.CreatedAt.After(since) {
			continue
		}
		if latest == nil || tp.CreatedAt.After(latest.CreatedAt) {
			latest = &tp
		}
	}
	if latest == nil {
		return nil, apperr.ErrNoRecord
	}
	return latest, nil
}

func (t *Tx) InsertTopUp(_ context.Context, tp *topup.TopUp) error {
	for _, prev := range t.st().topups {
		if prev.PurchaseID == tp.PurchaseID || prev.InvoiceNumber == tp.InvoiceNumber {
			return apperr.ErrDuplicateKey
		}
	}
	tp.ID = t.s.nextID()
	t.st().topups = append(t.st().topups, *tp)
	return nil
}
