// Package memstore is an in-memory implementation of the order, top-up,
// referral, settings and user stores. A transaction holds one store-wide lock
// and rolls back to a snapshot on error, which gives the same serialization the
// Postgres row and advisory locks give.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/ledger"
	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
)

type User struct {
	ID         int64
	Name       string
	Phone      string
	ReferredBy *int64
	PushToken  string
}

type state struct {
	products map[int64]orders.Product
	users    map[int64]User
	accounts map[int64]ledger.Account
	orders   map[int64]orders.Order
	bonuses  []referral.Bonus
	topups   []topup.TopUp
	seq      int64
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[int64]orders.Product, len(s.products)),
		users:    make(map[int64]User, len(s.users)),
		accounts: make(map[int64]ledger.Account, len(s.accounts)),
		orders:   make(map[int64]orders.Order, len(s.orders)),
		bonuses:  append([]referral.Bonus(nil), s.bonuses...),
		topups:   append([]topup.TopUp(nil), s.topups...),
		seq:      s.seq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
	// Now stamps rows written outside the coordinators' clock.
	Now func() time.Time

	settingsMu sync.RWMutex
	settings   map[string]string
}

func New() *Store {
	return &Store{
		st: &state{
			products: map[int64]orders.Product{},
			users:    map[int64]User{},
			accounts: map[int64]ledger.Account{},
			orders:   map[int64]orders.Order{},
		},
		settings: map[string]string{},
		Now:      time.Now,
	}
}

var (
	_ orders.Reader   = (*Store)(nil)
	_ referral.Repo   = (*Store)(nil)
	_ notify.Users    = (*Store)(nil)
	_ orders.TxRunner = ordersRunner{}
	_ topup.TxRunner  = topupRunner{}
)

func (s *Store) nextID() int64 {
	s.st.seq++
	return s.st.seq
}

// InTx runs fn under the store lock and restores the snapshot if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	if err := fn(&Tx{s: s}); err != nil {
		s.st = snap
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = snap
		return err
	}
	return nil
}

type ordersRunner struct{ s *Store }

func (r ordersRunner) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	return r.s.InTx(ctx, func(tx *Tx) error { return fn(tx) })
}

type topupRunner struct{ s *Store }

func (r topupRunner) InTx(ctx context.Context, fn func(topup.Tx) error) error {
	return r.s.InTx(ctx, func(tx *Tx) error { return fn(tx) })
}

func (s *Store) OrdersRunner() orders.TxRunner { return ordersRunner{s} }
func (s *Store) TopUpsRunner() topup.TxRunner  { return topupRunner{s} }

// ---- seeding & inspection ----

func (s *Store) AddProduct(p orders.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	s.st.products[p.ID] = p
	return p.ID
}

func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) SetBalance(userID int64, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.accounts[userID] = ledger.Account{UserID: userID, Balance: balance}
}

func (s *Store) SetSetting(key, value string) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	s.settings[key] = value
}

func (s *Store) Stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[productID].Stock
}

// Balance returns -1 when the user has no account.
func (s *Store) Balance(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.st.accounts[userID]
	if !ok {
		return -1
	}
	return acc.Balance
}

func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Bonuses() []referral.Bonus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]referral.Bonus(nil), s.st.bonuses...)
}

func (s *Store) TopUps() []topup.TopUp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]topup.TopUp(nil), s.st.topups...)
}

func (s *Store) User(id int64) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.users[id]
}

// ---- reads outside a transaction ----

func (s *Store) GetOrder(_ context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, apperr.ErrNoRecord
	}
	return &o, nil
}

func (s *Store) GetOrderByToken(_ context.Context, token string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orderByToken(token)
}

func (s *Store) ListProducts(context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, b := range s.st.bonuses {
		if b.Status == referral.StatusPending && b.ExpiresAt.Before(now) {
			s.st.bonuses[i].Status = referral.StatusExpired
			n++
		}
	}
	return n, nil
}

func (s *Store) BonusesForUser(_ context.Context, userID int64) ([]referral.Bonus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []referral.Bonus
	for _, b := range s.st.bonuses {
		if b.BeneficiaryID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) SettingValue(_ context.Context, key string) (string, error) {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return "", apperr.ErrNoRecord
	}
	return v, nil
}

func (s *Store) PushTarget(_ context.Context, userID int64) (notify.PushTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return notify.PushTarget{}, apperr.ErrNoRecord
	}
	return notify.PushTarget{UserID: u.ID, Name: u.Name, Phone: u.Phone, Token: u.PushToken}, nil
}

func (s *Store) ClearPushToken(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return apperr.ErrNoRecord
	}
	u.PushToken = ""
	s.st.users[userID] = u
	return nil
}

func (st *state) orderByToken(token string) (*orders.Order, error) {
	for _, o := range st.orders {
		if o.IdempotencyKey == token {
			return &o, nil
		}
	}
	return nil, apperr.ErrNoRecord
}
