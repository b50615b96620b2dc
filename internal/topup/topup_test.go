package topup_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/memstore"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newService(t *testing.T) (*topup.Service, *memstore.Store, *memstore.Dispatcher, *clock) {
	t.Helper()
	st := memstore.New()
	st.AddUser(memstore.User{ID: 1})
	st.AddUser(memstore.User{ID: 2})
	c := &clock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	disp := &memstore.Dispatcher{}
	return &topup.Service{
		Tx:       st.TopUpsRunner(),
		Notifier: disp,
		Log:      zap.NewNop(),
		Now:      c.Now,
	}, st, disp, c
}

func req(purchase, invoice string) topup.Request {
	return topup.Request{
		UserID:        1,
		PurchaseID:    purchase,
		InvoiceNumber: invoice,
		Points:        1500,
		Price:         15000,
		PaymentMethod: "google_play",
	}
}

func TestConfirmCreditsOnce(t *testing.T) {
	svc, st, disp, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Confirm(ctx, req("GPA.1234-5678", "INV/TP/1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1500, res.Balance)
	assert.True(t, strings.HasPrefix(res.TopUp.Code, "TP-"))
	assert.Equal(t, topup.StatusSuccess, res.TopUp.Status)

	again, err := svc.Confirm(ctx, req("GPA.1234-5678", "INV/TP/1"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.TopUp.ID, again.TopUp.ID)
	assert.Equal(t, res.TopUp.Code, again.TopUp.Code)

	assert.Equal(t, 1500, st.Balance(1))
	assert.Len(t, st.TopUps(), 1)
	assert.Len(t, disp.TopUps, 1)
}

func TestConfirmConcurrentSamePurchase(t *testing.T) {
	svc, st, _, _ := newService(t)

	var wg sync.WaitGroup
	codes := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Confirm(context.Background(), req("GPA.9", "INV/9"))
			if assert.NoError(t, err) {
				codes <- res.TopUp.Code
			}
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		seen[c] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1500, st.Balance(1))
	assert.Len(t, st.TopUps(), 1)
}

func TestConfirmInvoiceConflict(t *testing.T) {
	svc, st, _, c := newService(t)
	ctx := context.Background()

	_, err := svc.Confirm(ctx, req("GPA.1", "INV/SAME"))
	require.NoError(t, err)
	c.Advance(time.Minute)

	_, err = svc.Confirm(ctx, req("GPA.2", "INV/SAME"))
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
	assert.Equal(t, 1500, st.Balance(1))
}

func TestConfirmBurstWindow(t *testing.T) {
	svc, st, _, c := newService(t)
	ctx := context.Background()

	first, err := svc.Confirm(ctx, req("GPA.1", "INV/1"))
	require.NoError(t, err)

	c.Advance(3 * time.Second)
	burst, err := svc.Confirm(ctx, req("GPA.2", "INV/2"))
	require.NoError(t, err)
	assert.True(t, burst.Replayed)
	assert.Equal(t, first.TopUp.ID, burst.TopUp.ID)
	assert.Equal(t, 1500, st.Balance(1))

	// user lain tidak kena burst window user 1
	other := req("GPA.3", "INV/3")
	other.UserID = 2
	res, err := svc.Confirm(ctx, other)
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	c.Advance(topup.BurstWindow)
	later, err := svc.Confirm(ctx, req("GPA.2", "INV/2"))
	require.NoError(t, err)
	assert.False(t, later.Replayed)
	assert.Equal(t, 3000, st.Balance(1))
}

func TestConfirmUnknownUser(t *testing.T) {
	svc, st, _, _ := newService(t)
	r := req("GPA.1", "INV/1")
	r.UserID = 77
	_, err := svc.Confirm(context.Background(), r)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.Empty(t, st.TopUps())
}

func TestConfirmValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	cases := []func(r *topup.Request){
		func(r *topup.Request) { r.PurchaseID = "" },
		func(r *topup.Request) { r.PurchaseID = "GPA 1" },
		func(r *topup.Request) { r.PurchaseID = "GPA/1" },
		func(r *topup.Request) { r.PurchaseID = strings.Repeat("a", 256) },
		func(r *topup.Request) { r.InvoiceNumber = "" },
		func(r *topup.Request) { r.InvoiceNumber = "INV#1" },
		func(r *topup.Request) { r.Points = 0 },
		func(r *topup.Request) { r.Price = -1 },
		func(r *topup.Request) { r.PaymentMethod = " " },
		func(r *topup.Request) { r.UserID = 0 },
	}
	for i, mutate := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			r := req("GPA.1", "INV/1")
			mutate(&r)
			_, err := svc.Confirm(context.Background(), r)
			assert.True(t, apperr.IsKind(err, apperr.Validation), err)
		})
	}
}

func TestConfirmTrimsKeys(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Confirm(ctx, req(" GPA.7 ", "INV/7"))
	require.NoError(t, err)
	res, err := svc.Confirm(ctx, req("GPA.7", "INV/7"))
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, 1500, st.Balance(1))
}
