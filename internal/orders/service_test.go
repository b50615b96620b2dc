package orders_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/memstore"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/ariefcatur/go-sayur-orders/internal/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	buyer   = int64(100)
	uplineA = int64(101)
	uplineB = int64(102)
)

var now = time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)

func id(v int64) *int64 { return &v }

type fixture struct {
	store *memstore.Store
	disp  *memstore.Dispatcher
	svc   *orders.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.SetSetting(settings.KeyPointValue, "1000")
	st.AddUser(memstore.User{ID: uplineB})
	st.AddUser(memstore.User{ID: uplineA, ReferredBy: id(uplineB)})
	st.AddUser(memstore.User{ID: buyer, ReferredBy: id(uplineA)})
	st.AddProduct(orders.Product{ID: 1, Name: "Bayam", Stock: 10, Price: 5000, Weight: 250, Unit: "gram"})
	st.AddProduct(orders.Product{ID: 2, Name: "Wortel", Stock: 10, Price: 12000, Weight: 500, Unit: "gram"})
	st.AddProduct(orders.Product{ID: 3, Name: "Ayam Kampung", Stock: 4, Price: 95000, Weight: 1, Unit: "kg"})

	clock := func() time.Time { return now }
	points := &settings.Lookup{Source: st}
	disp := &memstore.Dispatcher{}
	svc := &orders.Service{
		Tx:       st.OrdersRunner(),
		Reader:   st,
		Bonus:    &referral.Engine{Points: points, Repo: st, Now: clock},
		Points:   points,
		Notifier: disp,
		Log:      zap.NewNop(),
		Now:      clock,
	}
	return &fixture{store: st, disp: disp, svc: svc}
}

func codRequest(token string) orders.PlaceOrderRequest {
	return orders.PlaceOrderRequest{
		IdempotencyKey: token,
		UserID:         buyer,
		PaymentMethod:  orders.PaymentCOD,
		Subtotal:       240000,
		ShippingCost:   10000,
		GrandTotal:     250000,
		Lines: []orders.LineInput{
			{ProductID: 3, Qty: 2, Weight: 1, Unit: "kg", LineTotal: 190000},
			{ProductID: 1, Qty: 4, Weight: 250, Unit: "gram", LineTotal: 20000},
			{ProductID: 2, Qty: 2, Weight: 500, Unit: "gram", LineTotal: 30000},
		},
	}
}

func TestPlaceOrderCODThreeLines(t *testing.T) {
	f := newFixture(t)

	o, existed, err := f.svc.PlaceOrder(context.Background(), codRequest("tok-1"))
	require.NoError(t, err)
	assert.False(t, existed)

	assert.Regexp(t, regexp.MustCompile(`^GS[0-9A-F]{8}$`), o.Code)
	assert.Equal(t, "INV/20260520/"+o.Code, o.InvoiceNumber)
	assert.Equal(t, orders.PaymentUnpaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
	require.Len(t, o.Lines, 3)
	// urutan line mengikuti request, nama dari tabel produk
	assert.Equal(t, "Ayam Kampung", o.Lines[0].ProductName)
	assert.Equal(t, "Bayam", o.Lines[1].ProductName)
	assert.Equal(t, "Wortel", o.Lines[2].ProductName)

	assert.Equal(t, 2, f.store.Stock(3))
	assert.Equal(t, 6, f.store.Stock(1))
	assert.Equal(t, 8, f.store.Stock(2))

	bonuses := f.store.Bonuses()
	require.Len(t, bonuses, 2)
	assert.Equal(t, uplineA, bonuses[0].BeneficiaryID)
	assert.True(t, bonuses[0].Amount.Equal(decimal.NewFromInt(20000)))
	assert.Equal(t, uplineB, bonuses[1].BeneficiaryID)
	assert.True(t, bonuses[1].Amount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, o.ID, bonuses[0].OrderID)

	require.Len(t, f.disp.Placed, 1)
	assert.Equal(t, o.Code, f.disp.Placed[0].OrderCode)
	assert.Len(t, f.disp.Placed[0].Lines, 3)
}

func TestPlaceOrderReplayReturnsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.PlaceOrder(ctx, codRequest("tok-1"))
	require.NoError(t, err)

	// retry dengan body berbeda tetap mengembalikan order pertama
	retry := codRequest("tok-1")
	retry.Lines = nil
	again, existed, err := f.svc.PlaceOrder(ctx, retry)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Code, again.Code)

	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, 2, f.store.Stock(3))
	assert.Len(t, f.store.Bonuses(), 2)
	assert.Len(t, f.disp.Placed, 1)
}

func TestPlaceOrderConcurrentSameToken(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		codes    = map[string]int{}
		existing int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, existed, err := f.svc.PlaceOrder(context.Background(), codRequest("same-token"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			codes[o.Code]++
			if existed {
				existing++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, codes, 1)
	assert.Equal(t, n-1, existing)
	assert.Len(t, f.store.Orders(), 1)
	assert.Equal(t, 2, f.store.Stock(3))
}

func TestPlaceOrderStockNeverNegative(t *testing.T) {
	f := newFixture(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
				IdempotencyKey: fmt.Sprintf("t-%d", i),
				UserID:         buyer,
				PaymentMethod:  orders.PaymentCOD,
				GrandTotal:     95000,
				Lines:          []orders.LineInput{{ProductID: 3, Qty: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.True(t, apperr.IsKind(err, apperr.InsufficientResource), err)
			fail++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, ok)
	assert.Equal(t, 6, fail)
	assert.Zero(t, f.store.Stock(3))
}

func TestPlaceOrderRejectedLineRollsBackEverything(t *testing.T) {
	f := newFixture(t)

	req := codRequest("tok-x")
	req.Lines[0].Qty = 5 // stok ayam cuma 4
	_, _, err := f.svc.PlaceOrder(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientResource))

	assert.Equal(t, 10, f.store.Stock(1))
	assert.Equal(t, 10, f.store.Stock(2))
	assert.Equal(t, 4, f.store.Stock(3))
	assert.Empty(t, f.store.Orders())
	assert.Empty(t, f.store.Bonuses())
	assert.Empty(t, f.disp.Placed)
}

func TestPlaceOrderPointsInsufficient(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance(buyer, 150)

	_, _, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		IdempotencyKey: "pts-1",
		UserID:         buyer,
		PaymentMethod:  orders.PaymentPoints,
		Subtotal:       190,
		ShippingCost:   10,
		GrandTotal:     200,
		Lines:          []orders.LineInput{{ProductID: 1, Qty: 1}},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientResource))
	assert.Equal(t, 150, f.store.Balance(buyer))
	assert.Equal(t, 10, f.store.Stock(1))
	assert.Empty(t, f.store.Orders())
}

func TestPlaceOrderPointsPaid(t *testing.T) {
	f := newFixture(t)
	f.store.SetBalance(buyer, 500)

	o, _, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		IdempotencyKey: "pts-2",
		UserID:         buyer,
		PaymentMethod:  orders.PaymentPoints,
		Subtotal:       190,
		ShippingCost:   10,
		GrandTotal:     200,
		InvoiceNumber:  "INV/APP/0001",
		Lines:          []orders.LineInput{{ProductID: 2, Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "INV/APP/0001", o.InvoiceNumber)
	assert.Equal(t, 300, f.store.Balance(buyer))

	// 200 poin * 1000 rupiah = basis 200000
	bonuses := f.store.Bonuses()
	require.Len(t, bonuses, 2)
	assert.True(t, bonuses[0].Amount.Equal(decimal.NewFromInt(20000)))
}

func TestPlaceOrderPointsWithoutAccount(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.PlaceOrder(context.Background(), orders.PlaceOrderRequest{
		IdempotencyKey: "pts-3",
		UserID:         buyer,
		PaymentMethod:  orders.PaymentPoints,
		GrandTotal:     50,
		Lines:          []orders.LineInput{{ProductID: 2, Qty: 1}},
	})
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(r *orders.PlaceOrderRequest){
		"blank token":     func(r *orders.PlaceOrderRequest) { r.IdempotencyKey = "  " },
		"no lines":        func(r *orders.PlaceOrderRequest) { r.Lines = nil },
		"unknown method":  func(r *orders.PlaceOrderRequest) { r.PaymentMethod = "transfer" },
		"zero qty":        func(r *orders.PlaceOrderRequest) { r.Lines[1].Qty = 0 },
		"points no total": func(r *orders.PlaceOrderRequest) { r.PaymentMethod = orders.PaymentPoints; r.GrandTotal = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := codRequest("v-" + name)
			mutate(&req)
			_, _, err := f.svc.PlaceOrder(ctx, req)
			assert.True(t, apperr.IsKind(err, apperr.Validation), err)
		})
	}
	assert.Empty(t, f.store.Orders())
}

func TestPlaceOrderNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := codRequest("nf-1")
	req.UserID = 999
	_, _, err := f.svc.PlaceOrder(ctx, req)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	req = codRequest("nf-2")
	req.Lines = append(req.Lines, orders.LineInput{ProductID: 77, Qty: 1})
	_, _, err = f.svc.PlaceOrder(ctx, req)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.Equal(t, 4, f.store.Stock(3))
}

func TestPlaceOrderBelowThresholdNoBonus(t *testing.T) {
	f := newFixture(t)
	req := codRequest("small")
	req.GrandTotal = 199999
	_, _, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, f.store.Bonuses())
}

func TestPlaceOrderSurvivesNotifierFailure(t *testing.T) {
	f := newFixture(t)
	f.disp.Err = errors.New("inbox full")

	o, _, err := f.svc.PlaceOrder(context.Background(), codRequest("tok-n"))
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
	assert.Len(t, f.store.Orders(), 1)
}

func TestPlaceOrderDuplicateInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := codRequest("inv-a")
	a.InvoiceNumber = "INV/1"
	_, _, err := f.svc.PlaceOrder(ctx, a)
	require.NoError(t, err)

	b := codRequest("inv-b")
	b.InvoiceNumber = "INV/1"
	_, _, err = f.svc.PlaceOrder(ctx, b)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
	assert.Equal(t, 2, f.store.Stock(3), "second order rolled back")
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, err := f.svc.PlaceOrder(ctx, codRequest("st-1"))
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, o.ID, orders.StatusDelivered)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))

	_, err = f.svc.SetStatus(ctx, o.ID, "shipped")
	assert.True(t, apperr.IsKind(err, apperr.Validation))

	_, err = f.svc.SetStatus(ctx, 4242, orders.StatusConfirmed)
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	for _, s := range []orders.Status{orders.StatusConfirmed, orders.StatusProcessed, orders.StatusOutForDelivery} {
		got, err := f.svc.SetStatus(ctx, o.ID, s)
		require.NoError(t, err)
		assert.Equal(t, s, got.Status)
		assert.Equal(t, orders.PaymentUnpaid, got.PaymentStatus)
	}

	got, err := f.svc.SetStatus(ctx, o.ID, orders.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)

	stored, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, stored.Status)
	assert.Equal(t, orders.PaymentPaid, stored.PaymentStatus)

	// status sama: no-op, tanpa notifikasi tambahan
	_, err = f.svc.SetStatus(ctx, o.ID, orders.StatusDelivered)
	require.NoError(t, err)
	assert.Len(t, f.disp.Changed, 4)

	_, err = f.svc.SetStatus(ctx, o.ID, orders.StatusCancelled)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
}

func TestGetOrderByToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _, err := f.svc.PlaceOrder(ctx, codRequest("check-1"))
	require.NoError(t, err)

	got, err := f.svc.GetOrderByToken(ctx, "check-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.GetOrderByToken(ctx, "nope")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	_, err = f.svc.GetOrderByToken(ctx, "")
	assert.True(t, apperr.IsKind(err, apperr.Validation))
}

func TestListProductsDerivesPointPrice(t *testing.T) {
	f := newFixture(t)
	ps, err := f.svc.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 3)

	byName := map[string]orders.Product{}
	for _, p := range ps {
		byName[p.Name] = p
	}
	assert.Equal(t, 5, byName["Bayam"].PricePoints)
	assert.Equal(t, 12, byName["Wortel"].PricePoints)
	assert.Equal(t, 95, byName["Ayam Kampung"].PricePoints)

	f.store.SetSetting(settings.KeyPointValue, "700")
	ps, err = f.svc.ListProducts(context.Background())
	require.NoError(t, err)
	for _, p := range ps {
		if p.Name == "Bayam" {
			assert.Equal(t, 8, p.PricePoints) // ceil(5000/700)
		}
	}
}
