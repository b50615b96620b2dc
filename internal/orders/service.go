package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/ledger"
	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tx is everything order intake touches inside one database transaction.
type Tx interface {
	ledger.StockTx
	ledger.PointsTx
	referral.Tx

	// LockKey takes an exclusive lock on key until the transaction ends.
	LockKey(ctx context.Context, key string) error
	OrderByToken(ctx context.Context, token string) (*Order, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	// InsertOrder fills o.ID, line ids and timestamps. apperr.ErrDuplicateKey on a
	// unique violation of the idempotency key.
	InsertOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id int64) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status Status, payment PaymentStatus, at time.Time) error
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader serves lookups outside of any write transaction.
type Reader interface {
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByToken(ctx context.Context, token string) (*Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type PointValuer interface {
	PointValue(ctx context.Context) (int, error)
}

type Service struct {
	Tx       TxRunner
	Reader   Reader
	Bonus    *referral.Engine
	Points   PointValuer
	Notifier notify.Dispatcher
	Log      *zap.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// PlaceOrder is idempotent on req.IdempotencyKey. existed=true means the order was
// created by an earlier call and is returned untouched.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (order *Order, existed bool, err error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, false, apperr.Validationf("idempotency key is required")
	}

	err = s.Tx.InTx(ctx, func(tx Tx) error {
		// kunci token dulu baru cek, supaya retry paralel antre di sini
		if err := tx.LockKey(ctx, "order:"+req.IdempotencyKey); err != nil {
			return fmt.Errorf("lock idempotency key: %w", err)
		}
		prev, err := tx.OrderByToken(ctx, req.IdempotencyKey)
		if err == nil {
			order, existed = prev, true
			return nil
		}
		if !errors.Is(err, apperr.ErrNoRecord) {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}
		order, err = s.place(ctx, tx, req)
		return err
	})
	if errors.Is(err, apperr.ErrDuplicateKey) {
		// kalah balapan di unique constraint: ambil order pemenang
		prev, rerr := s.Reader.GetOrderByToken(ctx, req.IdempotencyKey)
		if rerr != nil {
			return nil, false, fmt.Errorf("refetch after duplicate: %w", rerr)
		}
		return prev, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !existed {
		s.dispatchPlaced(ctx, order)
	}
	return order, existed, nil
}

func (s *Service) place(ctx context.Context, tx Tx, req PlaceOrderRequest) (*Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	user, err := tx.UserByID(ctx, req.UserID)
	if errors.Is(err, apperr.ErrNoRecord) {
		return nil, apperr.NotFoundf("user %d not found", req.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", req.UserID, err)
	}

	payment := PaymentUnpaid
	if req.PaymentMethod == PaymentPoints {
		if _, err := ledger.DebitPoints(ctx, tx, user.ID, req.GrandTotal); err != nil {
			return nil, err
		}
		payment = PaymentPaid
	}

	names, err := reserveLines(ctx, tx, req.Lines)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		Code:           newOrderCode(),
		IdempotencyKey: req.IdempotencyKey,
		UserID:         user.ID,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       req.Subtotal,
		ShippingCost:   req.ShippingCost,
		GrandTotal:     req.GrandTotal,
		PaymentStatus:  payment,
		Status:         StatusPending,
		InvoiceNumber:  strings.TrimSpace(req.InvoiceNumber),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.InvoiceNumber == "" {
		o.InvoiceNumber = fmt.Sprintf("INV/%s/%s", now.Format("20060102"), o.Code)
	}
	for _, l := range req.Lines {
		o.Lines = append(o.Lines, OrderLine{
			ProductID:   l.ProductID,
			ProductName: names[l.ProductID],
			Qty:         l.Qty,
			Weight:      l.Weight,
			Unit:        l.Unit,
			LineTotal:   l.LineTotal,
		})
	}
	if err := tx.InsertOrder(ctx, o); err != nil {
		if errors.Is(err, apperr.ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if _, err := s.Bonus.Cascade(ctx, tx, referral.Source{
		PayerID:    user.ID,
		OrderID:    o.ID,
		GrandTotal: o.GrandTotal,
		InPoints:   o.PaymentMethod == PaymentPoints,
	}); err != nil {
		return nil, err
	}
	return o, nil
}

// reserveLines locks products in ascending id order. Lines for the same product
// are reserved as one quantity.
func reserveLines(ctx context.Context, tx ledger.StockTx, lines []LineInput) (map[int64]string, error) {
	qty := make(map[int64]int, len(lines))
	for _, l := range lines {
		qty[l.ProductID] += l.Qty
	}
	ids := make([]int64, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names := make(map[int64]string, len(ids))
	for _, id := range ids {
		row, err := ledger.ReserveStock(ctx, tx, id, qty[id])
		if err != nil {
			return nil, err
		}
		names[id] = row.Name
	}
	return names, nil
}

func validate(req PlaceOrderRequest) error {
	if len(req.Lines) == 0 {
		return apperr.Validationf("order has no lines")
	}
	if !req.PaymentMethod.Valid() {
		return apperr.Validationf("unknown payment method %q", req.PaymentMethod)
	}
	if req.UserID <= 0 {
		return apperr.Validationf("user id is required")
	}
	for i, l := range req.Lines {
		if l.Qty <= 0 {
			return apperr.Validationf("line %d: qty must be positive", i+1)
		}
		if l.ProductID <= 0 {
			return apperr.Validationf("line %d: product id is required", i+1)
		}
	}
	if req.PaymentMethod == PaymentPoints && req.GrandTotal <= 0 {
		return apperr.Validationf("points order needs a positive grand total")
	}
	if req.ShippingCost < 0 || req.Subtotal < 0 || req.GrandTotal < 0 {
		return apperr.Validationf("totals must not be negative")
	}
	return nil
}

// GS + 8 hex pertama uuid, huruf besar.
func newOrderCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "GS" + strings.ToUpper(id[:8])
}

func (s *Service) dispatchPlaced(ctx context.Context, o *Order) {
	ev := notify.OrderPlaced{
		OrderID:       o.ID,
		OrderCode:     o.Code,
		UserID:        o.UserID,
		PaymentMethod: string(o.PaymentMethod),
		Subtotal:      o.Subtotal,
		ShippingCost:  o.ShippingCost,
		GrandTotal:    o.GrandTotal,
	}
	for _, l := range o.Lines {
		ev.Lines = append(ev.Lines, notify.OrderLine{
			ProductName: l.ProductName,
			Qty:         l.Qty,
			Weight:      l.Weight,
			Unit:        l.Unit,
			LineTotal:   l.LineTotal,
		})
	}
	if err := s.Notifier.OrderPlaced(ctx, ev); err != nil {
		s.logger().Warn("order placed notification dropped",
			zap.String("order_code", o.Code), zap.Error(err))
	}
}

// SetStatus moves an order along the fulfillment state machine. Delivered also
// marks the order paid. Setting the current status again is a no-op.
func (s *Service) SetStatus(ctx context.Context, orderID int64, next Status) (*Order, error) {
	if !next.Valid() {
		return nil, apperr.Validationf("unknown status %q", next)
	}
	var (
		order   *Order
		changed bool
	)
	err := s.Tx.InTx(ctx, func(tx Tx) error {
		cur, err := tx.LockOrder(ctx, orderID)
		if errors.Is(err, apperr.ErrNoRecord) {
			return apperr.NotFoundf("order %d not found", orderID)
		}
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		order = cur
		if cur.Status == next {
			return nil
		}
		if !CanTransition(cur.Status, next) {
			return apperr.Conflictf("cannot move order %s from %s to %s", cur.Code, cur.Status, next)
		}
		payment := cur.PaymentStatus
		if next == StatusDelivered {
			payment = PaymentPaid
		}
		now := s.now()
		if err := tx.UpdateOrderStatus(ctx, orderID, next, payment, now); err != nil {
			return fmt.Errorf("update order %d status: %w", orderID, err)
		}
		cur.Status, cur.PaymentStatus, cur.UpdatedAt = next, payment, now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.Notifier.StatusChanged(ctx, notify.StatusChanged{
			OrderID:   order.ID,
			OrderCode: order.Code,
			UserID:    order.UserID,
			Status:    string(order.Status),
		}); err != nil {
			s.logger().Warn("status notification dropped",
				zap.String("order_code", order.Code), zap.Error(err))
		}
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := s.Reader.GetOrder(ctx, id)
	if errors.Is(err, apperr.ErrNoRecord) {
		return nil, apperr.NotFoundf("order %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

func (s *Service) GetOrderByToken(ctx context.Context, token string) (*Order, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validationf("idempotency key is required")
	}
	o, err := s.Reader.GetOrderByToken(ctx, token)
	if errors.Is(err, apperr.ErrNoRecord) {
		return nil, apperr.NotFoundf("no order for idempotency key %s", token)
	}
	if err != nil {
		return nil, fmt.Errorf("get order by token: %w", err)
	}
	return o, nil
}

// ListProducts fills PricePoints as ceil(price / point value).
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	ps, err := s.Reader.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	pv, err := s.Points.PointValue(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		ps[i].PricePoints = (ps[i].Price + pv - 1) / pv
	}
	return ps, nil
}
