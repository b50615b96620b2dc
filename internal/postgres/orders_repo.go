package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, order_code, idempotency_key, user_id, payment_method, subtotal, shipping_cost,
	grand_total, payment_status, status, invoice_number, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var o orders.Order
	err := row.Scan(&o.ID, &o.Code, &o.IdempotencyKey, &o.UserID, &o.PaymentMethod, &o.Subtotal,
		&o.ShippingCost, &o.GrandTotal, &o.PaymentStatus, &o.Status, &o.InvoiceNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, noRecord(err)
	}
	return &o, nil
}

func loadLines(ctx context.Context, q querier, o *orders.Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, qty, weight, unit, line_total
		FROM order_lines WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Lines = o.Lines[:0]
	for rows.Next() {
		var l orders.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Qty, &l.Weight, &l.Unit, &l.LineTotal); err != nil {
			return err
		}
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}

func orderWithLines(ctx context.Context, q querier, where string, arg any) (*orders.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, q, o); err != nil {
		return nil, fmt.Errorf("load lines of order %d: %w", o.ID, err)
	}
	return o, nil
}

// ---- dalam transaksi ----

func (t *Tx) OrderByToken(ctx context.Context, token string) (*orders.Order, error) {
	return orderWithLines(ctx, t.tx, `idempotency_key=$1`, token)
}

func (t *Tx) UserByID(ctx context.Context, id int64) (*orders.User, error) {
	var u orders.User
	err := t.tx.QueryRow(ctx, `SELECT id, referred_by FROM users WHERE id=$1`, id).Scan(&u.ID, &u.ReferredBy)
	if err != nil {
		return nil, noRecord(err)
	}
	return &u, nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(order_code, idempotency_key, user_id, payment_method, subtotal, shipping_cost,
		                   grand_total, payment_status, status, invoice_number, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		o.Code, o.IdempotencyKey, o.UserID, o.PaymentMethod, o.Subtotal, o.ShippingCost,
		o.GrandTotal, o.PaymentStatus, o.Status, o.InvoiceNumber, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	switch uniqueViolation(err) {
	case "":
	case "orders_idempotency_key_key":
		return apperr.ErrDuplicateKey
	case "orders_invoice_number_key":
		return apperr.Conflictf("invoice number %s already used", o.InvoiceNumber)
	default:
		return err
	}
	if err != nil {
		return err
	}

	// insert lines
	batch := &pgx.Batch{}
	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		batch.Queue(`
			INSERT INTO order_lines(order_id, product_id, product_name, qty, weight, unit, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			l.OrderID, l.ProductID, l.ProductName, l.Qty, l.Weight, l.Unit, l.LineTotal,
		).QueryRow(func(row pgx.Row) error { return row.Scan(&l.ID) })
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *Tx) LockOrder(ctx context.Context, id int64) (*orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *Tx) UpdateOrderStatus(ctx context.Context, id int64, status orders.Status, payment orders.PaymentStatus, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, payment_status=$3, updated_at=$4 WHERE id=$1`,
		id, status, payment, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrNoRecord
	}
	return nil
}

// ---- read side ----

func (s *Store) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	return orderWithLines(ctx, s.DB, `id=$1`, id)
}

func (s *Store) GetOrderByToken(ctx context.Context, token string) (*orders.Order, error) {
	return orderWithLines(ctx, s.DB, `idempotency_key=$1`, token)
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, stock, price, weight, unit, created_at, updated_at
                                FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.Weight, &p.Unit, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
