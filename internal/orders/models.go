package orders

import "time"

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentPoints PaymentMethod = "points"
)

func (m PaymentMethod) Valid() bool { return m == PaymentCOD || m == PaymentPoints }

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Stock       int       `json:"stock"`
	Price       int       `json:"price"`
	PricePoints int       `json:"price_points"` // turunan dari setting hargaPoin, tidak disimpan
	Weight      int       `json:"weight"`
	Unit        string    `json:"unit"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type User struct {
	ID         int64
	ReferredBy *int64
}

// Order: Subtotal/GrandTotal dalam rupiah untuk COD, dalam poin untuk points.
type Order struct {
	ID             int64         `json:"id"`
	Code           string        `json:"order_code"`
	IdempotencyKey string        `json:"idempotency_key"`
	UserID         int64         `json:"user_id"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	Subtotal       int           `json:"subtotal"`
	ShippingCost   int           `json:"shipping_cost"`
	GrandTotal     int           `json:"grand_total"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	Status         Status        `json:"status"`
	InvoiceNumber  string        `json:"invoice_number"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Lines          []OrderLine   `json:"lines"`
}

type OrderLine struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	Weight      int    `json:"weight"`
	Unit        string `json:"unit"`
	LineTotal   int    `json:"line_total"`
}

type LineInput struct {
	ProductID int64  `json:"product_id"`
	Qty       int    `json:"qty"`
	Weight    int    `json:"weight"`
	Unit      string `json:"unit"`
	LineTotal int    `json:"line_total"`
}

type PlaceOrderRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	UserID         int64         `json:"user_id"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	Subtotal       int           `json:"subtotal"`
	ShippingCost   int           `json:"shipping_cost"`
	GrandTotal     int           `json:"grand_total"`
	InvoiceNumber  string        `json:"invoice_number,omitempty"`
	Lines          []LineInput   `json:"lines"`
}
