package notify

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventTopUpSucceeded = "TopUpSucceeded"
	EventStatusChanged  = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order code / topup code
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderLine struct {
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	Weight      int    `json:"weight"`
	Unit        string `json:"unit"`
	LineTotal   int    `json:"line_total"`
}

type OrderPlaced struct {
	OrderID       int64       `json:"order_id"`
	OrderCode     string      `json:"order_code"`
	UserID        int64       `json:"user_id"`
	PaymentMethod string      `json:"payment_method"` // cod | points
	Subtotal      int         `json:"subtotal"`
	ShippingCost  int         `json:"shipping_cost"`
	GrandTotal    int         `json:"grand_total"`
	Lines         []OrderLine `json:"lines"`
}

type TopUpSucceeded struct {
	TopUpCode string `json:"topup_code"`
	UserID    int64  `json:"user_id"`
	Points    int    `json:"points"`
	Price     int    `json:"price"`
}

type StatusChanged struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
}
