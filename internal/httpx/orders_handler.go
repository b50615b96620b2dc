package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/ariefcatur/go-sayur-orders/internal/redisx"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Orders  *orders.Service
	Bonuses *referral.Engine
	Redis   *redis.Client
	Log     *zap.Logger
}

type PlaceOrderReq struct {
	IdempotencyKey string             `json:"idempotency_key"`
	UserID         int64              `json:"user_id"`
	Subtotal       int                `json:"subtotal"`
	ShippingCost   int                `json:"shipping_cost"`
	GrandTotal     int                `json:"grand_total"`
	InvoiceNumber  string             `json:"invoice_number"`
	Lines          []orders.LineInput `json:"lines"`
}

type PlaceOrderResp struct {
	Order      *orders.Order `json:"order"`
	Idempotent bool          `json:"idempotent"`
}

type SetStatusReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/cod", h.placeOrder(orders.PaymentCOD))
	r.Post("/orders/points", h.placeOrder(orders.PaymentPoints))
	r.Get("/orders/check", h.checkOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.setStatus)
	r.Get("/products", h.listProducts)
	r.Get("/users/{id}/bonuses", h.listBonuses)
}

func (h *OrdersHandler) placeOrder(method orders.PaymentMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlaceOrderReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid json")
			return
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		ctx = notify.WithTrace(ctx, middleware.GetReqID(ctx))

		// Fast-path idempotency via Redis (optional, DB tetap jadi kebenaran)
		if o := h.cachedReplay(ctx, req.IdempotencyKey); o != nil {
			writeJSON(w, http.StatusOK, PlaceOrderResp{Order: o, Idempotent: true})
			return
		}

		o, existed, err := h.Orders.PlaceOrder(ctx, orders.PlaceOrderRequest{
			IdempotencyKey: req.IdempotencyKey,
			UserID:         req.UserID,
			PaymentMethod:  method,
			Subtotal:       req.Subtotal,
			ShippingCost:   req.ShippingCost,
			GrandTotal:     req.GrandTotal,
			InvoiceNumber:  req.InvoiceNumber,
			Lines:          req.Lines,
		})
		if err != nil {
			writeError(w, h.Log, err)
			return
		}

		// Simpan shortcut idempotency di Redis (TTL 24h) + cache order
		if h.Redis != nil {
			idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, o.IdempotencyKey)
			_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
			h.cacheOrder(ctx, o)
		}

		code := http.StatusCreated
		if existed {
			code = http.StatusOK
		}
		writeJSON(w, code, PlaceOrderResp{Order: o, Idempotent: existed})
	}
}

// cachedReplay returns the order a token already produced, or nil on any miss.
func (h *OrdersHandler) cachedReplay(ctx context.Context, token string) *orders.Order {
	if h.Redis == nil || token == "" {
		return nil
	}
	raw, err := h.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, token)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.Log.Warn("idempotency cache read", zap.Error(err))
		}
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	o, err := h.loadOrder(ctx, id)
	if err != nil || o.IdempotencyKey != token {
		return nil
	}
	return o
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderCache, o.ID), b, redisx.TTLStatusCache).Err()
}

// loadOrder: 1) coba cache 2) fallback DB.
func (h *OrdersHandler) loadOrder(ctx context.Context, id int64) (*orders.Order, error) {
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderCache, id)).Bytes(); err == nil {
			var o orders.Order
			if json.Unmarshal(s, &o) == nil {
				return &o, nil
			}
		}
	}
	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	h.cacheOrder(ctx, o)
	return o, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid order id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.loadOrder(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) checkOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrderByToken(ctx, r.URL.Query().Get("idempotencyKey"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid order id")
		return
	}
	var req SetStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = notify.WithTrace(ctx, middleware.GetReqID(ctx))

	if _, err := h.Orders.SetStatus(ctx, id, req.Status); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderCache, id)).Err()
	}
	// ambil ulang supaya response berisi lines
	o, err := h.loadOrder(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) listBonuses(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		badRequest(w, "invalid user id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	bs, err := h.Bonuses.ListForUser(ctx, userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if bs == nil {
		bs = []referral.Bonus{}
	}
	writeJSON(w, http.StatusOK, bs)
}
