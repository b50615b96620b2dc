package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type TopUpsHandler struct {
	TopUps *topup.Service
	Log    *zap.Logger
}

type TopUpResp struct {
	TopUp      *topup.TopUp `json:"topup"`
	Balance    *int         `json:"balance,omitempty"`
	Idempotent bool         `json:"idempotent"`
}

func (h *TopUpsHandler) Register(r chi.Router) {
	r.Post("/topups", h.confirm)
}

func (h *TopUpsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req topup.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = notify.WithTrace(ctx, middleware.GetReqID(ctx))

	res, err := h.TopUps.Confirm(ctx, req)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if res.Replayed {
		writeJSON(w, http.StatusOK, TopUpResp{TopUp: res.TopUp, Idempotent: true})
		return
	}
	writeJSON(w, http.StatusCreated, TopUpResp{TopUp: res.TopUp, Balance: &res.Balance})
}
