// Package topup turns external purchase confirmations into points credits,
// exactly once per purchase id.
package topup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/ledger"
	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Status string

const (
	StatusSuccess   Status = "success"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

// BurstWindow: top-up kedua dari user yang sama dalam jendela ini dianggap retry.
const BurstWindow = 10 * time.Second

const maxKeyLen = 255

var (
	purchaseIDPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)
	invoicePattern    = regexp.MustCompile(`^[a-zA-Z0-9./_-]+$`)
)

type TopUp struct {
	ID            int64     `json:"id"`
	Code          string    `json:"topup_code"`
	PurchaseID    string    `json:"purchase_id"`
	InvoiceNumber string    `json:"invoice_number"`
	UserID        int64     `json:"user_id"`
	Points        int       `json:"points"`
	Price         int       `json:"price"`
	PaymentMethod string    `json:"payment_method"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type Request struct {
	UserID        int64  `json:"user_id"`
	PurchaseID    string `json:"purchase_id"`
	InvoiceNumber string `json:"invoice_number"`
	Points        int    `json:"points"`
	Price         int    `json:"price"`
	PaymentMethod string `json:"payment_method"`
}

type Result struct {
	TopUp *TopUp
	// Replayed: record lama dikembalikan, tidak ada kredit baru.
	Replayed bool
	// Balance setelah kredit; nol kalau Replayed.
	Balance int
}

type Tx interface {
	ledger.PointsTx

	LockKey(ctx context.Context, key string) error
	// LockUser returns apperr.ErrNoRecord when the user does not exist.
	LockUser(ctx context.Context, userID int64) error
	TopUpByPurchaseID(ctx context.Context, purchaseID string) (*TopUp, error)
	TopUpByInvoice(ctx context.Context, invoice string) (*TopUp, error)
	// LatestTopUpSince returns the newest top-up of userID created after since.
	LatestTopUpSince(ctx context.Context, userID int64, since time.Time) (*TopUp, error)
	InsertTopUp(ctx context.Context, t *TopUp) error
}

type TxRunner interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Service struct {
	Tx       TxRunner
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

func (s *Service) Confirm(ctx context.Context, req Request) (Result, error) {
	req.PurchaseID = strings.TrimSpace(req.PurchaseID)
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if err := validate(req); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.Tx.InTx(ctx, func(tx Tx) error {
		// lock user row dulu: serialisasi semua top-up per user
		err := tx.LockUser(ctx, req.UserID)
		if errors.Is(err, apperr.ErrNoRecord) {
			return apperr.NotFoundf("user %d not found", req.UserID)
		}
		if err != nil {
			return fmt.Errorf("lock user %d: %w", req.UserID, err)
		}
		if err := tx.LockKey(ctx, "topup:purchase:"+req.PurchaseID); err != nil {
			return fmt.Errorf("lock purchase id: %w", err)
		}
		if err := tx.LockKey(ctx, "topup:invoice:"+req.InvoiceNumber); err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}

		prev, err := lookup(tx.TopUpByPurchaseID(ctx, req.PurchaseID))
		if err != nil {
			return fmt.Errorf("lookup purchase id: %w", err)
		}
		if prev != nil {
			res = Result{TopUp: prev, Replayed: true}
			return nil
		}

		prev, err = lookup(tx.TopUpByInvoice(ctx, req.InvoiceNumber))
		if err != nil {
			return fmt.Errorf("lookup invoice: %w", err)
		}
		if prev != nil {
			return apperr.Conflictf("invoice %s already used by purchase %s", req.InvoiceNumber, prev.PurchaseID)
		}

		now := s.now()
		prev, err = lookup(tx.LatestTopUpSince(ctx, req.UserID, now.Add(-BurstWindow)))
		if err != nil {
			return fmt.Errorf("lookup recent top-up: %w", err)
		}
		if prev != nil {
			res = Result{TopUp: prev, Replayed: true}
			return nil
		}

		t := &TopUp{
			Code:          newTopUpCode(now),
			PurchaseID:    req.PurchaseID,
			InvoiceNumber: req.InvoiceNumber,
			UserID:        req.UserID,
			Points:        req.Points,
			Price:         req.Price,
			PaymentMethod: req.PaymentMethod,
			Status:        StatusSuccess,
			CreatedAt:     now,
		}
		if err := tx.InsertTopUp(ctx, t); err != nil {
			return fmt.Errorf("insert top-up: %w", err)
		}
		acc, err := ledger.CreditPoints(ctx, tx, req.UserID, req.Points)
		if err != nil {
			return err
		}
		res = Result{TopUp: t, Balance: acc.Balance}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if !res.Replayed {
		if err := s.Notifier.TopUpSucceeded(ctx, notify.TopUpSucceeded{
			TopUpCode: res.TopUp.Code,
			UserID:    res.TopUp.UserID,
			Points:    res.TopUp.Points,
			Price:     res.TopUp.Price,
		}); err != nil && s.Log != nil {
			s.Log.Warn("top-up notification dropped", zap.String("topup_code", res.TopUp.Code), zap.Error(err))
		}
	}
	return res, nil
}

func lookup(t *TopUp, err error) (*TopUp, error) {
	if errors.Is(err, apperr.ErrNoRecord) {
		return nil, nil
	}
	return t, err
}

func validate(req Request) error {
	switch {
	case req.UserID <= 0:
		return apperr.Validationf("user id is required")
	case req.PurchaseID == "":
		return apperr.Validationf("purchase id is required")
	case len(req.PurchaseID) > maxKeyLen || !purchaseIDPattern.MatchString(req.PurchaseID):
		return apperr.Validationf("invalid purchase id format")
	case req.InvoiceNumber == "":
		return apperr.Validationf("invoice number is required")
	case len(req.InvoiceNumber) > maxKeyLen || !invoicePattern.MatchString(req.InvoiceNumber):
		return apperr.Validationf("invalid invoice number format")
	case req.Points <= 0:
		return apperr.Validationf("points must be positive")
	case req.Price < 0:
		return apperr.Validationf("price must not be negative")
	case req.PaymentMethod == "":
		return apperr.Validationf("payment method is required")
	}
	return nil
}

// TP-<unix>-<8 hex uuid>: unik walau banyak top-up di detik yang sama.
func newTopUpCode(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("TP-%d-%s", now.Unix(), strings.ToUpper(id[:8]))
}
