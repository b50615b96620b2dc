package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	kafkax "github.com/ariefcatur/go-sayur-orders/internal/kafka"
	"github.com/ariefcatur/go-sayur-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type PushTarget struct {
	UserID int64
	Name   string
	Phone  string
	Token  string
}

type Users interface {
	// PushTarget returns apperr.ErrNoRecord when the user does not exist.
	PushTarget(ctx context.Context, userID int64) (PushTarget, error)
	ClearPushToken(ctx context.Context, userID int64) error
}

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Pusher delivers to a device token. ValidToken reports whether the provider
// still accepts the token.
type Pusher interface {
	ValidToken(ctx context.Context, token string) bool
	Push(ctx context.Context, token string, msg Message) error
}

type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Sender dipasang sebagai handler consumer di worker.
type Sender struct {
	Users    Users
	Pusher   Pusher
	Alerts   Alerter
	Redis    *redis.Client
	AdminURL string
	Service  string
	Log      *zap.Logger
}

// Handle never asks for redelivery: notifications are best-effort, so every
// message is committed once it has been looked at.
func (s *Sender) Handle(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("drop malformed event", zap.String("topic", m.Topic), zap.Error(err))
		return nil
	}

	// 2) dedup via Redis (pakai event_id)
	if s.Redis != nil {
		first, err := redisx.Claim(ctx, s.Redis, fmt.Sprintf(redisx.KeyDedup, s.Service, env.EventID), redisx.TTLDedup)
		if err != nil {
			s.Log.Warn("dedup check failed, delivering anyway", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	log := s.Log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))
	switch env.EventType {
	case EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[OrderPlaced](env.Payload)
		if err != nil {
			log.Warn("drop event", zap.Error(err))
			return nil
		}
		s.orderPlaced(ctx, log, p)
	case EventTopUpSucceeded:
		p, err := kafkax.UnwrapPayload[TopUpSucceeded](env.Payload)
		if err != nil {
			log.Warn("drop event", zap.Error(err))
			return nil
		}
		s.deliver(ctx, log, p.UserID, Message{
			Title: "Top up berhasil",
			Body:  fmt.Sprintf("%s poin sudah masuk ke akun kamu.", formatNumber(p.Points)),
			Data:  map[string]string{"topup_code": p.TopUpCode},
		})
	case EventStatusChanged:
		p, err := kafkax.UnwrapPayload[StatusChanged](env.Payload)
		if err != nil {
			log.Warn("drop event", zap.Error(err))
			return nil
		}
		s.deliver(ctx, log, p.UserID, Message{
			Title: "Status pesanan " + p.OrderCode,
			Body:  "Pesanan kamu sekarang " + statusLabel(p.Status) + ".",
			Data:  map[string]string{"order_id": strconv.FormatInt(p.OrderID, 10), "status": p.Status},
		})
	default:
		log.Debug("ignore event")
	}
	return nil
}

func (s *Sender) orderPlaced(ctx context.Context, log *zap.Logger, p OrderPlaced) {
	target, err := s.Users.PushTarget(ctx, p.UserID)
	if err != nil && !errors.Is(err, apperr.ErrNoRecord) {
		log.Warn("load push target", zap.Int64("user_id", p.UserID), zap.Error(err))
	}
	target.UserID = p.UserID

	s.push(ctx, log, target, Message{
		Title: "Pesanan diterima",
		Body:  fmt.Sprintf("Pesanan %s sedang kami siapkan.", p.OrderCode),
		Data:  map[string]string{"order_id": strconv.FormatInt(p.OrderID, 10)},
	})

	if s.Alerts == nil {
		return
	}
	if err := s.Alerts.Alert(ctx, FormatOrderAlert(p, target, s.AdminURL)); err != nil {
		log.Warn("operations alert failed", zap.String("order_code", p.OrderCode), zap.Error(err))
	}
}

func (s *Sender) deliver(ctx context.Context, log *zap.Logger, userID int64, msg Message) {
	target, err := s.Users.PushTarget(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNoRecord) {
			log.Warn("load push target", zap.Int64("user_id", userID), zap.Error(err))
		}
		return
	}
	s.push(ctx, log, target, msg)
}

// push clears a token the provider no longer accepts instead of sending to it.
func (s *Sender) push(ctx context.Context, log *zap.Logger, target PushTarget, msg Message) {
	if target.Token == "" || s.Pusher == nil {
		return
	}
	if !s.Pusher.ValidToken(ctx, target.Token) {
		if err := s.Users.ClearPushToken(ctx, target.UserID); err != nil {
			log.Warn("clear stale push token", zap.Int64("user_id", target.UserID), zap.Error(err))
			return
		}
		log.Info("stale push token cleared", zap.Int64("user_id", target.UserID))
		return
	}
	if err := s.Pusher.Push(ctx, target.Token, msg); err != nil {
		log.Warn("push failed", zap.Int64("user_id", target.UserID), zap.Error(err))
	}
}

// LogPusher accepts every non-empty token and writes the push to the log.
type LogPusher struct{ Log *zap.Logger }

func (p LogPusher) ValidToken(_ context.Context, token string) bool { return token != "" }

func (p LogPusher) Push(_ context.Context, token string, msg Message) error {
	p.Log.Info("push",
		zap.String("token_suffix", tail(token, 6)),
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.Any("data", msg.Data))
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
