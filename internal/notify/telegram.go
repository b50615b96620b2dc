package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts operations alerts to every configured chat. Calls go through a
// circuit breaker so a dead Bot API does not stall the worker.
type Telegram struct {
	token   string
	chatIDs []string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     *zap.Logger
}

type TelegramOption func(*Telegram)

func WithBaseURL(u string) TelegramOption       { return func(t *Telegram) { t.baseURL = u } }
func WithHTTPClient(c *http.Client) TelegramOption { return func(t *Telegram) { t.client = c } }

func NewTelegram(token string, chatIDs []string, log *zap.Logger, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:   token,
		chatIDs: chatIDs,
		baseURL: telegramAPI,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
	for _, o := range opts {
		o(t)
	}
	t.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return t
}

func (t *Telegram) Alert(ctx context.Context, text string) error {
	if t.token == "" || len(t.chatIDs) == 0 {
		return nil
	}
	var errs []error
	for _, id := range t.chatIDs {
		_, err := t.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, t.send(ctx, id, text)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
