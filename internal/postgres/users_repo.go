package postgres

import (
	"context"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/notify"
)

func (s *Store) PushTarget(ctx context.Context, userID int64) (notify.PushTarget, error) {
	t := notify.PushTarget{UserID: userID}
	err := s.DB.QueryRow(ctx, `SELECT full_name, phone, push_token FROM users WHERE id=$1`, userID).
		Scan(&t.Name, &t.Phone, &t.Token)
	if err != nil {
		return notify.PushTarget{}, noRecord(err)
	}
	return t, nil
}

func (s *Store) ClearPushToken(ctx context.Context, userID int64) error {
	ct, err := s.DB.Exec(ctx, `UPDATE users SET push_token='' WHERE id=$1`, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.ErrNoRecord
	}
	return nil
}

func (s *Store) SettingValue(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.DB.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&v); err != nil {
		return "", noRecord(err)
	}
	return v, nil
}
