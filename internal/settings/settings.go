// Package settings resolves runtime settings stored in the setting table.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/apperr"
	"github.com/ariefcatur/go-sayur-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KeyPointValue: nilai 1 poin dalam rupiah.
const KeyPointValue = "hargaPoin"

type Source interface {
	// SettingValue returns apperr.ErrNoRecord when key is absent.
	SettingValue(ctx context.Context, key string) (string, error)
}

// Lookup reads settings through an optional Redis cache. Concurrent misses for
// the same key share one database read.
type Lookup struct {
	Source Source
	Redis  *redis.Client
	TTL    time.Duration
	Log    *zap.Logger

	group singleflight.Group
}

func (l *Lookup) PointValue(ctx context.Context) (int, error) {
	raw, err := l.value(ctx, KeyPointValue)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0, apperr.Validationf("setting %s has invalid value %q", KeyPointValue, raw)
	}
	return v, nil
}

// Invalidate drops the cached value for key.
func (l *Lookup) Invalidate(ctx context.Context, key string) error {
	if l.Redis == nil {
		return nil
	}
	return l.Redis.Del(ctx, fmt.Sprintf(redisx.KeySetting, key)).Err()
}

func (l *Lookup) value(ctx context.Context, key string) (string, error) {
	cacheKey := fmt.Sprintf(redisx.KeySetting, key)
	if l.Redis != nil {
		s, err := l.Redis.Get(ctx, cacheKey).Result()
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, redis.Nil) {
			l.logger().Warn("setting cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		s, err := l.Source.SettingValue(ctx, key)
		if errors.Is(err, apperr.ErrNoRecord) {
			return "", apperr.NotFoundf("setting %s not found", key)
		}
		if err != nil {
			return "", fmt.Errorf("load setting %s: %w", key, err)
		}
		if l.Redis != nil {
			if err := l.Redis.Set(ctx, cacheKey, s, l.ttl()).Err(); err != nil {
				l.logger().Warn("setting cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (l *Lookup) ttl() time.Duration {
	if l.TTL > 0 {
		return l.TTL
	}
	return redisx.TTLSetting
}

func (l *Lookup) logger() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}
