package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is the small key/value surface the application needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Cached is a read-through decorator: it returns the JSON cached under key,
// or calls load and stores its result. Cache failures are logged and the
// loader result is served.
func Cached[T any](ctx context.Context, c Cache, logger *zap.Logger, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	raw, err := c.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if uerr := json.Unmarshal(raw, &v); uerr == nil {
			metrics.CacheHit()
			return v, nil
		}
		logger.Warn("Discarding undecodable cache entry", zap.String("key", key))
	case errors.Is(err, ErrMiss):
		metrics.CacheMiss()
	default:
		metrics.CacheError()
		logger.Warn("Cache read failed, falling back to loader", zap.String("key", key), zap.Error(err))
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if data, merr := json.Marshal(v); merr == nil {
		if serr := c.Set(ctx, key, data, ttl); serr != nil {
			logger.Warn("Cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return v, nil
}

func versionKey(tenantID, scope string) string {
	return fmt.Sprintf("ver:%s:%s", tenantID, scope)
}

// Namespace returns the current key prefix for a tenant's scope (usually an
// entity name). Keys built on it become unreachable after Invalidate.
func Namespace(ctx context.Context, c Cache, tenantID, scope string) (string, error) {
	version := int64(0)
	raw, err := c.Get(ctx, versionKey(tenantID, scope))
	switch {
	case err == nil:
		version, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return "", fmt.Errorf("corrupt namespace version: %w", err)
		}
	case !errors.Is(err, ErrMiss):
		return "", err
	}
	return fmt.Sprintf("ns:%s:%s:v%d", tenantID, scope, version), nil
}

// Invalidate bumps the namespace version.
func Invalidate(ctx context.Context, c Cache, tenantID, scope string) error {
	_, err := c.Incr(ctx, versionKey(tenantID, scope))
	return err
}
