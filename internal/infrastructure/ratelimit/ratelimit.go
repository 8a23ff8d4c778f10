package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate allows Limit requests per Period.
type Rate struct {
	Limit  int
	Period time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Period)
}

var periods = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute,
	"h": time.Hour, "hour": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour,
}

// ParseRate parses "100/min" style rates.
func ParseRate(s string) (Rate, error) {
	n, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q, expected N/period", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q, count must be a positive integer", s)
	}
	period, ok := periods[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q, unknown period %q", s, unit)
	}
	return Rate{Limit: limit, Period: period}, nil
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the request identified by key fits in rate.
type Limiter interface {
	Allow(ctx context.Context, key string, rate Rate) (Result, error)
}
