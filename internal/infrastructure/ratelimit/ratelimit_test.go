package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    Rate
		wantErr bool
	}{
		{"100/min", Rate{100, time.Minute}, false},
		{"5/s", Rate{5, time.Second}, false},
		{" 10 / hour ", Rate{10, time.Hour}, false},
		{"1000/day", Rate{1000, 24 * time.Hour}, false},
		{"0/min", Rate{}, true},
		{"ten/min", Rate{}, true},
		{"10/fortnight", Rate{}, true},
		{"10", Rate{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLocalLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocalLimiter()
	l.now = func() time.Time { return now }
	r := Rate{Limit: 3, Period: time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "user:1", r)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "user:1", r)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.InDelta(t, float64(20*time.Second), float64(res.RetryAfter), float64(time.Millisecond))

	// other keys have their own bucket
	res, _ = l.Allow(ctx, "user:2", r)
	assert.True(t, res.Allowed)

	now = now.Add(21 * time.Second)
	res, _ = l.Allow(ctx, "user:1", r)
	assert.True(t, res.Allowed)
}

func TestLocalLimiterPrune(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocalLimiter()
	l.now = func() time.Time { return now }
	r := Rate{Limit: 1, Period: time.Second}

	_, _ = l.Allow(context.Background(), "a", r)
	now = now.Add(time.Hour)
	_, _ = l.Allow(context.Background(), "b", r)

	assert.Equal(t, 1, l.Prune(30*time.Minute))
	assert.Equal(t, 1, l.Len())
}
