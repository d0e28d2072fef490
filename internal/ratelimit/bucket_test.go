package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	now := time.Now()
	l := NewLimiter(withClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		d := l.Allow("K", 3, 1, 1)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d := l.Allow("K", 3, 1, 1)
	require.False(t, d.Allowed)
	assert.InDelta(t, 1.0, d.RetryAfter.Seconds(), 0.1)
}

func TestLimiterRefillsOverTime(t *testing.T) {
	now := time.Now()
	l := NewLimiter(withClock(func() time.Time { return now }))

	d := l.Allow("K", 1, 1, 1)
	require.True(t, d.Allowed)

	d = l.Allow("K", 1, 1, 1)
	require.False(t, d.Allowed)

	now = now.Add(2 * time.Second)
	d = l.Allow("K", 1, 1, 1)
	require.True(t, d.Allowed)
}

func TestLimiterMonotonicity(t *testing.T) {
	now := time.Now()
	l := NewLimiter(withClock(func() time.Time { return now }))
	const capacity, rate = 5.0, 2.0

	l.Allow("K", capacity, rate, 1)
	before := l.Allow("K", capacity, rate, 0).RemainingTokens

	elapsed := 500 * time.Millisecond
	now = now.Add(elapsed)
	after := l.Allow("K", capacity, rate, 1)

	delta := after.RemainingTokens - before
	assert.GreaterOrEqual(t, delta, -1.0)
	assert.LessOrEqual(t, delta, rate*elapsed.Seconds()+1e-9)
}

func TestLimiterTTLCleanup(t *testing.T) {
	now := time.Now()
	l := NewLimiter(
		withClock(func() time.Time { return now }),
		WithTTL(10*time.Second),
		WithCleanupInterval(1*time.Second),
	)

	l.Allow("stale", 1, 1, 1)
	require.Equal(t, 1, l.Len())

	now = now.Add(20 * time.Second)
	l.Allow("fresh", 1, 1, 1)

	assert.Equal(t, 1, l.Len())
}

func TestLimiterEvictsUnderPressure(t *testing.T) {
	now := time.Now()
	l := NewLimiter(
		withClock(func() time.Time { return now }),
		WithMaxBuckets(2),
		WithEvictBatch(1),
		WithCleanupInterval(time.Hour),
	)

	l.Allow("a", 1, 0, 1)
	l.Allow("b", 1, 0, 1)
	d := l.Allow("c", 1, 0, 1)

	require.True(t, d.Allowed)
	assert.LessOrEqual(t, l.Len(), 2)
}

func TestUploadCost(t *testing.T) {
	assert.Equal(t, 1.0, UploadCost(0, 10))
	assert.Equal(t, 1.0, UploadCost(5, 10))
	assert.Equal(t, 2.0, UploadCost(11, 10))
	assert.Equal(t, 1.0, UploadCost(100, 0))
}

func TestAdmitterLayeredDenial(t *testing.T) {
	now := time.Now()
	l := NewLimiter(withClock(func() time.Time { return now }))
	a := NewAdmitter(l, 100, 6000, 100, 6000, []RuleConfig{
		{Name: "upload_media", PerIPBurst: 1, PerIPRPM: 60, AllIPBurst: 100, AllIPRPM: 6000},
	})

	d := a.Check("upload_media", "1.2.3.4", 1)
	require.True(t, d.Allowed)

	d = a.Check("upload_media", "1.2.3.4", 1)
	require.False(t, d.Allowed)
}
