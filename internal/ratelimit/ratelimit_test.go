package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterWaitsBetweenActions(t *testing.T) {
	r := NewSimpleRateLimiter(40*time.Millisecond, 60*time.Millisecond)

	// First call has no prior action to space from.
	start := time.Now()
	require.NoError(t, r.Wait(context.Background()))
	require.NoError(t, r.Wait(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestSimpleRateLimiterDelayStaysInRange(t *testing.T) {
	r := NewSimpleRateLimiter(10*time.Millisecond, 30*time.Millisecond)

	for i := 0; i < 50; i++ {
		d := r.delay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 30*time.Millisecond)
	}
}

func TestSimpleRateLimiterHonorsContext(t *testing.T) {
	r := NewSimpleRateLimiter(5*time.Second, 5*time.Second)
	require.NoError(t, r.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdaptiveRateLimiterBacksOffOnErrors(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 5*time.Second)

	a.RecordError()
	a.RecordError()
	a.RecordError()

	min, max := a.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 7500*time.Millisecond, max)
}

func TestAdaptiveRateLimiterBackoffIsCapped(t *testing.T) {
	a := NewAdaptiveRateLimiter(50*time.Second, 110*time.Second)

	for i := 0; i < 9; i++ {
		a.RecordError()
	}

	min, max := a.Delays()
	assert.Equal(t, 60*time.Second, min)
	assert.Equal(t, 120*time.Second, max)
}

func TestAdaptiveRateLimiterRelaxesAfterSuccesses(t *testing.T) {
	a := NewAdaptiveRateLimiter(10*time.Second, 20*time.Second)

	for i := 0; i < 6; i++ {
		a.RecordSuccess()
	}

	min, _ := a.Delays()
	assert.Equal(t, 9*time.Second, min)
}

func TestAdaptiveRateLimiterSuccessResetsErrorStreak(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 5*time.Second)

	a.RecordError()
	a.RecordError()
	a.RecordSuccess()
	a.RecordError()
	a.RecordError()

	// Never hit three in a row, so the range is untouched.
	min, max := a.Delays()
	assert.Equal(t, 2*time.Second, min)
	assert.Equal(t, 5*time.Second, max)
}
