package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBreaker("website", BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     time.Minute,
		Now:              clock.Now,
	})
	return b, clock
}

func call(b *Breaker, err error) error {
	_, got := Call(context.Background(), b, func(context.Context) (int, error) { return 1, err })
	return got
}

var errUnavailable = NewTransientError(eris.New("service unavailable"), 503)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := testBreaker(3)

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, call(b, errUnavailable), errUnavailable)
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 2, b.Failures())

	require.Error(t, call(b, errUnavailable))
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	_, err := Call(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Contains(t, err.Error(), "website")
	assert.False(t, called)
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b, _ := testBreaker(2)
	notFound := NewPermanentError(eris.New("http 404"))

	for i := 0; i < 5; i++ {
		require.Error(t, call(b, notFound))
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := testBreaker(3)

	require.Error(t, call(b, errUnavailable))
	require.Error(t, call(b, errUnavailable))
	require.NoError(t, call(b, nil))
	require.Error(t, call(b, errUnavailable))

	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestBreaker_ProbeClosesAfterReset(t *testing.T) {
	b, clock := testBreaker(1)

	require.Error(t, call(b, errUnavailable))
	assert.Equal(t, BreakerOpen, b.State())

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, call(b, nil), ErrBreakerOpen)

	clock.advance(30 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())
	require.NoError(t, call(b, nil))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := testBreaker(1)

	require.Error(t, call(b, errUnavailable))
	clock.advance(time.Minute)

	require.ErrorIs(t, call(b, errUnavailable), errUnavailable)
	assert.Equal(t, BreakerOpen, b.State())

	// The reset timeout restarts from the failed probe.
	clock.advance(59 * time.Second)
	assert.ErrorIs(t, call(b, nil), ErrBreakerOpen)
}

func TestBreaker_CustomShouldTrip(t *testing.T) {
	b := NewBreaker("hunter", BreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(error) bool { return true },
	})
	require.Error(t, call(b, eris.New("anything")))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerFromSettings(t *testing.T) {
	cfg := BreakerFromSettings(0, 0)
	assert.Equal(t, DefaultBreakerConfig(), cfg)

	cfg = BreakerFromSettings(3, 120)
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.ResetTimeout)
}

func TestBreakers_PerService(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	assert.Same(t, r.For("website"), r.For("website"))
	require.Error(t, call(r.For("website"), errUnavailable))
	require.NoError(t, call(r.For("facebook"), nil))

	assert.Equal(t, map[string]BreakerState{
		"website":  BreakerOpen,
		"facebook": BreakerClosed,
	}, r.States())
}

func TestBreakers_ConcurrentFor(t *testing.T) {
	r := NewBreakers(DefaultBreakerConfig())
	var wg sync.WaitGroup
	got := make([]*Breaker, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.For("hunter")
		}(i)
	}
	wg.Wait()
	for _, b := range got {
		assert.Same(t, got[0], b)
	}
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
