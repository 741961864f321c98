package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cybernetic/internal/errs"
)

func failingFn(ctx context.Context) error { return errors.New("boom") }
func okFn(ctx context.Context) error       { return nil }

func TestBreaker_TripAndRecovery(t *testing.T) {
	b := newBreaker("downstream", Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		BaseBackoff:      50 * time.Millisecond,
		MaxBackoff:       time.Second,
		EMAAlpha:         0.3,
	}, nil)

	for i := 0; i < 3; i++ {
		err := b.Call(context.Background(), failingFn, time.Second)
		require.Error(t, err)
	}
	assert.Equal(t, Open, b.State())

	err := b.Call(context.Background(), okFn, time.Second)
	assert.ErrorIs(t, err, errs.ErrCircuitOpen)

	time.Sleep(70 * time.Millisecond)

	err = b.Call(context.Background(), okFn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, HalfOpen, b.State())

	err = b.Call(context.Background(), okFn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("downstream", Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		BaseBackoff:      20 * time.Millisecond,
		MaxBackoff:       time.Second,
		EMAAlpha:         0.3,
	}, nil)

	require.Error(t, b.Call(context.Background(), failingFn, time.Second))
	assert.Equal(t, Open, b.State())

	time.Sleep(30 * time.Millisecond)

	require.Error(t, b.Call(context.Background(), failingFn, time.Second))
	assert.Equal(t, Open, b.State(), "a failure while half-open must reopen the breaker")
}

func TestBreaker_PanicIsRecoveredAsFailure(t *testing.T) {
	b := newBreaker("downstream", DefaultConfig(), nil)
	err := b.Call(context.Background(), func(ctx context.Context) error {
		panic("unexpected")
	}, time.Second)
	assert.Error(t, err)
}

func TestBreaker_TimeoutIsRecordedAsFailure(t *testing.T) {
	b := newBreaker("downstream", Config{FailureThreshold: 1, SuccessThreshold: 1, BaseBackoff: time.Second, MaxBackoff: time.Second, EMAAlpha: 0.3}, nil)
	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, Open, b.State())
}

func TestBreaker_HealthScoreDecaysAndRecovers(t *testing.T) {
	b := newBreaker("x", DefaultConfig(), nil)
	assert.Equal(t, 1.0, b.HealthScore())

	_ = b.Call(context.Background(), failingFn, time.Second)
	assert.InDelta(t, 0.8, b.HealthScore(), 1e-9)

	_ = b.Call(context.Background(), okFn, time.Second)
	assert.InDelta(t, 0.9, b.HealthScore(), 1e-9)
}

func TestBreaker_AdjustThresholdClampsToBounds(t *testing.T) {
	b := newBreaker("x", Config{FailureThreshold: 5, SuccessThreshold: 2, BaseBackoff: time.Second, MaxBackoff: time.Minute, EMAAlpha: 1.0}, nil)
	b.AdjustThreshold(0.95, 0.0) // health_factor=1.2, suggested=6, alpha=1 -> threshold becomes 6
	assert.InDelta(t, 6.0, b.adaptiveThreshold, 1e-9)

	b.AdjustThreshold(0.95, 1.0) // suggested=0 -> clamped to floor 2
	assert.InDelta(t, 2.0, b.adaptiveThreshold, 1e-9)
}

func TestRegistry_PerNameIsolation(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil)
	a := r.Get("a")
	b := r.Get("b")
	assert.NotSame(t, a, b)
	assert.Same(t, a, r.Get("a"))
}
