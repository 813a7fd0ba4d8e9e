package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(clock *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("twilio", Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)

	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	require.Equal(t, StateClosed, cb.GetState())
	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
	require.False(t, called)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })

	clock = clock.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return errBoom })

	clock = clock.Add(2 * time.Minute)
	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, cb.GetState())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&clock)
	_ = cb.Execute(func() error { return errBoom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, StateClosed, cb.GetState())
	require.Equal(t, "twilio", cb.Name())
}
