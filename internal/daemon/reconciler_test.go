package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerRecoversFromPanic(t *testing.T) {
	calls := 0
	r := NewReconciler(ReconcilerConfig{}, func(context.Context) (int, int, error) {
		calls++
		panic("boom")
	})
	assert.NotPanics(t, func() { r.ReconcileNow(context.Background()) })
	assert.Equal(t, 1, calls)
}

func TestReconcilerSweepError(t *testing.T) {
	r := NewReconciler(ReconcilerConfig{}, func(context.Context) (int, int, error) {
		return 0, 0, errors.New("list failed")
	})
	assert.NotPanics(t, func() { r.ReconcileNow(context.Background()) })
}

func TestReconcilerRunsPeriodically(t *testing.T) {
	var calls atomic.Int32
	r := NewReconciler(ReconcilerConfig{Interval: 5 * time.Millisecond}, func(context.Context) (int, int, error) {
		calls.Add(1)
		return 1, 0, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestReconcilerIntervalZeroDisablesAndResetEnables(t *testing.T) {
	var calls atomic.Int32
	r := NewReconciler(ReconcilerConfig{}, func(context.Context) (int, int, error) {
		calls.Add(1)
		return 0, 0, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())

	r.SetInterval(2 * time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, time.Millisecond)
}
