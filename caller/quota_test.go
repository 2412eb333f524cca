package caller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaGateDoesNotStallAtTheBuffer(t *testing.T) {
	var calls atomic.Int32
	q := newQuotaGate(50, 50, time.Millisecond, func(context.Context) (float64, bool, error) {
		calls.Add(1)
		return 0, false, nil
	})

	require.NoError(t, q.wait(context.Background()))
	assert.Zero(t, calls.Load())
}

func TestQueuedCallerHonorsContextWhileAnotherStalls(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	q := newQuotaGate(0, 50, time.Millisecond, func(ctx context.Context) (float64, bool, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
			return 100, true, nil
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	})

	stalled := make(chan error, 1)
	go func() { stalled <- q.wait(context.Background()) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := q.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	require.NoError(t, <-stalled)
	require.NoError(t, q.wait(context.Background()))
}
