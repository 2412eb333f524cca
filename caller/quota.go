package caller

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/world-in-progress/canopy/core/logger"
)

// RateLimitHeader carries the remaining request budget on every Canvas response.
const RateLimitHeader = "X-Rate-Limit-Remaining"

// ErrNoRateLimitHeader is returned when a status check cannot tell the remaining budget.
var ErrNoRateLimitHeader = errors.New("status response has no " + RateLimitHeader + " header")

type (
	// statusFunc asks the remote for the current budget. ok is false when the
	// response did not carry the header.
	statusFunc func(ctx context.Context) (remaining float64, ok bool, err error)

	// quotaGate holds every outbound call while the cached budget is below the
	// buffer. One caller polls the status endpoint; the rest queue on sem, so the
	// whole dispatcher stalls rather than a single request.
	quotaGate struct {
		remaining atomic.Uint64
		buffer    float64
		interval  time.Duration
		status    statusFunc

		// sem is a one-slot semaphore guarding the stall and lastWarn.
		sem      chan struct{}
		lastWarn time.Time
	}
)

func newQuotaGate(initial, buffer float64, interval time.Duration, status statusFunc) *quotaGate {
	q := &quotaGate{
		buffer:   buffer,
		interval: interval,
		status:   status,
		sem:      make(chan struct{}, 1),
	}
	q.store(initial)
	return q
}

func (q *quotaGate) load() float64 {
	return math.Float64frombits(q.remaining.Load())
}

func (q *quotaGate) store(v float64) {
	q.remaining.Store(math.Float64bits(v))
}

// observe records the budget advertised by a response. Responses without the
// header leave the cached value alone.
func (q *quotaGate) observe(header http.Header) {
	if v, ok := parseRemaining(header); ok {
		q.store(v)
	}
}

func (q *quotaGate) wait(ctx context.Context) error {
	if q.buffer <= 0 || q.load() >= q.buffer {
		return nil
	}

	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-q.sem }()

	// someone else may have recovered the budget while we queued
	if q.load() >= q.buffer {
		return nil
	}

	ticker := backoff.NewTicker(backoff.WithContext(backoff.NewConstantBackOff(q.interval), ctx))
	defer ticker.Stop()

	for {
		q.warn()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticker.C:
			if !ok {
				return ctx.Err()
			}
		}

		remaining, ok, err := q.status(ctx)
		if err != nil {
			logger.Warn("rate limit status check failed, keeping cached value %.1f: %v", q.load(), err)
			continue
		}
		if !ok {
			return ErrNoRateLimitHeader
		}
		q.store(remaining)
		if remaining >= q.buffer {
			logger.Info("rate limit remaining (%.1f) recovered above buffer (%.1f)", remaining, q.buffer)
			return nil
		}
	}
}

// warn logs the stall at most once per polling interval.
func (q *quotaGate) warn() {
	if time.Since(q.lastWarn) < q.interval {
		return
	}
	q.lastWarn = time.Now()
	logger.Warn("rate limit remaining (%.1f) is below buffer (%.1f), waiting", q.load(), q.buffer)
}

func parseRemaining(header http.Header) (float64, bool) {
	raw := header.Get(RateLimitHeader)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
