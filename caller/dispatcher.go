package caller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/world-in-progress/canopy/config"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/core/threading"
	"golang.org/x/time/rate"
)

const defaultAdmissionPoll = 500 * time.Millisecond

type (
	// Dispatcher is the single gateway to the remote API. It bounds concurrency,
	// applies backpressure, keeps a minimum spacing between sends, stalls while
	// the remote budget is low, and stitches paginated listings together.
	// Nothing is retried.
	Dispatcher struct {
		cfg     config.ClientConfig
		root    *url.URL
		client  *http.Client
		pool    *threading.WorkerPool
		spacing *rate.Limiter
		quota   *quotaGate

		// calls holding an admission slot, reserved before they reach the pool
		admitted atomic.Int64
	}

	// Option customizes a Dispatcher at construction.
	Option func(d *Dispatcher)

	response struct {
		status int
		header http.Header
		body   any
	}
)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// NewDispatcher builds a dispatcher for cfg. A missing token is accepted here
// and reported by the first Execute.
func NewDispatcher(cfg config.ClientConfig, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &fault.ConfigError{Reason: err.Error()}
	}

	root, err := url.Parse(cfg.Root())
	if err != nil {
		return nil, fault.Config("base_url", "%v", err)
	}

	limit := rate.Inf
	if cfg.MinSendInterval > 0 {
		limit = rate.Every(cfg.MinSendInterval)
	}

	d := &Dispatcher{
		cfg:     cfg,
		root:    root,
		client:  &http.Client{Timeout: cfg.Timeout},
		pool:    threading.NewWorkerPool(cfg.Concurrency, 0, 0),
		spacing: rate.NewLimiter(limit, 1),
	}
	d.quota = newQuotaGate(cfg.InitialRateLimit, cfg.RateLimitBuffer, cfg.CheckStatusInterval, d.checkStatus)

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Execute performs one logical call and returns the decoded JSON body. For a
// GET whose response is the first of several pages, all pages are fetched and
// concatenated in page order.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (any, error) {
	if d.cfg.Token == "" {
		return nil, fault.Config("token", "Canvas API token is not set")
	}

	resp, err := d.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet {
		return resp.body, nil
	}

	bodies, err := d.paginate(ctx, resp)
	if err != nil {
		return nil, err
	}
	return concatPages(bodies)
}

// Remaining is the last remote budget the dispatcher saw.
func (d *Dispatcher) Remaining() float64 {
	return d.quota.load()
}

// Pending counts calls queued in or running on the worker pool.
func (d *Dispatcher) Pending() int {
	return d.pool.InFlight()
}

// Close releases the worker goroutines. Calls made afterwards fail.
func (d *Dispatcher) Close() {
	d.pool.Close()
}

// roundTrip sends exactly one HTTP request through the queue.
func (d *Dispatcher) roundTrip(ctx context.Context, req Request) (*response, error) {
	release, err := d.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	httpReq, reqBody, err := d.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	task := newRequestTask(ctx, d, httpReq, reqBody)
	cancel, err := d.pool.SubmitCtx(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to queue %s %s: %w", req.Method, httpReq.URL, err)
	}

	select {
	case out := <-task.result:
		return out.resp, out.err
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// admit reserves an admission slot, holding the caller while more than
// MaxQueue calls already hold one. The check and the reservation are a single
// compare-and-swap, so concurrent callers cannot overshoot the ceiling.
func (d *Dispatcher) admit(ctx context.Context) (release func(), err error) {
	release = func() { d.admitted.Add(-1) }
	if d.cfg.MaxQueue <= 0 {
		d.admitted.Add(1)
		return release, nil
	}

	poll := d.cfg.AdmissionPollInterval
	if poll <= 0 {
		poll = defaultAdmissionPoll
	}
	ceiling := int64(d.cfg.MaxQueue)
	for {
		n := d.admitted.Load()
		if n <= ceiling {
			if d.admitted.CompareAndSwap(n, n+1) {
				return release, nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (d *Dispatcher) newRequest(ctx context.Context, req Request) (*http.Request, []byte, error) {
	target, err := d.resolve(req.Path, req.Query)
	if err != nil {
		return nil, nil, err
	}

	var reqBody []byte
	var bodyReader io.Reader
	if req.Body != nil {
		if reqBody, err = json.Marshal(req.Body); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body for %s %s: %w", req.Method, target, err)
		}
		bodyReader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	d.authorize(httpReq)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, reqBody, nil
}

func (d *Dispatcher) resolve(path string, query url.Values) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	target := d.root.ResolveReference(ref)
	if len(query) > 0 {
		q := target.Query()
		for key, values := range query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target, nil
}

func (d *Dispatcher) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
}

// checkStatus is the lightweight request used to refresh the budget while stalled.
func (d *Dispatcher) checkStatus(ctx context.Context) (float64, bool, error) {
	target, err := d.resolve(d.cfg.StatusPath, nil)
	if err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return 0, false, err
	}
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false, &fault.TransportError{Method: http.MethodHead, URL: target.String(), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	remaining, ok := parseRemaining(resp.Header)
	return remaining, ok, nil
}
