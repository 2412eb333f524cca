package caller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/world-in-progress/canopy/config"
	"github.com/world-in-progress/canopy/core/fault"
)

func testConfig(baseURL string) config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.Token = "test-token"
	cfg.BaseURL = baseURL
	cfg.MinSendInterval = 0
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestDispatcher(t *testing.T, cfg config.ClientConfig) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(cfg)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

// pagedHandler serves total items split into pages of perPage, Canvas style.
func pagedHandler(total, perPage int, advertiseLast bool, wrapper string, hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		page := 1
		if p := r.URL.Query().Get("page"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		pages := (total + perPage - 1) / perPage

		link := func(p int, rel string) string {
			return fmt.Sprintf(`<http://%s%s?page=%d&per_page=%d>; rel="%s"`, r.Host, r.URL.Path, p, perPage, rel)
		}
		parts := []string{link(page, "current"), link(1, "first")}
		if page < pages {
			parts = append(parts, link(page+1, "next"))
		}
		if advertiseLast {
			parts = append(parts, link(pages, "last"))
		}
		w.Header().Set("Link", strings.Join(parts, ","))
		w.Header().Set(RateLimitHeader, "650.5")

		items := make([]any, 0, perPage)
		for i := (page - 1) * perPage; i < page*perPage && i < total; i++ {
			items = append(items, map[string]any{"id": i})
		}
		var body any = items
		if wrapper != "" {
			body = map[string]any{wrapper: items}
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}

func itemIDs(t *testing.T, body any) []int {
	t.Helper()
	items, ok := body.([]any)
	require.True(t, ok, "body is %T", body)
	ids := make([]int, 0, len(items))
	for _, item := range items {
		n, err := item.(map[string]any)["id"].(json.Number).Int64()
		require.NoError(t, err)
		ids = append(ids, int(n))
	}
	return ids
}

func TestExecuteRequiresToken(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Token = ""
	d := newTestDispatcher(t, cfg)

	_, err := d.Execute(context.Background(), Get("/api/v1/courses/1", nil))
	assert.True(t, fault.IsConfig(err))
}

func TestExecuteSendsAuthorizedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/courses/7/pages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"wiki_page": map[string]any{"title": "T"}}, body)

		w.Header().Set(RateLimitHeader, "512.25")
		_, _ = io.WriteString(w, `{"page_id": 12345678901234567, "title": "T"}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	body, err := d.Execute(context.Background(), Post("/api/v1/courses/7/pages", map[string]any{
		"wiki_page": map[string]any{"title": "T"},
	}))
	require.NoError(t, err)

	obj := body.(map[string]any)
	assert.Equal(t, json.Number("12345678901234567"), obj["page_id"])
	assert.Equal(t, 512.25, d.Remaining())
}

func TestExecuteAttributesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":[{"message":"The specified resource does not exist."}]}`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	_, err := d.Execute(context.Background(), Put("/api/v1/courses/1/pages/9", map[string]any{"title": "x"}))
	require.Error(t, err)

	var apiErr *fault.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.MethodPut, apiErr.Method)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.URL, "/api/v1/courses/1/pages/9")
	assert.JSONEq(t, `{"title":"x"}`, string(apiErr.RequestBody))
	assert.Contains(t, string(apiErr.ResponseBody), "does not exist")
	assert.True(t, fault.IsNotFound(err))
}

func TestExecuteAcceptsNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	body, err := d.Execute(context.Background(), Get("/api/v1/courses/1", nil))
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestExecuteReportsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newTestDispatcher(t, testConfig(url))
	_, err := d.Execute(context.Background(), Get("/api/v1/courses/1", nil))
	require.Error(t, err)
	assert.True(t, fault.IsTransport(err))
}

func TestPaginationWithAdvertisedLastPage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(pagedHandler(205, 100, true, "", &hits))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	body, err := d.Execute(context.Background(), Get("/api/v1/courses/1/pages", nil))
	require.NoError(t, err)

	ids := itemIDs(t, body)
	require.Len(t, ids, 205)
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 650.5, d.Remaining())
}

func TestPaginationFollowsNextWithoutLastPage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(pagedHandler(25, 10, false, "", &hits))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	body, err := d.Execute(context.Background(), Get("/api/v1/courses/1/assignments", nil))
	require.NoError(t, err)

	ids := itemIDs(t, body)
	require.Len(t, ids, 25)
	for i, id := range ids {
		assert.Equal(t, i, id)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestPaginationIgnoresImpossibleLastPage(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		link := func(p int, rel string) string {
			return fmt.Sprintf(`<http://%s%s?page=%d>; rel="%s"`, r.Host, r.URL.Path, p, rel)
		}
		if r.URL.Query().Get("page") == "2" {
			w.Header().Set("Link", link(2, "current")+","+link(1, "first"))
			_, _ = io.WriteString(w, `[{"id": 1}]`)
			return
		}
		w.Header().Set("Link", strings.Join([]string{link(1, "current"), link(1, "first"), link(2, "next"), link(0, "last")}, ","))
		_, _ = io.WriteString(w, `[{"id": 0}]`)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	body, err := d.Execute(context.Background(), Get("/api/v1/courses/1/modules", nil))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, itemIDs(t, body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestPaginationRewrapsSingleKeyBodies(t *testing.T) {
	srv := httptest.NewServer(pagedHandler(15, 10, true, "quiz_submissions", nil))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	body, err := d.Execute(context.Background(), Get("/api/v1/courses/1/quizzes/2/submissions", nil))
	require.NoError(t, err)

	obj, ok := body.(map[string]any)
	require.True(t, ok)
	assert.Len(t, obj["quiz_submissions"], 15)
}

func TestPaginationPageFailureFailsTheCall(t *testing.T) {
	inner := pagedHandler(30, 10, true, "", nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "3" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		inner(w, r)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, testConfig(srv.URL))
	_, err := d.Execute(context.Background(), Get("/api/v1/courses/1/pages", nil))
	require.Error(t, err)
	assert.True(t, fault.IsAPIError(err))
}

func TestQueryIsMerged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"body", "rubric"}, r.URL.Query()["include[]"])
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	query, err := EncodeQuery(map[string]any{"include": []any{"body", "rubric"}, "per_page": 100})
	require.NoError(t, err)

	d := newTestDispatcher(t, testConfig(srv.URL))
	_, err = d.Execute(context.Background(), Get("/api/v1/courses/1/pages", query))
	require.NoError(t, err)
}

func TestConcurrencyIsBounded(t *testing.T) {
	var running, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Concurrency = 2
	d := newTestDispatcher(t, cfg)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Execute(context.Background(), Get(fmt.Sprintf("/api/v1/courses/%d", i), nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBackpressureHoldsCallersAtTheCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(15 * time.Millisecond)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Concurrency = 1
	cfg.MaxQueue = 2
	cfg.AdmissionPollInterval = 2 * time.Millisecond
	d := newTestDispatcher(t, cfg)

	var peak atomic.Int64
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := d.admitted.Load(); n > peak.Load() {
				peak.Store(n)
			}
			assert.LessOrEqual(t, d.Pending(), cfg.MaxQueue+1)
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Execute(context.Background(), Get(fmt.Sprintf("/api/v1/courses/%d", i), nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(stop)
	<-sampled

	assert.LessOrEqual(t, peak.Load(), int64(cfg.MaxQueue+1))
	assert.Zero(t, d.admitted.Load())
}

func TestAdmissionReservesSlotsAtomically(t *testing.T) {
	cfg := testConfig("http://canvas.invalid")
	cfg.MaxQueue = 3
	cfg.AdmissionPollInterval = time.Millisecond
	d := newTestDispatcher(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// nobody releases, so exactly MaxQueue+1 callers may get through
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.admit(ctx); err == nil {
				admitted.Add(1)
			} else {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(cfg.MaxQueue+1), admitted.Load())
	assert.Equal(t, int64(cfg.MaxQueue+1), d.admitted.Load())
}

func TestMinSendIntervalSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MinSendInterval = 30 * time.Millisecond
	d := newTestDispatcher(t, cfg)

	start := time.Now()
	for range 4 {
		_, err := d.Execute(context.Background(), Get("/api/v1/courses/1", nil))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 85*time.Millisecond)
}

func TestRateLimitStallPollsUntilRecovered(t *testing.T) {
	var checks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			assert.Equal(t, "/api/v1/users/self", r.URL.Path)
			if checks.Add(1) < 3 {
				w.Header().Set(RateLimitHeader, "5")
			} else {
				w.Header().Set(RateLimitHeader, "600")
			}
			return
		}
		w.Header().Set(RateLimitHeader, "599")
		_, _ = io.WriteString(w, `{"id": 1}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.InitialRateLimit = 1
	cfg.RateLimitBuffer = 100
	cfg.CheckStatusInterval = 10 * time.Millisecond
	d := newTestDispatcher(t, cfg)

	_, err := d.Execute(context.Background(), Get("/api/v1/courses/1", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(3), checks.Load())
	assert.Equal(t, 599.0, d.Remaining())
}

func TestRateLimitStatusWithoutHeaderIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.InitialRateLimit = 0
	cfg.RateLimitBuffer = 100
	cfg.CheckStatusInterval = 5 * time.Millisecond
	d := newTestDispatcher(t, cfg)

	_, err := d.Execute(context.Background(), Get("/api/v1/courses/1", nil))
	assert.ErrorIs(t, err, ErrNoRateLimitHeader)
}

func TestExecuteHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := newTestDispatcher(t, testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Execute(ctx, Get("/api/v1/courses/1", nil))
	require.Error(t, err)
}
