package caller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/core/logger"
	"github.com/world-in-progress/canopy/core/threading"
)

type (
	// requestTask is one HTTP exchange executed on a dispatcher worker.
	requestTask struct {
		threading.BaseTask
		ctx     context.Context
		d       *Dispatcher
		req     *http.Request
		reqBody []byte
		result  chan taskResult
	}

	taskResult struct {
		resp *response
		err  error
	}
)

func newRequestTask(ctx context.Context, d *Dispatcher, req *http.Request, reqBody []byte) *requestTask {
	return &requestTask{
		BaseTask: threading.BaseTask{ID: uuid.New().String()},
		ctx:      ctx,
		d:        d,
		req:      req,
		reqBody:  reqBody,
		result:   make(chan taskResult, 1),
	}
}

func (t *requestTask) Process() error {
	resp, err := t.send()
	t.result <- taskResult{resp: resp, err: err}
	return err
}

func (t *requestTask) send() (*response, error) {
	method, target := t.req.Method, t.req.URL.String()

	if err := t.d.quota.wait(t.ctx); err != nil {
		return nil, fmt.Errorf("%s %s: waiting for rate limit budget: %w", method, target, err)
	}
	if err := t.d.spacing.Wait(t.ctx); err != nil {
		return nil, fmt.Errorf("%s %s: waiting for send slot: %w", method, target, err)
	}

	start := time.Now()
	httpResp, err := t.d.client.Do(t.req)
	if err != nil {
		return nil, &fault.TransportError{Method: method, URL: target, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &fault.TransportError{Method: method, URL: target, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	t.d.quota.observe(httpResp.Header)

	logger.WithFields(map[string]any{
		"request_id": t.GetID(),
		"method":     method,
		"url":        target,
		"status":     httpResp.StatusCode,
		"elapsed":    time.Since(start).String(),
		"remaining":  t.d.quota.load(),
	}).Debug("canvas request")

	if !succeeded(httpResp.StatusCode) {
		return nil, &fault.APIError{
			Method:       method,
			URL:          target,
			StatusCode:   httpResp.StatusCode,
			RequestBody:  t.reqBody,
			ResponseBody: raw,
		}
	}

	body, err := decodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response of %s %s: %w", method, target, err)
	}

	return &response{
		status: httpResp.StatusCode,
		header: httpResp.Header,
		body:   body,
	}, nil
}

func succeeded(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusNotModified
}

// decodeBody keeps numbers as json.Number so large ids survive intact.
func decodeBody(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}
