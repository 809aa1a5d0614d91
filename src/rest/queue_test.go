package rest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	routeKey string
	path     string
	at       time.Time
}

// fakeDoer answers scripted responses and records every send.
type fakeDoer struct {
	mu      sync.Mutex
	scripts []func(req *Request) (*Response, error)
	calls   []call
	// block, when set, delays the matching route's sends.
	block map[string]time.Duration
}

func (d *fakeDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	d.mu.Lock()
	if delay, ok := d.block[req.RouteKey]; ok {
		d.mu.Unlock()
		time.Sleep(delay)
		d.mu.Lock()
	}
	d.calls = append(d.calls, call{routeKey: req.RouteKey, path: req.Path, at: time.Now()})
	var fn func(req *Request) (*Response, error)
	if len(d.scripts) > 0 {
		fn = d.scripts[0]
		d.scripts = d.scripts[1:]
	}
	d.mu.Unlock()
	if fn == nil {
		return &Response{Status: http.StatusOK}, nil
	}
	return fn(req)
}

func (d *fakeDoer) recorded() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]call, len(d.calls))
	copy(out, d.calls)
	return out
}

func ok(rl RateLimit) func(req *Request) (*Response, error) {
	return func(req *Request) (*Response, error) {
		return &Response{Status: http.StatusOK, RateLimit: rl}, nil
	}
}

func throttled(retryAfter time.Duration, global bool) func(req *Request) (*Response, error) {
	return func(req *Request) (*Response, error) {
		return &Response{
			Status:    http.StatusTooManyRequests,
			RateLimit: RateLimit{Remaining: 0, RetryAfter: retryAfter, Global: global},
		}, nil
	}
}

func testQueue(t *testing.T, doer Doer, maxRetries int) *Queue {
	t.Helper()
	q := NewQueue(doer, QueueOptions{
		MaxRetries:        maxRetries,
		RequestsPerSecond: 10000,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(q.Close)
	return q
}

func TestExhaustedBucketDelaysUntilReset(t *testing.T) {
	doer := &fakeDoer{scripts: []func(req *Request) (*Response, error){
		ok(RateLimit{Remaining: 0, Limit: 1, ResetAfter: 80 * time.Millisecond}),
		ok(RateLimit{Remaining: 1, Limit: 1}),
	}}
	q := testQueue(t, doer, 3)
	ctx := context.Background()

	_, err := q.Submit(ctx, &Request{Method: "GET", RouteKey: "r", Path: "/r"})
	require.NoError(t, err)
	_, err = q.Submit(ctx, &Request{Method: "GET", RouteKey: "r", Path: "/r"})
	require.NoError(t, err)

	calls := doer.recorded()
	require.Len(t, calls, 2)
	gap := calls[1].at.Sub(calls[0].at)
	assert.GreaterOrEqual(t, gap, 70*time.Millisecond,
		"second request must wait for the bucket reset, got gap %v", gap)
}

func TestSameRouteIsFIFO(t *testing.T) {
	doer := &fakeDoer{block: map[string]time.Duration{"a": 30 * time.Millisecond}}
	q := testQueue(t, doer, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	submit := func(routeKey, path string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(ctx, &Request{Method: "GET", RouteKey: routeKey, Path: path})
			assert.NoError(t, err)
		}()
		// Give the submission time to land in the worker queue so the
		// intended order is the actual submission order.
		time.Sleep(5 * time.Millisecond)
	}
	submit("a", "/a/1")
	submit("a", "/a/2")
	submit("b", "/b/1")
	wg.Wait()

	var aPaths []string
	bDone := time.Time{}
	for _, c := range doer.recorded() {
		if c.routeKey == "a" {
			aPaths = append(aPaths, c.path)
		} else {
			bDone = c.at
		}
	}
	assert.Equal(t, []string{"/a/1", "/a/2"}, aPaths, "same-route requests must be sent in submission order")
	assert.False(t, bDone.IsZero(), "independent route must proceed")
}

func TestThrottledRequestIsRetried(t *testing.T) {
	doer := &fakeDoer{scripts: []func(req *Request) (*Response, error){
		throttled(10*time.Millisecond, false),
		ok(RateLimit{Remaining: 4, Limit: 5}),
	}}
	q := testQueue(t, doer, 3)

	res, err := q.Submit(context.Background(), &Request{Method: "POST", RouteKey: "r", Path: "/r"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Len(t, doer.recorded(), 2)
}

func TestThrottlingRetriesExhausted(t *testing.T) {
	doer := &fakeDoer{scripts: []func(req *Request) (*Response, error){
		throttled(time.Millisecond, false),
		throttled(time.Millisecond, false),
	}}
	q := testQueue(t, doer, 2)

	_, err := q.Submit(context.Background(), &Request{Method: "POST", RouteKey: "r", Path: "/r"})
	assert.ErrorIs(t, err, ErrThrottlingExhausted)
	assert.Len(t, doer.recorded(), 2)
}

func TestTransportErrorIsNotRetried(t *testing.T) {
	reset := errors.New("connection reset")
	doer := &fakeDoer{scripts: []func(req *Request) (*Response, error){
		func(req *Request) (*Response, error) { return nil, reset },
	}}
	q := testQueue(t, doer, 3)

	_, err := q.Submit(context.Background(), &Request{Method: "POST", RouteKey: "r", Path: "/r"})
	assert.ErrorIs(t, err, reset)
	assert.Len(t, doer.recorded(), 1, "non-idempotent requests must never be duplicated on network errors")
}

func TestGlobalThrottleGatesOtherRoutes(t *testing.T) {
	doer := &fakeDoer{}
	q := testQueue(t, doer, 3)

	// A global throttling signal parks every route, not just the one
	// that tripped it.
	q.setGlobalReset(60 * time.Millisecond)

	start := time.Now()
	_, err := q.Submit(context.Background(), &Request{Method: "GET", RouteKey: "b", Path: "/b"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"a global throttle must gate every route")
}

func TestSubmitHonorsContextCancellation(t *testing.T) {
	doer := &fakeDoer{scripts: []func(req *Request) (*Response, error){
		ok(RateLimit{Remaining: 0, Limit: 1, ResetAfter: time.Hour}),
	}}
	q := testQueue(t, doer, 3)

	_, err := q.Submit(context.Background(), &Request{Method: "GET", RouteKey: "r", Path: "/r"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Submit(ctx, &Request{Method: "GET", RouteKey: "r", Path: "/r"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRateLimitHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "3")
	h.Set("X-RateLimit-Limit", "5")
	h.Set("X-RateLimit-Reset-After", "1.5")
	h.Set("Retry-After", "2")
	h.Set("X-RateLimit-Global", "true")

	rl := parseRateLimit(h)
	assert.Equal(t, 3, rl.Remaining)
	assert.Equal(t, 5, rl.Limit)
	assert.Equal(t, 1500*time.Millisecond, rl.ResetAfter)
	assert.Equal(t, 2*time.Second, rl.RetryAfter)
	assert.True(t, rl.Global)
}

func TestParseRateLimitMissingHeaders(t *testing.T) {
	rl := parseRateLimit(http.Header{})
	assert.Equal(t, -1, rl.Remaining)
	assert.Equal(t, -1, rl.Limit)
	assert.False(t, rl.Global)
}
