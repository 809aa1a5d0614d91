package rest

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries        = 3
	defaultRequestsPerSecond = 50
	workerQueueDepth         = 64
)

type result struct {
	res *Response
	err error
}

type pending struct {
	ctx  context.Context
	req  *Request
	done chan result
}

type QueueOptions struct {
	MaxRetries        int
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Queue serializes requests per route key and gates every send on the
// shared global quota. One worker goroutine per active route key; a
// worker waiting on its bucket's reset never blocks other routes.
type Queue struct {
	mu      sync.Mutex
	doer    Doer
	buckets map[string]*bucket
	workers map[string]chan *pending

	pacer *rate.Limiter

	globalMu      sync.Mutex
	globalResetAt time.Time

	maxRetries int
	now        func() time.Time
	log        *slog.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

func NewQueue(doer Doer, opts QueueOptions) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		doer:       doer,
		buckets:    make(map[string]*bucket),
		workers:    make(map[string]chan *pending),
		pacer:      rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)),
		maxRetries: opts.MaxRetries,
		now:        time.Now,
		log:        opts.Logger,
		quit:       make(chan struct{}),
	}
}

// Submit hands the request to its route's worker and blocks until it has
// been answered, failed, or ctx is cancelled. Requests for one route key
// are sent in submission order.
func (q *Queue) Submit(ctx context.Context, req *Request) (*Response, error) {
	p := &pending{ctx: ctx, req: req, done: make(chan result, 1)}
	ch := q.workerFor(req.RouteKey)
	select {
	case ch <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.quit:
		return nil, ErrQueueClosed
	}
	select {
	case r := <-p.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.quit:
		return nil, ErrQueueClosed
	}
}

// Close stops all workers. In-flight requests fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.quitOnce.Do(func() {
		close(q.quit)
	})
}

func (q *Queue) workerFor(routeKey string) chan *pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.workers[routeKey]
	if !ok {
		ch = make(chan *pending, workerQueueDepth)
		q.workers[routeKey] = ch
		go q.work(q.bucketLocked(routeKey), ch)
	}
	return ch
}

func (q *Queue) bucketLocked(routeKey string) *bucket {
	b, ok := q.buckets[routeKey]
	if !ok {
		b = newBucket(routeKey)
		q.buckets[routeKey] = b
	}
	return b
}

func (q *Queue) work(b *bucket, ch chan *pending) {
	for {
		select {
		case <-q.quit:
			return
		case p := <-ch:
			res, err := q.send(b, p)
			p.done <- result{res: res, err: err}
		}
	}
}

func (q *Queue) send(b *bucket, p *pending) (*Response, error) {
	for attempt := 1; ; attempt++ {
		// Route bucket first, then the global gate.
		if err := q.sleep(p.ctx, b.delay(q.now())); err != nil {
			return nil, err
		}
		if err := q.sleep(p.ctx, q.globalDelay()); err != nil {
			return nil, err
		}
		if err := q.pacer.Wait(p.ctx); err != nil {
			return nil, err
		}

		res, err := q.doer.Do(p.ctx, p.req)
		if err != nil {
			// Transport errors are not retried: a non-idempotent request
			// must never be silently duplicated.
			return nil, err
		}
		b.update(res.RateLimit, q.now())

		if res.Status != http.StatusTooManyRequests {
			return res, nil
		}
		if res.RateLimit.Global {
			q.setGlobalReset(res.RateLimit.RetryAfter)
		}
		if attempt >= q.maxRetries {
			q.log.Warn("request throttled past retry budget",
				"route_key", p.req.RouteKey, "attempts", attempt)
			return res, ErrThrottlingExhausted
		}
		q.log.Info("request throttled, retrying",
			"route_key", p.req.RouteKey,
			"retry_after", res.RateLimit.RetryAfter,
			"global", res.RateLimit.Global)
		if err := q.sleep(p.ctx, res.RateLimit.RetryAfter); err != nil {
			return nil, err
		}
	}
}

func (q *Queue) globalDelay() time.Duration {
	q.globalMu.Lock()
	defer q.globalMu.Unlock()
	if d := q.globalResetAt.Sub(q.now()); d > 0 {
		return d
	}
	return 0
}

func (q *Queue) setGlobalReset(after time.Duration) {
	if after <= 0 {
		return
	}
	q.globalMu.Lock()
	defer q.globalMu.Unlock()
	until := q.now().Add(after)
	if until.After(q.globalResetAt) {
		q.globalResetAt = until
	}
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		return ErrQueueClosed
	}
}
