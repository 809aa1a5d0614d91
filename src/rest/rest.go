package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const defaultBaseURL = "https://discord.com/api/v10"

var (
	// ErrThrottlingExhausted is returned when a request keeps getting
	// throttled past the retry budget. It fails that request only.
	ErrThrottlingExhausted = errors.New("throttling retries exhausted")
	ErrQueueClosed         = errors.New("request queue is closed")
)

// Request is a REST call routed through the rate-limited queue. RouteKey
// groups requests that share a rate-limit bucket; requests with the same
// key are sent strictly in submission order.
type Request struct {
	Method   string
	RouteKey string
	Path     string
	Body     []byte
}

// RateLimit carries the throttling metadata parsed from a response.
type RateLimit struct {
	Remaining  int
	Limit      int
	ResetAfter time.Duration
	RetryAfter time.Duration
	Global     bool
}

type Response struct {
	Status    int
	Body      []byte
	RateLimit RateLimit
}

// Doer sends a single prepared request over the wire. The REST client is
// the production Doer; tests script their own.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// MaxRetries bounds automatic retries on throttling responses.
	MaxRetries int
	// RequestsPerSecond paces the global gate shared by all routes.
	RequestsPerSecond float64
}

// REST issues requests against the HTTP API. Every call goes through the
// rate-limited queue; Do is the raw transport used by the queue workers.
type REST struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	queue      *Queue
	log        *slog.Logger
}

func NewREST(botToken string, opts Options) *REST {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &REST{
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		botToken:   botToken,
		log:        opts.Logger,
	}
	r.queue = NewQueue(r, QueueOptions{
		MaxRetries:        opts.MaxRetries,
		RequestsPerSecond: opts.RequestsPerSecond,
		Logger:            opts.Logger,
	})
	return r
}

// Submit enqueues the request on its route's bucket and blocks until a
// response arrives or ctx is cancelled.
func (r *REST) Submit(ctx context.Context, req *Request) (*Response, error) {
	return r.queue.Submit(ctx, req)
}

func (r *REST) Close() {
	r.queue.Close()
}

// Do sends the request immediately, bypassing the queue. Queue workers
// are the only intended caller.
func (r *REST) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, r.baseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	// Mandatory headers.
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bot %s", r.botToken))

	httpRes, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRes.Body.Close()
	resBody, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:    httpRes.StatusCode,
		Body:      resBody,
		RateLimit: parseRateLimit(httpRes.Header),
	}, nil
}

// parseRateLimit reads the rate-limit response headers.
// https://discord.com/developers/docs/topics/rate-limits
func parseRateLimit(h http.Header) RateLimit {
	rl := RateLimit{Remaining: -1, Limit: -1}
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rl.Limit = n
		}
	}
	if v := h.Get("X-RateLimit-Reset-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			rl.ResetAfter = time.Duration(secs * float64(time.Second))
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			rl.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	rl.Global = h.Get("X-RateLimit-Global") == "true"
	return rl
}
