package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternbot/tern/src/cache"
	"github.com/ternbot/tern/src/structs"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(cache.NewCache(cache.Options{Logger: logger}), logger)
}

func event(name string) *structs.RawEvent {
	return &structs.RawEvent{Op: 0, T: name, D: []byte(`{}`)}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	d := testDispatcher(t)
	var mu sync.Mutex
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestWildcardRunsBeforeTyped(t *testing.T) {
	d := testDispatcher(t)
	var mu sync.Mutex
	var order []string
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		order = append(order, "typed")
		mu.Unlock()
		return nil
	})
	d.Register(EventNameAll, func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		order = append(order, "wildcard")
		mu.Unlock()
		return nil
	})
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Wait()
	assert.Equal(t, []string{"wildcard", "typed"}, order)
}

func TestWildcardReceivesEveryType(t *testing.T) {
	d := testDispatcher(t)
	var mu sync.Mutex
	seen := 0
	d.Register(EventNameAll, func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})
	d.Dispatch(context.Background(), event("A"))
	d.Dispatch(context.Background(), event("B"))
	d.Wait()
	assert.Equal(t, 2, seen)
}

func TestFailingHandlerIsIsolated(t *testing.T) {
	d := testDispatcher(t)
	boom := errors.New("boom")
	var mu sync.Mutex
	secondRan := false
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		return boom
	})
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		secondRan = true
		mu.Unlock()
		return nil
	})
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Wait()

	assert.True(t, secondRan, "a failing handler must not block the next one")
	select {
	case he := <-d.Errors():
		assert.Equal(t, "MESSAGE_CREATE", he.EventType)
		assert.ErrorIs(t, he.Err, boom)
	case <-time.After(time.Second):
		t.Fatal("expected a handler error report")
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	d := testDispatcher(t)
	var mu sync.Mutex
	secondRan := false
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		panic("kaboom")
	})
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		secondRan = true
		mu.Unlock()
		return nil
	})
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Wait()

	assert.True(t, secondRan)
	select {
	case he := <-d.Errors():
		assert.Contains(t, he.Err.Error(), "kaboom")
	case <-time.After(time.Second):
		t.Fatal("expected a handler error report")
	}
}

func TestFailureDoesNotBlockNextEvent(t *testing.T) {
	d := testDispatcher(t)
	var mu sync.Mutex
	calls := 0
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("always fails")
	})
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Wait()
	assert.Equal(t, 2, calls)
}

func TestUnregister(t *testing.T) {
	d := testDispatcher(t)
	var mu sync.Mutex
	calls := 0
	reg := d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	d.Unregister(reg)
	d.Dispatch(context.Background(), event("MESSAGE_CREATE"))
	d.Wait()
	assert.Equal(t, 0, calls)
}

func TestHandlerReceivesPayloadAndCache(t *testing.T) {
	d := testDispatcher(t)
	got := make(chan *structs.RawEvent, 1)
	d.Register("MESSAGE_CREATE", func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		require.NotNil(t, c)
		got <- evt
		return nil
	})
	evt := &structs.RawEvent{Op: 0, T: "MESSAGE_CREATE", D: []byte(`{"id":"m1"}`)}
	d.Dispatch(context.Background(), evt)
	d.Wait()
	select {
	case received := <-got:
		assert.JSONEq(t, `{"id":"m1"}`, string(received.D))
	default:
		t.Fatal("handler was not invoked")
	}
}
