package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ternbot/tern/src/cache"
	"github.com/ternbot/tern/src/structs"
)

// EventNameAll receives every dispatched event regardless of type,
// before the type-specific handlers run.
const EventNameAll = "*"

// Handler is invoked with the decoded event and a reference to the
// entity cache. Cache misses are normal; handlers fall back to REST.
type Handler func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error

// Registration is the handle returned by Register and accepted by
// Unregister.
type Registration struct {
	ID        string
	EventType string
	order     int
	fn        Handler
}

// HandlerError reports a handler that returned an error or panicked.
// Failures are isolated: the remaining handlers for the event still run.
type HandlerError struct {
	EventType      string
	RegistrationID string
	Err            error
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*Registration
	order    int

	cache *cache.Cache
	errs  chan HandlerError
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewDispatcher(c *cache.Cache, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]*Registration),
		cache:    c,
		errs:     make(chan HandlerError, 64),
		log:      log,
	}
}

// Register adds a handler for the given event type. Handlers for the
// same type run in registration order.
func (d *Dispatcher) Register(eventType string, fn Handler) *Registration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order++
	reg := &Registration{
		ID:        uuid.NewString(),
		EventType: eventType,
		order:     d.order,
		fn:        fn,
	}
	d.handlers[eventType] = append(d.handlers[eventType], reg)
	return reg
}

func (d *Dispatcher) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[reg.EventType]
	for i, r := range regs {
		if r.ID == reg.ID {
			d.handlers[reg.EventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Errors exposes handler failures. The channel is buffered; when nobody
// drains it, overflow is logged instead of blocking dispatch.
func (d *Dispatcher) Errors() <-chan HandlerError {
	return d.errs
}

// Dispatch routes the event to wildcard handlers, then to the handlers
// registered for its type, in registration order. The invocations run
// on their own goroutine so a slow handler never stalls the caller's
// receive loop; ordering is per event, not across events.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *structs.RawEvent) {
	d.mu.RLock()
	regs := make([]*Registration, 0, len(d.handlers[EventNameAll])+len(d.handlers[evt.T]))
	regs = append(regs, d.handlers[EventNameAll]...)
	regs = append(regs, d.handlers[evt.T]...)
	d.mu.RUnlock()
	if len(regs) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, reg := range regs {
			d.invoke(ctx, reg, evt)
		}
	}()
}

// Wait blocks until every in-flight handler task has completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) invoke(ctx context.Context, reg *Registration, evt *structs.RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.report(HandlerError{
				EventType:      evt.T,
				RegistrationID: reg.ID,
				Err:            fmt.Errorf("handler panicked: %v", r),
			})
		}
	}()
	if err := reg.fn(ctx, evt, d.cache); err != nil {
		d.report(HandlerError{
			EventType:      evt.T,
			RegistrationID: reg.ID,
			Err:            err,
		})
	}
}

func (d *Dispatcher) report(he HandlerError) {
	select {
	case d.errs <- he:
	default:
		d.log.Error("handler error dropped, error channel is full",
			"event_name", he.EventType, "error", he.Err)
	}
}
