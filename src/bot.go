package src

import (
	"context"
	"log/slog"
	"time"

	"github.com/ternbot/tern/src/cache"
	"github.com/ternbot/tern/src/dispatch"
	"github.com/ternbot/tern/src/gateway"
	"github.com/ternbot/tern/src/rest"
	"github.com/ternbot/tern/src/structs"
)

type BotArguments struct {
	BotToken   string
	BotIntents []int
	Presence   *structs.PresenceUpdate

	Logger         *slog.Logger
	GatewayOptions gateway.Options
	RESTOptions    rest.Options
	CacheOptions   cache.Options

	// CacheSweepInterval schedules idle-entry reclamation. Zero disables
	// the background sweeper.
	CacheSweepInterval time.Duration
}

// Bot wires the cache, dispatcher, request queue, and gateway session
// together and owns their lifecycle.
type Bot struct {
	gateway    *gateway.Gateway
	dispatcher *dispatch.Dispatcher
	cache      *cache.Cache
	rest       *rest.REST
	log        *slog.Logger

	sweepInterval time.Duration
}

func NewBot(args BotArguments) *Bot {
	if args.Logger == nil {
		args.Logger = slog.Default()
	}
	if args.CacheOptions.Logger == nil {
		args.CacheOptions.Logger = args.Logger
	}
	if args.RESTOptions.Logger == nil {
		args.RESTOptions.Logger = args.Logger
	}
	c := cache.NewCache(args.CacheOptions)
	d := dispatch.NewDispatcher(c, args.Logger)
	r := rest.NewREST(args.BotToken, args.RESTOptions)
	g := gateway.NewGateway(gateway.Arguments{
		BotToken:   args.BotToken,
		BotIntents: args.BotIntents,
		Presence:   args.Presence,
		Dispatcher: d,
		Cache:      c,
		Logger:     args.Logger,
		Options:    args.GatewayOptions,
	})
	return &Bot{
		gateway:       g,
		dispatcher:    d,
		cache:         c,
		rest:          r,
		log:           args.Logger,
		sweepInterval: args.CacheSweepInterval,
	}
}

// On registers a handler for the named event type. Use
// dispatch.EventNameAll to receive everything.
func (b *Bot) On(eventType string, fn dispatch.Handler) *dispatch.Registration {
	return b.dispatcher.Register(eventType, fn)
}

func (b *Bot) Off(reg *dispatch.Registration) {
	b.dispatcher.Unregister(reg)
}

// Open connects the gateway and starts the background chores. It blocks
// only for the initial handshake.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.gateway.Open(ctx); err != nil {
		return err
	}
	go b.drainHandlerErrors(ctx)
	if b.sweepInterval > 0 {
		go b.sweepCache(ctx)
	}
	return nil
}

func (b *Bot) Close() {
	b.gateway.Close()
	b.dispatcher.Wait()
	b.rest.Close()
}

// Done is closed when the gateway session terminates.
func (b *Bot) Done() <-chan struct{} { return b.gateway.Done() }

func (b *Bot) Session() gateway.Session { return b.gateway.Session() }
func (b *Bot) Cache() *cache.Cache      { return b.cache }
func (b *Bot) REST() *rest.REST         { return b.rest }

func (b *Bot) drainHandlerErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case he := <-b.dispatcher.Errors():
			b.log.Error("event handler failed",
				"event_name", he.EventType,
				"registration_id", he.RegistrationID,
				"error", he.Err)
		}
	}
}

func (b *Bot) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.cache.Sweep(time.Now()); n > 0 {
				b.log.Debug("cache sweep reclaimed idle entries", "count", n)
			}
		}
	}
}
