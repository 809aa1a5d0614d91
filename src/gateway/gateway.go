package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternbot/tern/src/cache"
	"github.com/ternbot/tern/src/dispatch"
	"github.com/ternbot/tern/src/structs"
)

// https://discord.com/developers/docs/events/gateway#message-content-intent
type GatewayIntent = int

var (
	GuildsIntent               = 1 << 0
	GuildMembersIntent         = 1 << 1
	GuildModerationIntent      = 1 << 2
	GuildExpressionIntent      = 1 << 3
	GuildIntegrationsIntent    = 1 << 4
	GuildWebhooksIntent        = 1 << 5
	GuildInvitesIntent         = 1 << 6
	GuildVoiceStatesIntent     = 1 << 7
	GuildPresencesIntent       = 1 << 8
	GuildMessagesIntent        = 1 << 9
	GuildMessageReactionIntent = 1 << 10
	GuildMessageTypingIntent   = 1 << 11
	DirectMessageIntent        = 1 << 12
	MessageContentIntent       = 1 << 15
	GuildScheduledEventsIntent = 1 << 16
)

type GatewayOpcode = int

const (
	OpcodeDispatch           GatewayOpcode = 0
	OpcodeHeartbeat          GatewayOpcode = 1
	OpcodeIdentify           GatewayOpcode = 2
	OpcodePresenceUpdate     GatewayOpcode = 3
	OpcodeResume             GatewayOpcode = 6
	OpcodeReconnect          GatewayOpcode = 7
	OpcodeRequestGuildMember GatewayOpcode = 8
	OpcodeInvalidSession     GatewayOpcode = 9
	OpcodeHello              GatewayOpcode = 10
	OpcodeHeartbeatAck       GatewayOpcode = 11
)

type GatewayCloseEventCode = int

const (
	CloseUnknownError         GatewayCloseEventCode = 4000
	CloseUnknownOpcode        GatewayCloseEventCode = 4001
	CloseDecodeError          GatewayCloseEventCode = 4002
	CloseNotAuthenticated     GatewayCloseEventCode = 4003
	CloseAuthenticationFailed GatewayCloseEventCode = 4004
	CloseAlreadyAuthenticated GatewayCloseEventCode = 4005
	CloseInvalidSeq           GatewayCloseEventCode = 4007
	CloseRateLimited          GatewayCloseEventCode = 4008
	CloseSessionTimedOut      GatewayCloseEventCode = 4009
	CloseInvalidShard         GatewayCloseEventCode = 4010
	CloseShardingRequired     GatewayCloseEventCode = 4011
	CloseInvalidAPIVersion    GatewayCloseEventCode = 4012
	CloseInvalidIntents       GatewayCloseEventCode = 4013
	CloseDisallowedIntents    GatewayCloseEventCode = 4014
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrDecode               = errors.New("invalid payload")
	ErrGatewayIsAlreadyOpen = errors.New("gateway is already open")
	ErrNotConnected         = errors.New("gateway is not connected")
	ErrUnexpectedFrame      = errors.New("unexpected frame during handshake")
	ErrDisallowedIntents    = errors.New("disallowed intent. you may have tried to specify an intent that you have not enabled")
	ErrUnknown              = errors.New("unknown error")
)

// Options bounds the session's recovery behavior. Zero values take the
// defaults below.
type Options struct {
	BackoffBase time.Duration // first reconnect delay, doubled per failure
	BackoffCap  time.Duration
	// HeartbeatMissLimit is how many consecutive unacknowledged
	// heartbeats force a reconnect.
	HeartbeatMissLimit int
	// ResumeAttemptLimit bounds consecutive failed resumes before the
	// session falls back to a fresh identify.
	ResumeAttemptLimit int
	// ProtocolViolationLimit bounds malformed or unexpected frames
	// tolerated before the session reconnects.
	ProtocolViolationLimit int
}

func (o *Options) withDefaults() {
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 64 * time.Second
	}
	if o.HeartbeatMissLimit <= 0 {
		o.HeartbeatMissLimit = 3
	}
	if o.ResumeAttemptLimit <= 0 {
		o.ResumeAttemptLimit = 3
	}
	if o.ProtocolViolationLimit <= 0 {
		o.ProtocolViolationLimit = 5
	}
}

type Arguments struct {
	BotToken   string
	BotIntents []int
	Presence   *structs.PresenceUpdate

	Dialer     Dialer
	Dispatcher *dispatch.Dispatcher
	Cache      *cache.Cache
	Logger     *slog.Logger
	Options    Options
}

// Gateway owns the persistent connection and the session state machine.
// All session fields are mutated only by the gateway's own goroutines;
// outside readers get snapshots via Session().
type Gateway struct {
	mu               sync.RWMutex
	wsurl            string
	resumeGatewayURL string
	sessionID        string
	status           Status
	conn             Conn
	dialer           Dialer
	ctx              context.Context

	sequence atomic.Int64 // -1 while absent

	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	awaitingAck       bool
	missedAcks        int
	lastHeartbeatSent time.Time
	lastHeartbeatAck  time.Time

	backoff            time.Duration
	resumeFailures     int
	protocolViolations int
	// reconnectHint overrides close-code based resume detection when the
	// session itself forced the disconnect.
	reconnectHint *bool

	botToken   string
	botIntents int
	presence   *structs.PresenceUpdate

	dispatcher *dispatch.Dispatcher
	cache      *cache.Cache
	log        *slog.Logger
	opts       Options

	err      error
	done     chan struct{}
	doneOnce sync.Once
}

func NewGateway(args Arguments) *Gateway {
	// https://discord.com/developers/docs/reference#http-api
	wsBaseURL := url.URL{
		Scheme:   "wss",
		Host:     "gateway.discord.gg",
		RawQuery: fmt.Sprintf("v=%v&encoding=json", 10),
	}
	intents := 0
	for _, v := range args.BotIntents {
		intents += v
	}
	if args.Dialer == nil {
		args.Dialer = NewWSDialer(nil)
	}
	if args.Logger == nil {
		args.Logger = slog.Default()
	}
	if args.Cache == nil {
		args.Cache = cache.NewCache(cache.Options{Logger: args.Logger})
	}
	if args.Dispatcher == nil {
		args.Dispatcher = dispatch.NewDispatcher(args.Cache, args.Logger)
	}
	args.Options.withDefaults()

	g := &Gateway{
		wsurl:      wsBaseURL.String(),
		status:     StatusDisconnected,
		dialer:     args.Dialer,
		botToken:   args.BotToken,
		botIntents: intents,
		presence:   args.Presence,
		dispatcher: args.Dispatcher,
		cache:      args.Cache,
		log:        args.Logger,
		opts:       args.Options,
		backoff:    args.Options.BackoffBase,
		done:       make(chan struct{}),
	}
	g.sequence.Store(-1)
	return g
}

// Open dials the gateway, performs the identify handshake, and starts
// the receive loop. An identify rejection surfaces here as
// ErrAuthenticationFailed and is never retried.
func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	if g.status != StatusDisconnected {
		g.mu.Unlock()
		return ErrGatewayIsAlreadyOpen
	}
	g.ctx = ctx
	g.mu.Unlock()

	g.log.Info("connecting to gateway...")
	if err := g.connect(ctx, false); err != nil {
		g.setStatus(StatusDisconnected)
		return err
	}
	// Block until the first READY so a rejected identify reaches the
	// caller instead of the reconnect loop.
	for g.Status() == StatusIdentifying {
		_, data, err := g.currentConn().ReadMessage()
		if err != nil {
			g.setStatus(StatusDisconnected)
			g.stopHeartbeat()
			return g.mapCloseError(err)
		}
		g.handleFrame(data)
	}
	go g.run()
	return nil
}

// connect dials, consumes the hello frame, starts heartbeating, and
// sends either identify or resume.
func (g *Gateway) connect(ctx context.Context, resume bool) error {
	addr := g.wsurl
	if resume {
		g.mu.RLock()
		if g.resumeGatewayURL != "" {
			addr = g.resumeURL()
		}
		g.mu.RUnlock()
	}
	g.setStatus(StatusConnecting)
	conn, err := g.dialer.DialContext(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return err
	}
	evt := &structs.RawEvent{}
	if err := json.Unmarshal(raw, evt); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if evt.Op != OpcodeHello {
		conn.Close()
		return ErrUnexpectedFrame
	}
	hello := structs.HelloEvent{}
	if err := json.Unmarshal(evt.D, &hello); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	stop := make(chan struct{})
	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
	}
	g.conn = conn
	g.heartbeatInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	g.heartbeatStop = stop
	g.awaitingAck = false
	g.missedAcks = 0
	g.reconnectHint = nil
	interval := g.heartbeatInterval
	g.mu.Unlock()
	go g.heartbeating(interval, stop)

	if resume {
		g.setStatus(StatusResuming)
		return g.sendResume()
	}
	// Fresh session: the sequence resets to absent and the cache starts
	// over with the incoming READY snapshot.
	g.sequence.Store(-1)
	g.cache.Clear()
	g.mu.Lock()
	g.sessionID = ""
	g.mu.Unlock()
	g.setStatus(StatusIdentifying)
	return g.sendIdentify()
}

func (g *Gateway) sendIdentify() error {
	err := g.sendEvent(structs.Event{
		Op: OpcodeIdentify,
		D: structs.IdentifyEvent{
			Token:   g.botToken,
			Intents: g.botIntents,
			Properties: structs.IdentifyEventProperties{
				Os:      "linux",
				Browser: "tern",
				Device:  "tern",
			},
			Presence: g.presence,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send identify event: %w", err)
	}
	g.log.Info("identify event sent")
	return nil
}

func (g *Gateway) sendResume() error {
	g.mu.RLock()
	sessionID := g.sessionID
	g.mu.RUnlock()
	err := g.sendEvent(structs.Event{
		Op: OpcodeResume,
		D: structs.ResumeEvent{
			Token:     g.botToken,
			SessionID: sessionID,
			Seq:       g.sequence.Load(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send resume event: %w", err)
	}
	g.log.Info("resume event sent", "session_id", sessionID)
	return nil
}

// run is the single receive loop: frames are processed strictly in
// arrival order; handlers run elsewhere so they never stall it.
func (g *Gateway) run() {
	for {
		select {
		case <-g.ctx.Done():
			g.shutdown(nil)
			return
		default:
		}
		conn := g.currentConn()
		if conn == nil {
			g.shutdown(nil)
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !g.handleDisconnect(err) {
				return
			}
			continue
		}
		g.handleFrame(data)
	}
}

func (g *Gateway) sendEvent(evt structs.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway event: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return ErrNotConnected
	}
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) currentConn() Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn
}

func (g *Gateway) resumeURL() string {
	rurl, err := url.Parse(g.resumeGatewayURL)
	if err != nil {
		return g.wsurl
	}
	u := url.URL{
		Scheme:   rurl.Scheme,
		Host:     rurl.Host,
		RawQuery: fmt.Sprintf("v=%v&encoding=json", 10),
	}
	return u.String()
}

// Close shuts the session down: heartbeat cancelled, transport closed,
// no further dispatch.
func (g *Gateway) Close() {
	g.shutdown(nil)
}

// Done is closed once the session reaches CLOSED for any reason.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// Err reports the terminal error, if the session closed because of one.
func (g *Gateway) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}

func (g *Gateway) shutdown(err error) {
	g.mu.Lock()
	alreadyClosed := g.status == StatusClosed
	g.status = StatusClosed
	if err != nil && g.err == nil {
		g.err = err
	}
	stop := g.heartbeatStop
	g.heartbeatStop = nil
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		conn.Close()
	}
	if !alreadyClosed {
		g.log.Info("gateway closed")
	}
	g.doneOnce.Do(func() { close(g.done) })
}

func (g *Gateway) stopHeartbeat() {
	g.mu.Lock()
	stop := g.heartbeatStop
	g.heartbeatStop = nil
	g.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (g *Gateway) mapCloseError(err error) error {
	switch closeCode(err) {
	case CloseAuthenticationFailed:
		return ErrAuthenticationFailed
	case CloseNotAuthenticated:
		return ErrNotAuthenticated
	case CloseDecodeError:
		return ErrDecode
	case CloseDisallowedIntents:
		return ErrDisallowedIntents
	case 0:
		return err
	default:
		return fmt.Errorf("%w: close code %d", ErrUnknown, closeCode(err))
	}
}
