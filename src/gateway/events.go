package gateway

import (
	"encoding/json"

	"github.com/ternbot/tern/src/structs"
)

func (g *Gateway) handleFrame(data []byte) {
	evt := &structs.RawEvent{}
	if err := json.Unmarshal(data, evt); err != nil {
		g.protocolViolation("malformed frame", err)
		return
	}
	switch evt.Op {
	case OpcodeDispatch:
		g.onDispatch(evt)
	case OpcodeHeartbeat:
		// Server-pushed heartbeat request: beat immediately, the timer
		// keeps its own schedule.
		g.sendHeartbeat()
	case OpcodeHeartbeatAck:
		g.onHeartbeatAck()
	case OpcodeReconnect:
		g.requestReconnect(true, "server requested reconnect")
	case OpcodeInvalidSession:
		g.onInvalidSession(evt)
	case OpcodeHello:
		// Hello is only valid as the first frame of a connection and is
		// consumed by connect.
		g.protocolViolation("unexpected hello frame", nil)
	default:
		g.protocolViolation("unknown opcode", nil)
	}
}

func (g *Gateway) onDispatch(evt *structs.RawEvent) {
	if evt.S != nil {
		// Sequence is monotonic: keep the maximum seen for this session.
		for {
			cur := g.sequence.Load()
			if *evt.S <= cur || g.sequence.CompareAndSwap(cur, *evt.S) {
				break
			}
		}
	}

	switch evt.T {
	case structs.EventNameReady:
		ready := structs.ReadyEvent{}
		if err := json.Unmarshal(evt.D, &ready); err != nil {
			g.protocolViolation("malformed ready event", err)
			return
		}
		g.mu.Lock()
		g.sessionID = ready.SessionID
		g.resumeGatewayURL = ready.ResumeGatewayURL
		g.status = StatusReady
		g.resumeFailures = 0
		g.protocolViolations = 0
		g.backoff = g.opts.BackoffBase
		g.mu.Unlock()
		g.log.Info("gateway is ready", "session_id", ready.SessionID)
	case structs.EventNameResumed:
		g.mu.Lock()
		g.status = StatusReady
		g.resumeFailures = 0
		g.backoff = g.opts.BackoffBase
		g.mu.Unlock()
		g.log.Info("session resumed, replayed events delivered in order")
	}

	g.cache.HandleEvent(evt)
	g.dispatcher.Dispatch(g.ctx, evt)
}

func (g *Gateway) onInvalidSession(evt *structs.RawEvent) {
	var resumable bool
	if err := json.Unmarshal(evt.D, &resumable); err != nil {
		resumable = false
	}
	if !resumable {
		g.mu.Lock()
		g.sessionID = ""
		g.resumeGatewayURL = ""
		g.mu.Unlock()
		g.sequence.Store(-1)
		g.cache.Clear()
	}
	g.requestReconnect(resumable, "invalid session")
}

// protocolViolation logs and drops a bad frame. The session keeps going
// unless violations repeat past the configured threshold.
func (g *Gateway) protocolViolation(reason string, err error) {
	g.mu.Lock()
	g.protocolViolations++
	violations := g.protocolViolations
	limit := g.opts.ProtocolViolationLimit
	if violations >= limit {
		g.protocolViolations = 0
	}
	g.mu.Unlock()
	g.log.Warn("protocol violation, frame dropped",
		"reason", reason, "error", err, "count", violations)
	if violations >= limit {
		g.requestReconnect(true, "repeated protocol violations")
	}
}
