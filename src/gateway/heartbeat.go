package gateway

import (
	"math/rand"
	"time"

	"github.com/ternbot/tern/src/structs"
)

// heartbeating runs once per connection. The first beat fires after a
// random fraction of the interval so a fleet of reconnecting clients
// does not beat in lockstep.
func (g *Gateway) heartbeating(interval time.Duration, stop chan struct{}) {
	timer := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
	defer timer.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
			if g.heartbeatOverdue() {
				// Fatal miss: the connection was forced closed, the
				// receive loop takes over from here.
				return
			}
			g.sendHeartbeat()
			timer.Reset(interval)
		}
	}
}

// heartbeatOverdue checks whether the previous beat is still waiting on
// its acknowledgement now that the next one is due. Past the miss limit
// the session is considered zombied and forced into reconnect.
func (g *Gateway) heartbeatOverdue() bool {
	g.mu.Lock()
	if !g.awaitingAck {
		g.mu.Unlock()
		return false
	}
	g.missedAcks++
	missed := g.missedAcks
	limit := g.opts.HeartbeatMissLimit
	g.mu.Unlock()

	if missed >= limit {
		g.log.Error("missed heartbeat acknowledgements, forcing reconnect",
			"missed", missed)
		g.requestReconnect(true, "missed heartbeat")
		return true
	}
	g.log.Warn("heartbeat not acknowledged before next beat", "missed", missed)
	return false
}

func (g *Gateway) sendHeartbeat() {
	var d interface{}
	if seq := g.sequence.Load(); seq >= 0 {
		d = seq
	}
	if err := g.sendEvent(structs.Event{Op: OpcodeHeartbeat, D: d}); err != nil {
		g.log.Error("failed to send heartbeat event", "error", err)
		return
	}
	g.mu.Lock()
	g.awaitingAck = true
	g.lastHeartbeatSent = time.Now().UTC()
	g.mu.Unlock()
}

func (g *Gateway) onHeartbeatAck() {
	g.mu.Lock()
	g.awaitingAck = false
	g.missedAcks = 0
	g.lastHeartbeatAck = time.Now().UTC()
	g.mu.Unlock()
}
