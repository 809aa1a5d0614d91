package gateway

import "time"

type Status = string

const (
	StatusDisconnected  Status = "DISCONNECTED"
	StatusConnecting    Status = "CONNECTING"
	StatusIdentifying   Status = "IDENTIFYING"
	StatusReady         Status = "READY"
	StatusResuming      Status = "RESUMING"
	StatusReconnectWait Status = "RECONNECT_WAIT"
	StatusClosed        Status = "CLOSED"
)

// Session is a read-only snapshot of the gateway's session fields. The
// gateway owns the live state exclusively; everyone else sees copies.
type Session struct {
	ID                string
	Sequence          int64 // -1 while absent
	ResumeGatewayURL  string
	HeartbeatInterval time.Duration
	Status            Status
}

// Session returns the current snapshot.
func (g *Gateway) Session() Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Session{
		ID:                g.sessionID,
		Sequence:          g.sequence.Load(),
		ResumeGatewayURL:  g.resumeGatewayURL,
		HeartbeatInterval: g.heartbeatInterval,
		Status:            g.status,
	}
}

// Status returns the session state machine's current state.
func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *Gateway) setStatus(s Status) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}
