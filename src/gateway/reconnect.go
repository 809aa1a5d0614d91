package gateway

import (
	"errors"
	"time"
)

// requestReconnect forces the receive loop through its reconnect path by
// closing the transport. resume hints whether the next connection should
// try to re-attach the current session.
func (g *Gateway) requestReconnect(resume bool, reason string) {
	g.mu.Lock()
	if g.status == StatusClosed {
		g.mu.Unlock()
		return
	}
	hint := resume
	g.reconnectHint = &hint
	conn := g.conn
	g.mu.Unlock()
	g.log.Info("forcing reconnect", "reason", reason)
	if conn != nil {
		conn.Close()
	}
}

// handleDisconnect is called by the receive loop when a read fails. It
// decides between resume, fresh identify, and terminal failure, waits
// out the backoff, and reconnects. Returns false when the loop must
// exit.
func (g *Gateway) handleDisconnect(readErr error) bool {
	if g.ctx.Err() != nil || g.Status() == StatusClosed {
		g.shutdown(nil)
		return false
	}
	g.stopHeartbeat()
	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	hint := g.reconnectHint
	g.reconnectHint = nil
	g.mu.Unlock()

	code := closeCode(readErr)
	switch code {
	case CloseAuthenticationFailed, CloseInvalidShard, CloseShardingRequired,
		CloseInvalidAPIVersion, CloseInvalidIntents, CloseDisallowedIntents:
		g.log.Error("terminal close code, giving up", "code", code)
		g.shutdown(g.mapCloseError(readErr))
		return false
	}

	resume := resumableClose(code)
	if hint != nil {
		resume = *hint
	}
	g.log.Warn("gateway connection lost", "error", readErr, "close_code", code, "resumable", resume)

	for {
		g.setStatus(StatusReconnectWait)
		delay := g.nextBackoff()
		g.log.Info("waiting before reconnect", "delay", delay)
		select {
		case <-time.After(delay):
		case <-g.ctx.Done():
			g.shutdown(nil)
			return false
		}

		g.mu.Lock()
		canResume := resume && g.sessionID != "" && g.resumeFailures < g.opts.ResumeAttemptLimit
		g.mu.Unlock()

		err := g.connect(g.ctx, canResume)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			g.shutdown(err)
			return false
		}
		if canResume {
			g.mu.Lock()
			g.resumeFailures++
			g.mu.Unlock()
		}
		g.log.Error("reconnect attempt failed", "error", err)
	}
}

// nextBackoff returns the current delay and doubles it up to the cap.
// READY resets it to the base.
func (g *Gateway) nextBackoff() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	delay := g.backoff
	g.backoff *= 2
	if g.backoff > g.opts.BackoffCap {
		g.backoff = g.opts.BackoffCap
	}
	return delay
}

// resumableClose reports whether the close code permits re-attaching the
// session. Plain transport drops (no code, 1006) are presumed resumable;
// invalid-seq and session-timeout require a fresh identify.
func resumableClose(code int) bool {
	switch code {
	case 0, 1006:
		return true
	case CloseUnknownError, CloseUnknownOpcode, CloseDecodeError,
		CloseNotAuthenticated, CloseAlreadyAuthenticated, CloseRateLimited:
		return true
	case CloseInvalidSeq, CloseSessionTimedOut:
		return false
	default:
		return false
	}
}
