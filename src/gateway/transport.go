package gateway

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
)

// Conn is the minimal surface the session needs from a streaming
// connection. *websocket.Conn satisfies it; tests script their own.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn against a gateway address.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWSDialer wraps a gorilla dialer. A nil argument uses the default.
func NewWSDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &wsDialer{dialer: d}
}

func (w *wsDialer) DialContext(ctx context.Context, urlStr string) (Conn, error) {
	conn, _, err := w.dialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeCode extracts the close code from a read error, zero when the
// error carries none (plain transport failure).
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
