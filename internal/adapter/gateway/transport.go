package gateway

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"supportmesh/internal/domain"
)

// wsConn adapts a websocket to domain.Transport. Writes are synchronous so
// the caller learns whether a frame reached the socket.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

var _ domain.Transport = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsConn{ws: ws, writeTimeout: writeTimeout, done: make(chan struct{})}
}

// SendJSON writes v as one text frame.
func (c *wsConn) SendJSON(ctx context.Context, v any) error {
	select {
	case <-c.done:
		return domain.ErrTransportClosed
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, v); err != nil {
		return domain.NewDomainError("wsConn.SendJSON", domain.ErrTransportClosed, err.Error())
	}
	return nil
}

// Close closes the socket once; later calls are no-ops.
func (c *wsConn) Close(reason string) error {
	return c.close(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) close(code websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close(code, reason)
	})
	return err
}
