package wire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn carries one frame per binary WebSocket message.
type WebSocketConn struct {
	ws *websocket.Conn

	rmu sync.Mutex
	wmu sync.Mutex

	closed chan struct{}
	once   sync.Once
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(MaxFrameSize)
	return &WebSocketConn{ws: ws, closed: make(chan struct{})}
}

// DialWebSocket connects to a worker endpoint such as ws://host:8787/ws.
func DialWebSocket(ctx context.Context, url string) (*WebSocketConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketConn(ws), nil
}

func (c *WebSocketConn) Send(ctx context.Context, f Frame) error {
	data, err := marshalFrame(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return c.mapErr(err)
	}
	return nil
}

// Recv reads the next binary message. A cancelled read expires the read
// deadline, after which the connection cannot be read again.
func (c *WebSocketConn) Recv(ctx context.Context) (Frame, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			return Frame{}, c.mapErr(err)
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return unmarshalFrame(data)
	}
}

func (c *WebSocketConn) mapErr(err error) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, websocket.ErrCloseSent) {
		return ErrClosed
	}
	return err
}

// Close sends a close message and closes the connection.
func (c *WebSocketConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// WebSocketHandler upgrades HTTP requests and hands each connection to
// serve. The connection is closed when serve returns.
func WebSocketHandler(serve func(ctx context.Context, conn Conn), logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 64 << 10,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn := NewWebSocketConn(ws)
		defer conn.Close()
		logger.Debug("websocket connected", "remote", r.RemoteAddr)
		serve(r.Context(), conn)
		logger.Debug("websocket disconnected", "remote", r.RemoteAddr)
	})
}
