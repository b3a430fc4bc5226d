// Package client submits requests to a worker and matches replies to
// pending calls by id.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapframe/pkg/wire"
)

// Call is one request in flight. Done receives the call once it settles.
type Call struct {
	ID     uint64
	Method wire.Method
	// Result is the reply payload and Attachments its binary buffers.
	Result      wire.Raw
	Attachments [][]byte
	Err         error
	Done        chan *Call

	timer *time.Timer
}

// Config holds client settings.
type Config struct {
	// Codec encodes envelopes. It must match the worker. Defaults to JSON.
	Codec wire.Codec
	// Timeout bounds each call. Zero disables it.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	conn    wire.Conn
	codec   wire.Codec
	timeout time.Duration
	logger  *slog.Logger
	session string

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Call
	// err is set once the connection is unusable.
	err  error
	done chan struct{}
}

// New starts a client reading replies from conn.
func New(conn wire.Conn, cfg Config) *Client {
	codec := cfg.Codec
	if codec == nil {
		codec = wire.JSON
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	session := uuid.NewString()
	c := &Client{
		conn:    conn,
		codec:   codec,
		timeout: cfg.Timeout,
		logger:  logger.With("session", session),
		session: session,
		pending: make(map[uint64]*Call),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Session returns the id the client logs under.
func (c *Client) Session() string { return c.session }

// Go sends a request and returns without waiting for the reply.
func (c *Client) Go(ctx context.Context, method wire.Method, params any, attachments ...[]byte) *Call {
	call := &Call{Method: method, Done: make(chan *Call, 1)}
	raw, err := wire.NewRaw(params)
	if err != nil {
		call.Err = fmt.Errorf("encode %s params: %w", method, err)
		call.Done <- call
		return call
	}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		call.Err = c.err
		call.Done <- call
		return call
	}
	c.nextID++
	call.ID = c.nextID
	c.pending[call.ID] = call
	if c.timeout > 0 {
		id := call.ID
		call.timer = time.AfterFunc(c.timeout, func() {
			c.settle(id, func(cl *Call) { cl.Err = ErrTimeout })
		})
	}
	c.mu.Unlock()

	frame, err := wire.EncodeRequest(c.codec, wire.Request{ID: call.ID, Method: method, Params: raw}, attachments...)
	if err == nil {
		err = c.conn.Send(ctx, frame)
	}
	if err != nil {
		c.settle(call.ID, func(cl *Call) { cl.Err = fmt.Errorf("send %s: %w", method, err) })
	}
	return call
}

// Call sends a request, waits for its reply and decodes the result into
// out. Out may be nil. Cancelling ctx abandons the call.
func (c *Client) Call(ctx context.Context, method wire.Method, params, out any, attachments ...[]byte) (*Call, error) {
	call := c.Go(ctx, method, params, attachments...)
	select {
	case <-call.Done:
	case <-ctx.Done():
		// A reply racing the cancellation still delivers exactly once.
		c.settle(call.ID, func(cl *Call) { cl.Err = ctx.Err() })
		<-call.Done
	}
	if call.Err != nil {
		return call, call.Err
	}
	if out != nil {
		if err := call.Result.Decode(out); err != nil {
			return call, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return call, nil
}

// settle removes a pending call, applies fn and delivers it. It reports
// false when the id is not pending.
func (c *Client) settle(id uint64, fn func(*Call)) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	fn(call)
	call.Done <- call
	return true
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		f, err := c.conn.Recv(context.Background())
		if err != nil {
			c.shutdown(err)
			return
		}
		resp, err := wire.DecodeResponse(c.codec, f)
		if err != nil {
			c.logger.Warn("dropping undecodable reply", "error", err)
			continue
		}
		ok := c.settle(resp.Request.ID, func(cl *Call) {
			switch resp.Status {
			case wire.StatusResult:
				cl.Result = resp.Result
				cl.Attachments = f.Attachments
			case wire.StatusError:
				cl.Err = &RemoteExecutionError{Method: cl.Method, Message: resp.Error}
			default:
				cl.Err = fmt.Errorf("unexpected reply status %q", resp.Status)
			}
		})
		if !ok {
			c.logger.Debug("ignoring reply with no pending call", "id", resp.Request.ID, "method", resp.Request.Method)
		}
	}
}

// shutdown rejects every pending call. After a Terminate the error is
// ErrTerminated; otherwise it wraps the connection error.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.err == nil {
		if errors.Is(cause, wire.ErrClosed) {
			c.err = fmt.Errorf("%w: connection closed", ErrTerminated)
		} else {
			c.err = fmt.Errorf("%w: %v", ErrTerminated, cause)
		}
	}
	err := c.err
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.settle(id, func(cl *Call) { cl.Err = err })
	}
}

// Terminate closes the connection and rejects pending calls with
// ErrTerminated.
func (c *Client) Terminate() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrTerminated
	}
	c.mu.Unlock()
	err := c.conn.Close()
	c.shutdown(ErrTerminated)
	<-c.done
	return err
}
