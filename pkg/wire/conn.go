package wire

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by a connection after Close.
	ErrClosed = errors.New("wire: connection closed")
	// ErrFrameTooLarge is returned for frames above the size limit.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Conn is a bidirectional frame transport. Send and Recv may be called
// concurrently with each other; each is safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

// pipeEnd is one side of an in-process pipe.
type pipeEnd struct {
	in   <-chan Frame
	out  chan<- Frame
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-process endpoints. Attachments are handed
// over by reference. Closing either end closes both.
func Pipe() (Conn, Conn) {
	a := make(chan Frame, 16)
	b := make(chan Frame, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: a, out: b, done: done, once: once},
		&pipeEnd{in: b, out: a, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, f Frame) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

var (
	_ Conn = (*pipeEnd)(nil)
	_ Conn = (*StreamConn)(nil)
	_ Conn = (*WebSocketConn)(nil)
)
