package wire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds the payload and every attachment of a frame.
const MaxFrameSize = 256 << 20

// Frame layout, little endian:
//
//	u32 attachment count
//	u32 payload length, payload
//	per attachment: u32 length, bytes

func writeFrame(w io.Writer, f Frame) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(f.Attachments)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	for _, part := range append([][]byte{f.Payload}, f.Attachments...) {
		if len(part) > MaxFrameSize {
			return ErrFrameTooLarge
		}
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(part)))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func readPart(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFrame(r io.Reader) (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	count := binary.LittleEndian.Uint32(hdr[:])
	if count > 1024 {
		return Frame{}, fmt.Errorf("%w: %d attachments", ErrFrameTooLarge, count)
	}
	payload, err := readPart(r)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Payload: payload}
	for range count {
		part, err := readPart(r)
		if err != nil {
			return Frame{}, err
		}
		f.Attachments = append(f.Attachments, part)
	}
	return f, nil
}

// marshalFrame renders a frame into a single buffer.
func marshalFrame(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalFrame(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	f, err := readFrame(r)
	if err != nil {
		return Frame{}, err
	}
	if r.Len() != 0 {
		return Frame{}, fmt.Errorf("wire: %d trailing bytes after frame", r.Len())
	}
	return f, nil
}

// StreamConn carries length-prefixed frames over a byte stream such as a
// subprocess's stdin and stdout. Writes do not observe context
// cancellation. Cancelling a blocked Recv closes the connection.
type StreamConn struct {
	rmu sync.Mutex
	r   *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer

	c      io.Closer
	closed chan struct{}
	once   sync.Once
}

// NewStreamConn wraps rwc. Closing the connection closes rwc.
func NewStreamConn(rwc io.ReadWriteCloser) *StreamConn {
	return NewStreamConnPair(rwc, rwc, rwc)
}

// NewStreamConnPair reads from r and writes to w; c is closed by Close
// and may be nil.
func NewStreamConnPair(r io.Reader, w io.Writer, c io.Closer) *StreamConn {
	return &StreamConn{
		r:      bufio.NewReader(r),
		w:      bufio.NewWriter(w),
		c:      c,
		closed: make(chan struct{}),
	}
}

func (s *StreamConn) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *StreamConn) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := writeFrame(s.w, f); err != nil {
		return s.mapErr(err)
	}
	return s.mapErr(s.w.Flush())
}

func (s *StreamConn) Recv(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.isClosed() {
		return Frame{}, ErrClosed
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	f, err := readFrame(s.r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, s.mapErr(err)
	}
	return f, nil
}

func (s *StreamConn) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if s.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

func (s *StreamConn) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.c != nil {
			err = s.c.Close()
		}
	})
	return err
}
