package httpkit

import (
	"context"
	"fmt"

	"github.com/weftline/corenet/internal/netkit"
)

// Session drives one accepted connection through a request/response cycle:
// refill a fixed buffer (preserving trailing unconsumed bytes), feed it to
// a RequestParser, and write the caller's response back. It neither
// dispatches nor decides keep-alive policy — both live in the caller's
// per-connection loop (Server.serveConn).
type Session struct {
	stream *netkit.SocketStream

	buf       []byte // fixed-size refill buffer
	bufStart  int    // first unconsumed byte
	bufEnd    int    // one past the last valid byte

	reqBufSize int
	maxBody    int64
}

// NewSession wraps an accepted SocketStream. reqBufSize bounds how much of
// a request line+headers may be buffered before parsing; maxBodySize
// bounds request bodies (0 means unlimited).
func NewSession(stream *netkit.SocketStream, reqBufSize int, maxBodySize int64) *Session {
	if reqBufSize <= 0 {
		reqBufSize = 8192
	}
	return &Session{
		stream:     stream,
		buf:        make([]byte, reqBufSize),
		reqBufSize: reqBufSize,
		maxBody:    maxBodySize,
	}
}

// ErrRequestTooLarge is returned when a request's headers do not fit
// within the session's fixed buffer before a complete start-line and
// header block are seen.
var ErrRequestTooLarge = fmt.Errorf("httpkit: request exceeds buffer before completion")

// RecvRequest reads and parses the next request off the connection,
// reusing any bytes already buffered from a previous pipelined request.
func (s *Session) RecvRequest(ctx context.Context) (*Request, error) {
	parser := NewRequestParser(s.maxBody)
	headerBytes := 0

	for {
		if s.bufEnd > s.bufStart {
			n, err := parser.Execute(s.buf[s.bufStart:s.bufEnd])
			s.bufStart += n
			if err != nil {
				return nil, err
			}
			if parser.Finished() {
				s.compact()
				return parser.Request(), nil
			}
			// The parser keeps partial lines in its own carry, so buf never
			// fills up; bound the start-line and header block here instead.
			if parser.phase == phaseStartLine || parser.phase == phaseHeaders {
				headerBytes += n
				if headerBytes >= len(s.buf) {
					return nil, ErrRequestTooLarge
				}
			}
		}

		if err := s.refill(ctx); err != nil {
			return nil, err
		}
	}
}

// refill preserves unconsumed bytes at the front of buf and reads more
// data after them. It fails with ErrRequestTooLarge if the buffer is
// already full of unconsumed bytes with no progress possible.
func (s *Session) refill(ctx context.Context) error {
	s.compact()

	if s.bufEnd == len(s.buf) {
		return ErrRequestTooLarge
	}

	n, err := s.stream.Read(ctx, s.buf[s.bufEnd:])
	if n > 0 {
		s.bufEnd += n
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("httpkit: connection closed mid-request")
	}
	return nil
}

// compact slides unconsumed bytes to the start of buf.
func (s *Session) compact() {
	if s.bufStart == 0 {
		return
	}
	n := copy(s.buf, s.buf[s.bufStart:s.bufEnd])
	s.bufStart = 0
	s.bufEnd = n
}

// SendResponse serializes and writes rsp, setting Content-Length from the
// body unless the caller already set one.
func (s *Session) SendResponse(ctx context.Context, rsp *Response) error {
	wire := encodeResponse(rsp)
	_, err := s.stream.WriteFixSize(ctx, wire)
	return err
}

// Close releases the underlying stream.
func (s *Session) Close(ctx context.Context) error {
	return s.stream.Close(ctx)
}
