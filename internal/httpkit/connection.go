package httpkit

import (
	"context"
	"fmt"
	"time"

	"github.com/weftline/corenet/internal/netkit"
)

// Connection is one client-side HTTP/1.1 connection, reusable across
// requests when the peer keeps it alive. It mirrors Session but parses
// responses (including chunked bodies) instead of requests.
type Connection struct {
	stream *netkit.SocketStream

	buf      []byte
	bufStart int
	bufEnd   int

	maxRspBody int64

	// bookkeeping for pool reuse
	Host, Port, Scheme string
	createdAt          time.Time
	idleSince          time.Time
	requestsServed     int
}

// NewConnection wraps a connected SocketStream for client use.
func NewConnection(stream *netkit.SocketStream, rspBufSize int, maxRspBody int64) *Connection {
	if rspBufSize <= 0 {
		rspBufSize = 8192
	}
	return &Connection{
		stream:     stream,
		buf:        make([]byte, rspBufSize),
		maxRspBody: maxRspBody,
		createdAt:  time.Now(),
	}
}

// IsConnected reports whether the underlying stream is still usable.
func (c *Connection) IsConnected() bool { return c.stream.IsConnected() }

// Do writes req and returns the parsed response.
func (c *Connection) Do(ctx context.Context, req *Request) (*Response, error) {
	wire := encodeRequest(req)
	if _, err := c.stream.WriteFixSize(ctx, wire); err != nil {
		return nil, err
	}
	return c.recvResponse(ctx)
}

func (c *Connection) recvResponse(ctx context.Context) (*Response, error) {
	parser := NewResponseParser(c.maxRspBody)

	for {
		if c.bufEnd > c.bufStart {
			n, err := parser.Execute(c.buf[c.bufStart:c.bufEnd])
			c.bufStart += n
			if err != nil {
				return nil, err
			}
			if parser.Finished() {
				c.compact()
				c.requestsServed++
				return parser.Response(), nil
			}
		}

		if err := c.refill(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Connection) refill(ctx context.Context) error {
	c.compact()
	if c.bufEnd == len(c.buf) {
		// Grow rather than fail outright: response headers have no hard
		// per-connection cap the way request headers do, since the peer
		// is already trusted once a connection has been pooled.
		grown := make([]byte, len(c.buf)*2)
		copy(grown, c.buf)
		c.buf = grown
	}

	n, err := c.stream.Read(ctx, c.buf[c.bufEnd:])
	if n > 0 {
		c.bufEnd += n
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("httpkit: peer closed connection mid-response")
	}
	return nil
}

func (c *Connection) compact() {
	if c.bufStart == 0 {
		return
	}
	n := copy(c.buf, c.buf[c.bufStart:c.bufEnd])
	c.bufStart = 0
	c.bufEnd = n
}

// MarkIdle records that this connection is about to be returned to a pool.
func (c *Connection) MarkIdle(now time.Time) { c.idleSince = now }

// IdleSince reports when this connection was last returned to a pool.
func (c *Connection) IdleSince() time.Time { return c.idleSince }

// CreatedAt reports when this connection was established, for
// max-alive-based pool eviction.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// RequestsServed reports how many request/response cycles this
// connection has completed, for max-requests-per-connection eviction.
func (c *Connection) RequestsServed() int { return c.requestsServed }

// Close releases the underlying stream.
func (c *Connection) Close(ctx context.Context) error {
	return c.stream.Close(ctx)
}
