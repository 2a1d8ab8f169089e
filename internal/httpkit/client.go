package httpkit

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weftline/corenet/internal/hook"
)

// Client issues HTTP/1.1 requests over a Pool of reusable connections,
// classifying failures into a Result rather than a bare error so callers
// can tell a DNS failure from a peer hangup from a timeout.
type Client struct {
	pool           *Pool
	connectTimeout time.Duration
	maxRspBody     int64
}

// NewClient builds a Client backed by pool.
func NewClient(pool *Pool, connectTimeout time.Duration, maxRspBody int64) *Client {
	return &Client{pool: pool, connectTimeout: connectTimeout, maxRspBody: maxRspBody}
}

// Get issues a GET request for rawURL and returns its response.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, Result) {
	return c.Do(ctx, "GET", rawURL, nil, nil)
}

// Do issues method against rawURL, optionally with a body and headers.
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, body []byte) (*Response, Result) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, ResultInvalidURL
	}
	host := u.Hostname()
	if host == "" {
		return nil, ResultInvalidHost
	}
	port := u.Port()
	scheme := u.Scheme
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	ctx = hook.WithEnabled(ctx, true)

	conn, err := c.pool.Get(ctx, host, port, scheme)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ResultTimeout
		}
		return nil, ResultConnectFailure
	}

	if header == nil {
		header = make(http.Header)
	}
	if header.Get("Host") == "" {
		header.Set("Host", u.Host)
	}
	req := &Request{
		Method:  method,
		Path:    u.EscapedPath(),
		Query:   u.RawQuery,
		Version: "HTTP/1.1",
		Header:  header,
		Body:    body,
	}
	if req.Path == "" {
		req.Path = "/"
	}

	rsp, err := conn.Do(ctx, req)
	if err != nil {
		_ = conn.Close(ctx)
		if errors.Is(err, hook.ErrTimeout) {
			return nil, ResultTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ResultTimeout
		}
		return nil, ResultSendSocketError
	}

	if strings.EqualFold(rsp.Header.Get("Connection"), "close") {
		_ = conn.Close(ctx)
	} else {
		c.pool.Put(ctx, host, port, scheme, conn)
	}
	return rsp, ResultOK
}
