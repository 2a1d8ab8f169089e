package httpkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestParserSingleFeed(t *testing.T) {
	p := NewRequestParser(0)
	raw := []byte("GET /foo?x=1 HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello")
	n, err := p.Execute(raw)
	require.NoError(t, err)
	assert.True(t, p.Finished())
	assert.Equal(t, len(raw), n)

	req := p.Request()
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/foo", req.Path)
	assert.Equal(t, "x=1", req.Query)
	assert.Equal(t, "example.com", req.Header.Get("Host"))
	assert.Equal(t, "hello", string(req.Body))
}

func TestRequestParserByteAtATime(t *testing.T) {
	p := NewRequestParser(0)
	raw := []byte("POST /submit HTTP/1.1\r\nContent-Length: 3\r\n\r\nabc")

	total := 0
	for i := 0; i < len(raw) && !p.Finished(); i++ {
		n, err := p.Execute(raw[i : i+1])
		require.NoError(t, err)
		total += n
	}
	require.True(t, p.Finished())
	assert.Equal(t, "abc", string(p.Request().Body))
	assert.Equal(t, len(raw), total)
}

func TestRequestParserNoBody(t *testing.T) {
	p := NewRequestParser(0)
	raw := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	_, err := p.Execute(raw)
	require.NoError(t, err)
	assert.True(t, p.Finished())
	assert.Empty(t, p.Request().Body)
}

func TestRequestParserRejectsOversizedBody(t *testing.T) {
	p := NewRequestParser(4)
	raw := []byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n")
	_, err := p.Execute(raw)
	assert.Error(t, err)
}

func TestResponseParserContentLength(t *testing.T) {
	p := NewResponseParser(0)
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")
	_, err := p.Execute(raw)
	require.NoError(t, err)
	require.True(t, p.Finished())
	rsp := p.Response()
	assert.Equal(t, 200, rsp.Status)
	assert.Equal(t, "OK", rsp.Reason)
	assert.Equal(t, "hi", string(rsp.Body))
}

func TestResponseParserChunkedSingleFeed(t *testing.T) {
	p := NewResponseParser(0)
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
	_, err := p.Execute(raw)
	require.NoError(t, err)
	require.True(t, p.Finished())
	assert.Equal(t, "Wikipedia", string(p.Response().Body))
}

func TestResponseParserChunkedByteAtATime(t *testing.T) {
	p := NewResponseParser(0)
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nfoo\r\n0\r\n\r\n")
	for i := 0; i < len(raw) && !p.Finished(); i++ {
		_, err := p.Execute(raw[i : i+1])
		require.NoError(t, err)
	}
	require.True(t, p.Finished())
	assert.Equal(t, "foo", string(p.Response().Body))
}

func TestResponseParserChunkedAcrossArbitrarySplits(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"6\r\nabcdef\r\n3\r\nghi\r\n0\r\n\r\n")
	for split := 1; split < len(raw); split++ {
		p := NewResponseParser(0)
		_, err := p.Execute(raw[:split])
		require.NoError(t, err)
		if !p.Finished() {
			_, err = p.Execute(raw[split:])
			require.NoError(t, err)
		}
		require.True(t, p.Finished(), "split at %d", split)
		assert.Equal(t, "abcdefghi", string(p.Response().Body))
	}
}
