package httpkit

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// encodeResponse serializes rsp to wire bytes, computing Content-Length
// from Body when the header is absent. The scratch buffer comes from a
// shared pool since every response on every connection allocates one.
func encodeResponse(rsp *Response) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	version := rsp.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	reason := rsp.Reason
	if reason == "" {
		reason = reasonPhrase(rsp.Status)
	}
	fmt.Fprintf(bb, "%s %d %s\r\n", version, rsp.Status, reason)

	if rsp.Header.Get("Content-Length") == "" {
		rsp.Header.Set("Content-Length", strconv.Itoa(len(rsp.Body)))
	}
	writeHeaders(bb, rsp.Header)
	bb.WriteString("\r\n")
	bb.Write(rsp.Body)

	out := make([]byte, bb.Len())
	copy(out, bb.Bytes())
	return out
}

// encodeRequest serializes req to wire bytes for the client path,
// computing Content-Length from Body when the header is absent.
func encodeRequest(req *Request) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	version := req.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	target := req.Path
	if req.Query != "" {
		target += "?" + req.Query
	}
	fmt.Fprintf(bb, "%s %s %s\r\n", req.Method, target, version)

	if req.Header.Get("Content-Length") == "" && len(req.Body) > 0 {
		req.Header.Set("Content-Length", strconv.Itoa(len(req.Body)))
	}
	writeHeaders(bb, req.Header)
	bb.WriteString("\r\n")
	bb.Write(req.Body)

	out := make([]byte, bb.Len())
	copy(out, bb.Bytes())
	return out
}

// writeHeaders emits headers in a stable, sorted order so wire output is
// deterministic and easy to assert on in tests.
func writeHeaders(bb *bytebufferpool.ByteBuffer, h map[string][]string) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(bb, "%s: %s\r\n", k, v)
		}
	}
}
