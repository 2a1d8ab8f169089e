// Package httpkit implements the HTTP/1.1 server and client stack: a
// line-by-line request/response parser, a server-side Session and
// client-side Connection built on netkit.SocketStream, servlet dispatch,
// a bounded connection pool, and a WebSocket handshake (framing itself is
// out of scope). Grounded on sylar's http module, re-expressed without
// libc parsing helpers.
package httpkit

import "net/http"

// Request is a parsed HTTP/1.1 request.
type Request struct {
	Method  string
	Path    string
	Query   string
	Version string
	Header  http.Header
	Body    []byte
}

// Response is a parsed or about-to-be-written HTTP/1.1 response.
type Response struct {
	Status  int
	Reason  string
	Version string
	Header  http.Header
	Body    []byte
}

// NewResponse builds a Response with sane defaults (HTTP/1.1, empty
// headers) ready for a servlet to fill in.
func NewResponse(status int) *Response {
	return &Response{
		Status:  status,
		Reason:  reasonPhrase(status),
		Version: "HTTP/1.1",
		Header:  make(http.Header),
	}
}

func reasonPhrase(status int) string {
	switch status {
	case 200:
		return "OK"
	case 101:
		return "Switching Protocols"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
