package httpkit

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherExactMatchWinsOverGlob(t *testing.T) {
	d := NewDispatcher()
	d.Handle("/a/*", func(req *Request, rsp *Response, s *Session) int {
		*rsp = *NewResponse(200)
		rsp.Body = []byte("glob")
		return 200
	})
	d.Handle("/a/b", func(req *Request, rsp *Response, s *Session) int {
		*rsp = *NewResponse(200)
		rsp.Body = []byte("exact")
		return 200
	})

	req := &Request{Path: "/a/b", Header: make(http.Header)}
	rsp := NewResponse(200)
	d.Dispatch(req, rsp, nil)
	assert.Equal(t, "exact", string(rsp.Body))
}

func TestDispatcherGlobFallback(t *testing.T) {
	d := NewDispatcher()
	d.Handle("/static/*", func(req *Request, rsp *Response, s *Session) int {
		*rsp = *NewResponse(200)
		rsp.Body = []byte("static")
		return 200
	})

	req := &Request{Path: "/static/app.js", Header: make(http.Header)}
	rsp := NewResponse(200)
	d.Dispatch(req, rsp, nil)
	assert.Equal(t, "static", string(rsp.Body))
}

func TestDispatcherGlobsMatchInRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	d.Handle("/a/*", func(req *Request, rsp *Response, s *Session) int {
		*rsp = *NewResponse(200)
		rsp.Body = []byte("first")
		return 200
	})
	d.Handle("/a/b*", func(req *Request, rsp *Response, s *Session) int {
		*rsp = *NewResponse(200)
		rsp.Body = []byte("second")
		return 200
	})

	req := &Request{Path: "/a/bc", Header: make(http.Header)}
	rsp := NewResponse(200)
	d.Dispatch(req, rsp, nil)
	assert.Equal(t, "first", string(rsp.Body), "the earlier-registered, less specific glob should win")
}

func TestDispatcherGlobStarCrossesSlash(t *testing.T) {
	d := NewDispatcher()
	d.Handle("/a/*/end", func(req *Request, rsp *Response, s *Session) int {
		*rsp = *NewResponse(200)
		rsp.Body = []byte("matched")
		return 200
	})

	req := &Request{Path: "/a/b/c/end", Header: make(http.Header)}
	rsp := NewResponse(200)
	d.Dispatch(req, rsp, nil)
	assert.Equal(t, "matched", string(rsp.Body))
}

func TestDispatcherDefaultNotFound(t *testing.T) {
	d := NewDispatcher()
	req := &Request{Path: "/missing", Header: make(http.Header)}
	rsp := NewResponse(200)
	status := d.Dispatch(req, rsp, nil)
	assert.Equal(t, 404, status)
	assert.Equal(t, 404, rsp.Status)
}
