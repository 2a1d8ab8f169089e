package httpkit

import (
	"strings"
	"sync"
)

// Handler answers one request against a Session, returning the status
// code it wrote. Dispatch logging and metrics key off this return value.
type Handler func(req *Request, rsp *Response, session *Session) int

// Dispatcher routes requests to Handlers by path: an exact-match table
// first, then an ordered list of glob patterns, falling back to a
// default handler (404 if none is registered). Mutation takes the write
// lock; routing only the read lock, so lookups never block each other.
type Dispatcher struct {
	mu       sync.RWMutex
	exact    map[string]Handler
	globs    []globRoute
	notFound Handler
}

type globRoute struct {
	pattern string
	handler Handler
}

// NewDispatcher builds an empty Dispatcher; defaultNotFound supplies the 404
// fallback unless overridden with SetNotFound.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		exact:    make(map[string]Handler),
		notFound: defaultNotFound,
	}
}

func defaultNotFound(req *Request, rsp *Response, session *Session) int {
	*rsp = *NewResponse(404)
	rsp.Body = []byte("not found")
	return 404
}

// Handle registers an exact-match route, or a glob route if pattern
// contains "*" or "?". Glob routes are tried in registration order: the
// first pattern that matches wins, so a caller relying on overlapping
// globs must register the more specific one first.
func (d *Dispatcher) Handle(pattern string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.ContainsAny(pattern, "*?") {
		d.globs = append(d.globs, globRoute{pattern, h})
		return
	}
	d.exact[pattern] = h
}

// SetNotFound overrides the default 404 handler.
func (d *Dispatcher) SetNotFound(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notFound = h
}

// Dispatch finds the handler for req.Path and invokes it.
func (d *Dispatcher) Dispatch(req *Request, rsp *Response, session *Session) int {
	h := d.lookup(req.Path)
	return h(req, rsp, session)
}

func (d *Dispatcher) lookup(reqPath string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if h, ok := d.exact[reqPath]; ok {
		return h
	}
	for _, g := range d.globs {
		if globMatch(g.pattern, reqPath) {
			return g.handler
		}
	}
	return d.notFound
}

// globMatch reports whether s matches pattern, where "*" matches any run
// of characters (including "/") and "?" matches exactly one character —
// fnmatch(pattern, s, 0) semantics, not path.Match's slash-aware variant.
func globMatch(pattern, s string) bool {
	var pi, si int
	starAt, matchFrom := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			starAt = pi
			matchFrom = si
			pi++
		case starAt != -1:
			pi = starAt + 1
			matchFrom++
			si = matchFrom
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
