package httpkit

import (
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// IsUpgradeRequest reports whether req asks for a WebSocket upgrade, per
// RFC 6455: Upgrade: websocket and a Connection header that mentions
// "upgrade" among its (possibly comma-separated) tokens.
func IsUpgradeRequest(req *Request) bool {
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, tok := range strings.Split(req.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}

// HandshakeResponse builds the 101 Switching Protocols response that
// completes a WebSocket handshake for req, computing Sec-WebSocket-Accept
// via the library's exported ComputeAcceptKey. Framing of subsequent
// messages is out of scope; callers take over the raw socket after this.
func HandshakeResponse(req *Request) (*Response, error) {
	if !IsUpgradeRequest(req) {
		return nil, fmt.Errorf("httpkit: not a websocket upgrade request")
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("httpkit: missing Sec-WebSocket-Key")
	}

	rsp := NewResponse(101)
	rsp.Header.Set("Upgrade", "websocket")
	rsp.Header.Set("Connection", "Upgrade")
	rsp.Header.Set("Sec-WebSocket-Accept", websocket.ComputeAcceptKey(key))
	if proto := req.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		rsp.Header.Set("Sec-WebSocket-Protocol", strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return rsp, nil
}
