package httpkit

// Result classifies the outcome of a client request, distinguishing how
// and where it failed so callers can decide whether to retry, fail the
// caller, or evict a pooled connection.
type Result int

const (
	ResultOK Result = iota
	ResultInvalidURL
	ResultInvalidHost
	ResultConnectFailure
	ResultSendClosedByPeer
	ResultSendSocketError
	ResultTimeout
	ResultCreateSocketError
	ResultPoolGetConnection
	ResultPoolInvalidConnection
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultInvalidURL:
		return "invalid_url"
	case ResultInvalidHost:
		return "invalid_host"
	case ResultConnectFailure:
		return "connect_failure"
	case ResultSendClosedByPeer:
		return "send_closed_by_peer"
	case ResultSendSocketError:
		return "send_socket_error"
	case ResultTimeout:
		return "timeout"
	case ResultCreateSocketError:
		return "create_socket_error"
	case ResultPoolGetConnection:
		return "pool_get_connection"
	case ResultPoolInvalidConnection:
		return "pool_invalid_connection"
	default:
		return "unknown"
	}
}
