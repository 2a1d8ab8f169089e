package httpkit

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/hook"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/metrics"
	"github.com/weftline/corenet/internal/netkit"
	"github.com/weftline/corenet/internal/sched"
)

// ServerConfig bounds a Server's buffers and timeouts.
type ServerConfig struct {
	ReadTimeout    time.Duration
	ReqBufferSize  int
	MaxRequestBody int64

	// Metrics, when set, receives request counts/latency and open
	// connection bookkeeping. Nil disables metrics.
	Metrics *metrics.Collectors
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 120 * time.Second
	}
	if c.ReqBufferSize == 0 {
		c.ReqBufferSize = 8192
	}
	return c
}

// Server is a TCP server scaffold specialized for HTTP/1.1: an accept
// fiber hands each connection to a per-connection process fiber that
// loops recv-dispatch-send until the peer closes or asks to, via
// Connection: close.
type Server struct {
	manager  *iomanager.IOManager
	dispatch *Dispatcher
	cfg      ServerConfig
}

// NewServer builds a Server dispatching through d, scheduled on manager.
func NewServer(manager *iomanager.IOManager, d *Dispatcher, cfg ServerConfig) *Server {
	return &Server{manager: manager, dispatch: d, cfg: cfg.withDefaults()}
}

// Serve accepts connections on listener until ctx is cancelled. It must
// run inside a fiber (it yields on I/O).
func (s *Server) Serve(ctx context.Context, listener *netkit.Socket) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			continue
		}

		f := fiber.New(func(fctx context.Context) {
			fctx = hook.WithEnabled(fctx, true)
			s.serveConn(fctx, conn)
		}, 0)
		s.manager.Schedule(sched.Task{Fiber: f})
	}
}

func (s *Server) serveConn(ctx context.Context, conn *netkit.Socket) {
	conn.SetRecvTimeout(s.cfg.ReadTimeout)
	stream := netkit.NewSocketStream(conn, true)
	defer stream.Close(ctx)

	session := NewSession(stream, s.cfg.ReqBufferSize, s.cfg.MaxRequestBody)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.HTTPConnectionsOpen.Inc()
		defer s.cfg.Metrics.HTTPConnectionsOpen.Dec()
	}

	for {
		req, err := session.RecvRequest(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, hook.ErrTimeout) {
				return
			}
			return
		}

		start := time.Now()
		rsp := NewResponse(200)
		s.dispatch.Dispatch(req, rsp, session)
		rsp.Header.Set("X-Request-Id", uuid.NewString())

		_ = CompressIfAccepted(req, rsp)

		if s.cfg.Metrics != nil {
			s.cfg.Metrics.HTTPRequestsTotal.WithLabelValues(statusClass(rsp.Status)).Inc()
			s.cfg.Metrics.HTTPRequestDuration.WithLabelValues(req.Path).Observe(time.Since(start).Seconds())
		}

		if err := session.SendResponse(ctx, rsp); err != nil {
			return
		}

		if connectionClose(req) {
			return
		}
	}
}

// statusClass buckets an HTTP status into its RFC 7231 class ("2xx",
// "4xx", ...) for the requests-total label.
func statusClass(status int) string {
	class := status / 100
	if class < 1 || class > 5 {
		return "xxx"
	}
	return strconv.Itoa(class) + "xx"
}

func connectionClose(req *Request) bool {
	v := req.Header.Get("Connection")
	if req.Version == "HTTP/1.0" {
		return v == "" || !strings.EqualFold(v, "keep-alive")
	}
	return strings.EqualFold(v, "close")
}
