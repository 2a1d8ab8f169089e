package httpkit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weftline/corenet/internal/metrics"
	"github.com/weftline/corenet/internal/netkit"
)

// poolKey identifies a distinct pool of reusable connections.
type poolKey struct {
	Host, Port, Scheme string
}

// Dialer opens a new Connection to a pool's target. Supplied by the
// caller so the pool stays agnostic of DNS/hook wiring.
type Dialer func(ctx context.Context, key poolKey) (*Connection, error)

// Pool is a bounded, per-(host,port,scheme) FIFO pool of idle client
// connections. Connections older than maxAlive (measured from when they
// were established, not from their last idle time) or having served
// maxRequests are discarded rather than reused.
//
// Get pops at most one candidate per call (never loops
// silently discarding several stale entries in a row) so a caller that
// times a single acquisition sees a bounded, predictable cost.
type Pool struct {
	mu          sync.Mutex
	conns       map[poolKey]*list.List // each element is *Connection
	maxSize     int
	maxRequests int
	maxAlive    time.Duration
	dial        Dialer
	idleTotal   int

	// Metrics, when set, receives idle-pool-size and dial-count
	// bookkeeping. Nil disables metrics.
	Metrics *metrics.Collectors
}

// NewPool builds a pool. maxSize bounds idle connections retained per
// key; maxRequests bounds reuse count per connection (0 means
// unlimited); maxAlive bounds how long after establishment a connection
// may still be handed out (0 means unlimited).
func NewPool(maxSize, maxRequests int, maxAlive time.Duration, dial Dialer) *Pool {
	return &Pool{
		conns:       make(map[poolKey]*list.List),
		maxSize:     maxSize,
		maxRequests: maxRequests,
		maxAlive:    maxAlive,
		dial:        dial,
	}
}

// Get returns an idle connection for key if one is fresh, else dials a
// new one. Exactly one idle candidate is inspected and popped per call;
// a stale candidate is dropped and a fresh connection is dialed in its
// place rather than scanning further down the list.
func (p *Pool) Get(ctx context.Context, host, port, scheme string) (*Connection, error) {
	key := poolKey{host, port, scheme}

	p.mu.Lock()
	l := p.conns[key]
	var candidate *Connection
	if l != nil && l.Len() > 0 {
		front := l.Front()
		candidate, _ = front.Value.(*Connection)
		l.Remove(front)
		p.idleTotal--
	}
	p.setIdleGauge()
	p.mu.Unlock()

	if candidate != nil && p.isFresh(candidate) {
		return candidate, nil
	}
	if candidate != nil {
		_ = candidate.Close(ctx)
	}

	if p.dial == nil {
		return nil, fmt.Errorf("httpkit: pool has no dialer configured for %s:%s", host, port)
	}
	conn, err := p.dial(ctx, key)
	if err == nil && p.Metrics != nil {
		p.Metrics.PoolConnectionsDials.Inc()
	}
	return conn, err
}

// isFresh reports whether conn is still eligible for reuse. The
// max-alive deadline comparison is inclusive: a connection established
// exactly maxAlive ago is considered expired, i.e.
// !createdAt.Add(maxAlive).After(now).
func (p *Pool) isFresh(conn *Connection) bool {
	if !conn.IsConnected() {
		return false
	}
	if p.maxRequests > 0 && conn.RequestsServed() >= p.maxRequests {
		return false
	}
	if p.maxAlive > 0 && !conn.CreatedAt().IsZero() {
		if !conn.CreatedAt().Add(p.maxAlive).After(time.Now()) {
			return false
		}
	}
	return true
}

// setIdleGauge reflects the current idle-connection count into Metrics,
// if configured. Callers must hold p.mu.
func (p *Pool) setIdleGauge() {
	if p.Metrics != nil {
		p.Metrics.PoolConnectionsIdle.Set(float64(p.idleTotal))
	}
}

// Put returns conn to its pool for host/port/scheme, unless the pool for
// that key is already at maxSize, in which case conn is closed.
func (p *Pool) Put(ctx context.Context, host, port, scheme string, conn *Connection) {
	if conn == nil || !conn.IsConnected() {
		return
	}
	key := poolKey{host, port, scheme}
	conn.MarkIdle(time.Now())

	p.mu.Lock()
	l := p.conns[key]
	if l == nil {
		l = list.New()
		p.conns[key] = l
	}
	full := p.maxSize > 0 && l.Len() >= p.maxSize
	if !full {
		l.PushBack(conn)
		p.idleTotal++
	}
	p.setIdleGauge()
	p.mu.Unlock()

	if full {
		_ = conn.Close(ctx)
	}
}

// NewTCPDialer builds a Dialer that opens a plain TCP connection through
// netkit/hook, the default wiring for http:// targets.
func NewTCPDialer(connectTimeout time.Duration, rspBufSize int, maxRspBody int64) Dialer {
	return func(ctx context.Context, key poolKey) (*Connection, error) {
		addr, err := netkit.LookupAny(ctx, key.Host+":"+key.Port)
		if err != nil {
			return nil, err
		}
		sock, err := netkit.NewTCPSocket(addr.Family)
		if err != nil {
			return nil, err
		}
		if err := sock.Connect(ctx, addr, connectTimeout); err != nil {
			return nil, err
		}
		stream := netkit.NewSocketStream(sock, true)
		conn := NewConnection(stream, rspBufSize, maxRspBody)
		conn.Host, conn.Port, conn.Scheme = key.Host, key.Port, key.Scheme
		return conn, nil
	}
}
