package httpkit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/hook"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/metrics"
	"github.com/weftline/corenet/internal/netkit"
	"github.com/weftline/corenet/internal/sched"
)

// loopbackConnection builds a Connection backed by a live, connected
// loopback socket pair so Pool tests can exercise real IsConnected
// checks without a full HTTP round trip.
func loopbackConnection(t *testing.T, m *iomanager.IOManager) *Connection {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	addr := netkit.Address{Family: netkit.FamilyIPv4, IP: net.ParseIP("127.0.0.1"), Port: port}
	listener, err := netkit.NewTCPSocket(netkit.FamilyIPv4)
	require.NoError(t, err)
	require.NoError(t, listener.SetReuseAddr())
	require.NoError(t, listener.Bind(addr))
	require.NoError(t, listener.Listen(4))

	connCh := make(chan *Connection, 1)
	accepted := fiber.New(func(ctx context.Context) {
		ctx = hook.WithEnabled(ctx, true)
		s, err := listener.Accept(ctx)
		require.NoError(t, err)
		connCh <- NewConnection(netkit.NewSocketStream(s, true), 4096, 0)
	}, 0)
	m.Schedule(sched.Task{Fiber: accepted})

	clientDone := make(chan *Connection, 1)
	client := fiber.New(func(ctx context.Context) {
		ctx = hook.WithEnabled(ctx, true)
		sock, err := netkit.NewTCPSocket(netkit.FamilyIPv4)
		require.NoError(t, err)
		require.NoError(t, sock.Connect(ctx, addr, time.Second))
		clientDone <- NewConnection(netkit.NewSocketStream(sock, true), 4096, 0)
	}, 0)
	m.Schedule(sched.Task{Fiber: client})

	select {
	case c := <-clientDone:
		<-connCh
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("loopback connection never established")
		return nil
	}
}

func TestPoolPutThenGetReturnsSameConnection(t *testing.T) {
	m, err := iomanager.New(2, false, "pool-test")
	require.NoError(t, err)
	defer m.Close()
	m.Start(context.Background())
	defer m.Stop(context.Background())

	pool := NewPool(4, 0, 0, nil)
	conn := loopbackConnection(t, m)

	ctx := context.Background()
	pool.Put(ctx, "example.com", "80", "http", conn)

	got, err := pool.Get(ctx, "example.com", "80", "http")
	require.NoError(t, err)
	assert.Same(t, conn, got)
}

func TestPoolEvictsConnectionOlderThanMaxAlive(t *testing.T) {
	m, err := iomanager.New(2, false, "pool-test2")
	require.NoError(t, err)
	defer m.Close()
	m.Start(context.Background())
	defer m.Stop(context.Background())

	dialed := make(chan struct{}, 1)
	pool := NewPool(4, 0, 10*time.Millisecond, func(ctx context.Context, key poolKey) (*Connection, error) {
		dialed <- struct{}{}
		return loopbackConnection(t, m), nil
	})

	ctx := context.Background()
	stale := loopbackConnection(t, m)
	pool.Put(ctx, "h", "80", "http", stale)

	time.Sleep(20 * time.Millisecond)

	got, err := pool.Get(ctx, "h", "80", "http")
	require.NoError(t, err)
	assert.NotSame(t, stale, got)

	select {
	case <-dialed:
	default:
		t.Fatal("expected the pool to dial a replacement for the stale connection")
	}
}

func TestPoolMetricsTrackIdleCountAndDials(t *testing.T) {
	m, err := iomanager.New(2, false, "pool-test-metrics")
	require.NoError(t, err)
	defer m.Close()
	m.Start(context.Background())
	defer m.Stop(context.Background())

	reg := prometheus.NewRegistry()
	c := metrics.New(reg)

	dialed := make(chan struct{}, 1)
	pool := NewPool(4, 0, 0, func(ctx context.Context, key poolKey) (*Connection, error) {
		dialed <- struct{}{}
		return loopbackConnection(t, m), nil
	})
	pool.Metrics = c

	ctx := context.Background()
	conn := loopbackConnection(t, m)
	pool.Put(ctx, "h", "80", "http", conn)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.EqualValues(t, 1, gaugeValue(families, "corenet_http_pool_connections_idle"))

	_, err = pool.Get(ctx, "h", "80", "http")
	require.NoError(t, err)

	families, err = reg.Gather()
	require.NoError(t, err)
	assert.EqualValues(t, 0, gaugeValue(families, "corenet_http_pool_connections_idle"))

	select {
	case <-dialed:
		t.Fatal("expected the pool hit to reuse conn without dialing")
	default:
	}

	_, err = pool.Get(ctx, "h", "80", "http")
	require.NoError(t, err)
	select {
	case <-dialed:
	default:
		t.Fatal("expected a pool miss to dial and record it")
	}

	families, err = reg.Gather()
	require.NoError(t, err)
	assert.EqualValues(t, 1, counterValue(families, "corenet_http_pool_dials_total"))
}

func gaugeValue(families []*dto.MetricFamily, name string) float64 {
	for _, f := range families {
		if f.GetName() == name {
			return f.Metric[0].GetGauge().GetValue()
		}
	}
	return 0
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	for _, f := range families {
		if f.GetName() == name {
			return f.Metric[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestPoolDropsConnectionWhenFull(t *testing.T) {
	m, err := iomanager.New(2, false, "pool-test3")
	require.NoError(t, err)
	defer m.Close()
	m.Start(context.Background())
	defer m.Stop(context.Background())

	pool := NewPool(1, 0, 0, nil)
	ctx := context.Background()

	first := loopbackConnection(t, m)
	second := loopbackConnection(t, m)
	pool.Put(ctx, "h", "80", "http", first)
	pool.Put(ctx, "h", "80", "http", second)

	got, err := pool.Get(ctx, "h", "80", "http")
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.False(t, second.IsConnected())
}
