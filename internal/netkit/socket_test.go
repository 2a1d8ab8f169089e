package netkit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/hook"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/sched"
)

func freeLoopbackPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSocketListenAcceptConnectRoundTrip(t *testing.T) {
	m, err := iomanager.New(2, false, "netkit-test")
	require.NoError(t, err)
	defer m.Close()
	m.Start(context.Background())
	defer m.Stop(context.Background())

	port := freeLoopbackPort(t)
	addr := Address{Family: FamilyIPv4, IP: net.ParseIP("127.0.0.1"), Port: port}

	listener, err := NewTCPSocket(FamilyIPv4)
	require.NoError(t, err)
	require.NoError(t, listener.SetReuseAddr())
	require.NoError(t, listener.Bind(addr))
	require.NoError(t, listener.Listen(16))

	serverRecv := make(chan string, 1)
	serverFiber := fiber.New(func(ctx context.Context) {
		ctx = hook.WithEnabled(ctx, true)
		conn, err := listener.Accept(ctx)
		if err != nil {
			serverRecv <- "accept error: " + err.Error()
			return
		}
		stream := NewSocketStream(conn, true)
		buf := make([]byte, 5)
		_, err = stream.ReadFixSize(ctx, buf)
		if err != nil {
			serverRecv <- "read error: " + err.Error()
			return
		}
		serverRecv <- string(buf)
	}, 0)
	m.Schedule(sched.Task{Fiber: serverFiber})

	clientDone := make(chan error, 1)
	clientFiber := fiber.New(func(ctx context.Context) {
		ctx = hook.WithEnabled(ctx, true)
		client, err := NewTCPSocket(FamilyIPv4)
		if err != nil {
			clientDone <- err
			return
		}
		if err := client.Connect(ctx, addr, time.Second); err != nil {
			clientDone <- err
			return
		}
		stream := NewSocketStream(client, true)
		_, err = stream.WriteFixSize(ctx, []byte("hello"))
		clientDone <- err
	}, 0)
	m.Schedule(sched.Task{Fiber: clientFiber})

	select {
	case err := <-clientDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client fiber never completed")
	}

	select {
	case got := <-serverRecv:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("server fiber never received the payload")
	}
}
