// Command echoserver runs a minimal TCP server on the fiber/IOManager
// stack that echoes back whatever it receives, a smoke test for the
// scheduler and hook-based I/O without any HTTP framing involved.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/hook"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/logging"
	"github.com/weftline/corenet/internal/netkit"
	"github.com/weftline/corenet/internal/sched"
)

func main() {
	var addr string
	var workers int

	root := &cobra.Command{
		Use:   "echoserver",
		Short: "Run a fiber-scheduled TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, workers)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:9000", "listen address")
	root.Flags().IntVar(&workers, "workers", 4, "scheduler worker count")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(addr string, workers int) error {
	logger := logging.New(logging.Options{})

	host, port, _, err := netkit.Parse(addr)
	if err != nil {
		return fmt.Errorf("echoserver: %w", err)
	}

	m, err := iomanager.New(workers, true, "echoserver")
	if err != nil {
		return fmt.Errorf("echoserver: %w", err)
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	listener, err := netkit.NewTCPSocket(netkit.FamilyIPv4)
	if err != nil {
		return fmt.Errorf("echoserver: %w", err)
	}
	if err := listener.SetReuseAddr(); err != nil {
		return err
	}
	bindAddr := netkit.Address{Family: netkit.FamilyIPv4, IP: net.ParseIP(host), Port: port}
	if err := listener.Bind(bindAddr); err != nil {
		return fmt.Errorf("echoserver: bind %s: %w", addr, err)
	}
	if err := listener.Listen(128); err != nil {
		return err
	}
	logger.Info("listening", "addr", addr)

	acceptFiber := fiber.New(func(fctx context.Context) {
		fctx = hook.WithEnabled(fctx, true)
		acceptLoop(fctx, m, listener, logger)
	}, 0)
	m.Schedule(sched.Task{Fiber: acceptFiber})

	m.Start(ctx)
	<-ctx.Done()
	m.Stop(context.Background())
	return nil
}

func acceptLoop(ctx context.Context, m *iomanager.IOManager, listener *netkit.Socket, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		f := fiber.New(func(fctx context.Context) {
			fctx = hook.WithEnabled(fctx, true)
			echoConn(fctx, conn, logger)
		}, 0)
		m.Schedule(sched.Task{Fiber: f})
	}
}

func echoConn(ctx context.Context, conn *netkit.Socket, logger *slog.Logger) {
	defer conn.Close(ctx)
	stream := netkit.NewSocketStream(conn, false)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(ctx, buf)
		if n > 0 {
			if _, werr := stream.WriteFixSize(ctx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
