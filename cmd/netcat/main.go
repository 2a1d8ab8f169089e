// Command netcat is a minimal fiber-scheduled TCP client: it connects,
// copies stdin to the socket, and copies the socket to stdout, a manual
// exercise of netkit's Connect/Send/Recv path outside any server loop.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/hook"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/netkit"
	"github.com/weftline/corenet/internal/sched"
)

func main() {
	var connectTimeout time.Duration

	root := &cobra.Command{
		Use:   "netcat [host:port]",
		Short: "Connect to host:port and pipe stdin/stdout over it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], connectTimeout)
		},
	}
	root.Flags().DurationVar(&connectTimeout, "timeout", 5*time.Second, "connect timeout")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(target string, connectTimeout time.Duration) error {
	m, err := iomanager.New(2, false, "netcat")
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	f := fiber.New(func(fctx context.Context) {
		fctx = hook.WithEnabled(fctx, true)
		errCh <- pipe(fctx, m, target, connectTimeout)
		cancel()
	}, 0)
	m.Schedule(sched.Task{Fiber: f})

	m.Start(ctx)
	<-ctx.Done()
	m.Stop(context.Background())

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func pipe(ctx context.Context, m *iomanager.IOManager, target string, connectTimeout time.Duration) error {
	addr, err := netkit.LookupAny(ctx, target)
	if err != nil {
		return fmt.Errorf("netcat: resolve %s: %w", target, err)
	}
	sock, err := netkit.NewTCPSocket(addr.Family)
	if err != nil {
		return err
	}
	if err := sock.Connect(ctx, addr, connectTimeout); err != nil {
		return fmt.Errorf("netcat: connect: %w", err)
	}
	stream := netkit.NewSocketStream(sock, true)
	defer stream.Close(ctx)

	done := make(chan struct{})
	readFiber := fiber.New(func(fctx context.Context) {
		fctx = hook.WithEnabled(fctx, true)
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(fctx, buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}, 0)
	m.Schedule(sched.Task{Fiber: readFiber})

	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, werr := stream.WriteFixSize(ctx, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	<-done
	return nil
}
