// Command httpserver runs the httpkit HTTP/1.1 server with a handful of
// demo routes, wired through config, logging, and metrics the way a
// production deployment of this stack would be.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/weftline/corenet/internal/config"
	"github.com/weftline/corenet/internal/fiber"
	"github.com/weftline/corenet/internal/hook"
	"github.com/weftline/corenet/internal/httpkit"
	"github.com/weftline/corenet/internal/iomanager"
	"github.com/weftline/corenet/internal/logging"
	"github.com/weftline/corenet/internal/metrics"
	"github.com/weftline/corenet/internal/netkit"
	"github.com/weftline/corenet/internal/sched"
)

func main() {
	var addr string
	var workers int
	var configPath string

	root := &cobra.Command{
		Use:   "httpserver",
		Short: "Run the httpkit HTTP/1.1 server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, workers, configPath)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	root.Flags().IntVar(&workers, "workers", 4, "scheduler worker count")
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(addr string, workers int, configPath string) error {
	logger := logging.New(logging.Options{})
	cfg := config.New()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return err
		}
		if err := cfg.Watch(); err != nil {
			return err
		}
		defer cfg.Close()
	}

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	host, port, _, err := netkit.Parse(addr)
	if err != nil {
		return fmt.Errorf("httpserver: %w", err)
	}

	m, err := iomanager.New(workers, true, "httpserver", iomanager.WithMetrics(collectors))
	if err != nil {
		return fmt.Errorf("httpserver: %w", err)
	}
	defer m.Close()

	listener, err := netkit.NewTCPSocket(netkit.FamilyIPv4)
	if err != nil {
		return err
	}
	if err := listener.SetReuseAddr(); err != nil {
		return err
	}
	bindAddr := netkit.Address{Family: netkit.FamilyIPv4, IP: net.ParseIP(host), Port: port}
	if err := listener.Bind(bindAddr); err != nil {
		return fmt.Errorf("httpserver: bind %s: %w", addr, err)
	}
	if err := listener.Listen(256); err != nil {
		return err
	}

	bufSize, _ := cfg.GetInt("http.request.buffer_size")
	readTimeoutMs, _ := cfg.GetInt("tcp_server.read_timeout")

	d := httpkit.NewDispatcher()
	d.Handle("/", func(req *httpkit.Request, rsp *httpkit.Response, s *httpkit.Session) int {
		*rsp = *httpkit.NewResponse(200)
		rsp.Body = []byte("corenet httpserver\n")
		return 200
	})
	d.Handle("/health", func(req *httpkit.Request, rsp *httpkit.Response, s *httpkit.Session) int {
		*rsp = *httpkit.NewResponse(200)
		rsp.Body = []byte("ok")
		return 200
	})

	srv := httpkit.NewServer(m, d, httpkit.ServerConfig{
		ReadTimeout:   time.Duration(readTimeoutMs) * time.Millisecond,
		ReqBufferSize: bufSize,
		Metrics:       collectors,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	serverFiber := fiber.New(func(fctx context.Context) {
		fctx = hook.WithEnabled(fctx, true)
		_ = srv.Serve(fctx, listener)
	}, 0)
	m.Schedule(sched.Task{Fiber: serverFiber})

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		_ = http.ListenAndServe("127.0.0.1:9090", mux)
	}()

	logger.Info("listening", "addr", addr, "metrics_addr", "127.0.0.1:9090")
	m.Start(ctx)
	<-ctx.Done()
	m.Stop(context.Background())
	return nil
}
