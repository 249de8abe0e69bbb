package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codexsync/codex/internal/clock"
	"github.com/codexsync/codex/internal/config"
	"github.com/codexsync/codex/internal/tracing"
	"github.com/codexsync/codex/internal/transport"
	"github.com/codexsync/codex/internal/types"
	"github.com/codexsync/codex/pkg/codex"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the codex sync server",
		Long:  "Start the TCP and WebSocket peer listeners plus the Prometheus metrics endpoint",
		RunE:  runServe,
	}
	cmd.Flags().String("config", "", "path to a YAML config file (optional)")
	cmd.Flags().String("self", "", "this replica's user id (overrides config/env)")
	cmd.Flags().String("tcp-address", "", "TCP listen address (overrides config/env)")
	cmd.Flags().String("websocket-address", "", "WebSocket listen address (overrides config/env)")
	cmd.Flags().String("metrics-address", "", "HTTP metrics listen address (overrides config/env)")
	cmd.Flags().String("data-dir", "", "persistence data directory (overrides config/env)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	self, _ := cmd.Flags().GetString("self")
	tcpAddr, _ := cmd.Flags().GetString("tcp-address")
	wsAddr, _ := cmd.Flags().GetString("websocket-address")
	metricsAddr, _ := cmd.Flags().GetString("metrics-address")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if tcpAddr != "" {
		cfg.Server.TCPAddress = tcpAddr
	}
	if wsAddr != "" {
		cfg.Server.WebSocketAddress = wsAddr
	}
	if metricsAddr != "" {
		cfg.Server.MetricsAddress = metricsAddr
	}
	if dataDir != "" {
		cfg.Persistence.DataDir = dataDir
	}
	if self == "" {
		self = fmt.Sprintf("replica-%d", os.Getpid())
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := codex.DefaultOptions(types.UserId(self))
	opts.Config = cfg
	engine, err := codex.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	srv := newServer(engine)
	dispatch := srv.dispatch()
	selfClock := clock.NewVectorClock()

	tcpListener, err := transport.ListenTCP(cfg.Server.TCPAddress, types.UserId(self), selfClock, dispatch)
	if err != nil {
		engine.Close()
		return fmt.Errorf("listening on %s: %w", cfg.Server.TCPAddress, err)
	}
	tcpListener.OnConnect = srv.onConnect
	tcpListener.OnDisconnect = srv.onDisconnect
	go tcpListener.Serve(ctx)

	wsServer := transport.NewWebSocketServer(types.UserId(self), selfClock, dispatch)
	wsServer.OnConnect = srv.onConnect
	wsServer.OnDisconnect = srv.onDisconnect
	wsMux := http.NewServeMux()
	wsMux.Handle("/", wsServer)
	wsHTTP := &http.Server{Addr: cfg.Server.WebSocketAddress, Handler: wsMux}
	go func() {
		if err := wsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "codexd: websocket listener: %v\n", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsHandler())
	metricsHTTP := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: metricsMux}
	go func() {
		if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "codexd: metrics listener: %v\n", err)
		}
	}()

	fmt.Printf("codexd replica %q listening:\n", self)
	fmt.Printf("  tcp       %s\n", tcpListener.Addr())
	fmt.Printf("  websocket %s\n", cfg.Server.WebSocketAddress)
	fmt.Printf("  metrics   http://%s/metrics\n", cfg.Server.MetricsAddress)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("codexd: shutting down")
	cancel()
	tcpListener.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	wsHTTP.Shutdown(shutdownCtx)
	metricsHTTP.Shutdown(shutdownCtx)

	return engine.Close()
}
