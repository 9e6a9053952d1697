package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/relaystack/relayworker/collector/internal/api"
	"github.com/relaystack/relayworker/collector/internal/auth"
	"github.com/relaystack/relayworker/collector/internal/config"
	"github.com/relaystack/relayworker/collector/internal/receiver"
	"github.com/relaystack/relayworker/collector/internal/store"
	"github.com/relaystack/relayworker/collector/internal/ws"
)

func main() {
	configPath := flag.String("config", "collector.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("relay-collector starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	c := cfg.Collector
	secret := c.Auth.Secret()
	if c.Auth.Mode == "bearer" && secret == "" {
		slog.Error("bearer auth enabled but secret env is empty", "secret_env", c.Auth.SecretEnv)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"listen_addr", c.ListenAddr,
		"grpc_addr", c.GRPCAddr,
		"auth_mode", c.Auth.Mode,
		"device_ttl", c.DeviceTTL,
		"login_on_connect", c.LoginOnConnect,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Device store with background TTL eviction.
	st := store.New(c.DeviceTTL)
	go st.Run(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recv := receiver.New(st, receiver.NewMetrics(reg))

	endpoint := ws.New(recv, c.LoginOnConnect)
	go endpoint.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(st, endpoint))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/control", auth.Bearer(c.Auth.Mode, secret, http.HandlerFunc(endpoint.ServeControl)))
	mux.Handle("/", auth.Bearer(c.Auth.Mode, secret, http.HandlerFunc(endpoint.ServeData)))

	httpSrv := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", c.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	var (
		grpcSrv *grpc.Server
		hs      *health.Server
	)
	if c.GRPCAddr != "" {
		lis, err := net.Listen("tcp", c.GRPCAddr)
		if err != nil {
			slog.Error("failed to listen on gRPC addr", "addr", c.GRPCAddr, "err", err)
			os.Exit(1)
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryInterceptor(c.Auth.Mode, secret)))
		hs = health.NewServer()
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcSrv, hs)

		go func() {
			slog.Info("gRPC health listening", "addr", c.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("relay-collector shutting down")
	if hs != nil {
		hs.Shutdown()
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
}
