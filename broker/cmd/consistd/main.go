package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/consistd/consistd/broker/internal/api"
	"github.com/consistd/consistd/broker/internal/auth"
	"github.com/consistd/consistd/broker/internal/config"
	"github.com/consistd/consistd/broker/internal/dispatch"
	"github.com/consistd/consistd/broker/internal/ingest"
	"github.com/consistd/consistd/broker/internal/metrics"
	"github.com/consistd/consistd/broker/internal/registry"
	"github.com/consistd/consistd/broker/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("consistd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Broker.Level())

	slog.Info("config loaded",
		"client_port", cfg.Broker.Client.Port,
		"ingest_http_port", cfg.Broker.Ingest.HTTPPort,
		"ingest_tcp_port", cfg.Broker.Ingest.TCPPort,
		"auth_mode", cfg.Broker.Auth.Mode,
		"overflow_policy", cfg.Broker.Client.OverflowPolicy,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	met := metrics.New()
	reg := registry.New()

	// Session hub — owns every WebSocket subscriber.
	hub := ws.New(reg, met, cfg.Broker.Client.QueueSize, ws.OverflowPolicy(cfg.Broker.Client.OverflowPolicy))
	go hub.Run(ctx)

	// Ingest worker feeding the dispatcher.
	disp := dispatch.New(reg, hub)
	ing := ingest.New(disp, met, cfg.Broker.Ingest.BacklogSize, cfg.Broker.Ingest.Coalesce)
	go ing.Run(ctx)

	guard := auth.NewGuard(
		cfg.Broker.Auth.Mode,
		cfg.Broker.Auth.EffectiveHeader(),
		cfg.Broker.Auth.Key(),
	)

	// Watch config for hot-reload. Log level and the API key rotate live;
	// ports and queue sizes need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Broker.Level())
			guard.Update(
				updated.Broker.Auth.Mode,
				updated.Broker.Auth.EffectiveHeader(),
				updated.Broker.Auth.Key(),
			)
			slog.Info("config hot-reloaded",
				"log_level", updated.Broker.LogLevel,
				"auth_mode", updated.Broker.Auth.Mode,
			)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	gauges := metrics.Gauges{
		Sessions:      hub.Count,
		Resources:     reg.ResourceCount,
		Subscriptions: reg.SubscriptionCount,
	}

	// Public WebSocket listener for subscribers.
	clientMux := http.NewServeMux()
	clientMux.Handle("/ws/stream", hub)
	clientSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Broker.Client.Port),
		Handler: clientMux,
	}
	go func() {
		slog.Info("client listener up", "port", cfg.Broker.Client.Port)
		if err := clientSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("client listener stopped", "err", err)
		}
	}()

	// Backend-facing HTTP: report API, health, stats, metrics.
	ingestMux := http.NewServeMux()
	ingestMux.Handle("/api/", api.New(ing, guard, met, gauges, cfg.Broker.Ingest.MaxPayloadBytes))
	ingestMux.Handle("/metrics", metrics.Handler(met, gauges))
	ingestSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Broker.Ingest.HTTPPort),
		Handler: ingestMux,
	}
	go func() {
		slog.Info("ingest listener up", "port", cfg.Broker.Ingest.HTTPPort)
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ingest listener stopped", "err", err)
		}
	}()

	// Optional raw TCP report listener for backends that do not speak HTTP.
	if cfg.Broker.Ingest.TCPPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Broker.Ingest.TCPPort))
		if err != nil {
			slog.Error("failed to listen on tcp ingest port",
				"port", cfg.Broker.Ingest.TCPPort, "err", err)
			os.Exit(1)
		}
		tcpSrv := ingest.NewTCPServer(ing)
		go func() {
			slog.Info("tcp ingest listener up", "port", cfg.Broker.Ingest.TCPPort)
			if err := tcpSrv.Serve(ctx, lis); err != nil {
				slog.Error("tcp ingest listener stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("consistd shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Broker.ShutdownGrace)
	defer cancelShutdown()
	clientSrv.Shutdown(shutdownCtx) //nolint:errcheck
	ingestSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
