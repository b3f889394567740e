package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotad/internal/api"
	"quotad/internal/cluster"
	"quotad/internal/config"
	"quotad/internal/dispatch"
	"quotad/internal/guard"
	"quotad/internal/journal"
	"quotad/internal/logger"
	"quotad/internal/observability"
	"quotad/internal/registry"
	"quotad/internal/supervisor"
	"quotad/internal/transport"
	"quotad/internal/version"
)

var configFile = flag.String("config", "", "Path to configuration file")

// announcer adapts the transport client to the supervisor's announce surface.
type announcer struct {
	client *transport.Client
}

func (a announcer) Announce(ctx context.Context, to cluster.Node, h registry.Handle) (bool, registry.Handle, error) {
	resp, err := a.client.Announce(ctx, to, h)
	if err != nil {
		return false, registry.Handle{}, err
	}
	return resp.Accepted, resp.Current, nil
}

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, cfg.Cluster.NodeID, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, cfg.Cluster.NodeID, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Open the ownership journal when enabled
	var recorder journal.Recorder = journal.Nop{}
	var events api.EventSource
	if cfg.Journal.Enabled {
		jrnl, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			slog.Error("Failed to open ownership journal", "error", err, "path", cfg.Journal.Path)
			os.Exit(1)
		}
		defer jrnl.Close()
		recorder = jrnl
		events = jrnl
	}

	self := cluster.Node{ID: cfg.Cluster.NodeID, Addr: cfg.Cluster.AdvertiseAddr}
	seeds := make([]cluster.Node, 0, len(cfg.Cluster.Peers))
	for _, p := range cfg.Cluster.Peers {
		if p.ID == self.ID {
			continue
		}
		seeds = append(seeds, cluster.Node{ID: p.ID, Addr: p.Addr})
	}

	client := transport.NewClient()
	reg := registry.New()

	// Heartbeats double as registry gossip: every exchange merges both sides'
	// directory snapshots.
	pinger := cluster.PingFunc(func(ctx context.Context, to cluster.Node) error {
		resp, err := client.Heartbeat(ctx, to, transport.HeartbeatRequest{
			NodeID:          self.ID,
			Addr:            self.Addr,
			ProtocolVersion: version.Protocol,
			Handles:         reg.Snapshot(),
		})
		if err != nil {
			return err
		}
		for _, h := range resp.Handles {
			reg.Apply(h)
		}
		return nil
	})

	membership := cluster.NewMembership(self, seeds,
		cfg.Cluster.HeartbeatInterval, cfg.Cluster.OfflineAfter, pinger)

	sup := supervisor.New(supervisor.Config{
		Name:              cfg.Limiter.SingletonName,
		MaxPerWindow:      cfg.Limiter.MaxPerWindow,
		WindowDuration:    cfg.Limiter.WindowDuration,
		RestartDelay:      cfg.Limiter.RestartDelay,
		ReconcileInterval: cfg.Cluster.ReconcileInterval,
	}, membership, reg, announcer{client: client}, recorder)

	dispatcher := dispatch.New(cfg.Limiter.SingletonName, self, cfg.Limiter.CallTimeout, sup, reg, client)

	// Wrap the checker with instrumentation if metrics are enabled
	var checker dispatch.Checker = dispatcher
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedChecker(dispatcher)
		if err != nil {
			slog.Error("Failed to create instrumented checker", "error", err)
			os.Exit(1)
		}
		checker = instrumented
	}

	// Node-local ingress guard for the public API
	var ingress guard.Limiter
	if limiter := guard.FromConfig(cfg.Guard); limiter != nil {
		defer limiter.Close()
		ingress = limiter
	}

	handlers := api.NewHandlers(checker, membership, reg, sup, events)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, ingress, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "node_id", self.ID)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Cluster machinery starts after the listener so peers can reach us as
	// soon as we start heartbeating.
	membership.Start()
	sup.Start()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Singleton first: unregistering before the listener dies lets peers
	// fail over without waiting for the offline threshold.
	sup.Stop()
	membership.Stop()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}
