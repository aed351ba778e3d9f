// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adchub/adchub/internal/config"
	"github.com/adchub/adchub/internal/hub"
	"github.com/adchub/adchub/internal/logging"
	"github.com/adchub/adchub/internal/netconn"
	"github.com/adchub/adchub/internal/observability"
	"github.com/adchub/adchub/internal/plugin"
	"github.com/adchub/adchub/internal/plugin/stats"
	"github.com/adchub/adchub/internal/route"
	"github.com/adchub/adchub/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long: `Run the hub: accept ADC clients, log them in and relay their
messages. Settings come from the config file and flags; flags win.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the hub until ctx is cancelled. If deps is nil,
// default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StatsStoreFactory == nil {
		deps.StatsStoreFactory = func(ctx context.Context, url string) (StatsStore, error) {
			return stats.Connect(ctx, url)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.SetDefault(logging.Options{
		Service: "adchub",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Writer:  cmd.ErrOrStderr(),
	}); err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	slog.Info("starting hub",
		"listen", cfg.Listen,
		"hub_name", cfg.HubName,
		"max_users", cfg.MaxUsers,
	)

	plugins := plugin.NewDispatcher()
	var statsStore StatsStore
	if cfg.Stats.Enabled {
		store, err := deps.StatsStoreFactory(ctx, cfg.Stats.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		statsStore = store

		// Users recorded online by a previous run that did not shut down
		// cleanly are offline now.
		if n, err := store.ResetOnline(ctx); err != nil {
			errutil.LogWarn(nil, "failed to reset online users", err)
		} else if n > 0 {
			slog.Info("reset stale online users", "count", n)
		}
		plugins.Register(stats.New(store))
		slog.Info("statistics plugin enabled")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var h *hub.Hub
	ready := func() bool { return h != nil && h.Ready() }

	var obsServer *observability.Server
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, ready, route.RegisterMetrics, plugin.RegisterMetrics)
		metrics = obsServer.Metrics()
	}

	h = hub.New(hub.Options{
		Name:        cfg.HubName,
		Description: cfg.HubDescription,
		MaxUsers:    cfg.MaxUsers,
		Limits:      cfg.Limits(),
		NATOverride: cfg.NATOverride,
	}, plugins, metrics)

	metricsAddr := ""
	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer stopObservability(obsServer)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metricsAddr = obsServer.Addr()
	}

	srv := netconn.NewServer(cfg.Listen, h, cfg.MaxLineLength)
	if err := srv.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	if deps.Started != nil {
		deps.Started(srv.Addr(), metricsAddr)
	}
	cmd.Println("Hub started")
	slog.Info("hub ready", "listen", srv.Addr(), "metrics_addr", metricsAddr)

	err := g.Wait()
	if statsStore != nil {
		checkOnline(ctx, statsStore)
	}
	slog.Info("shutdown complete")
	return err
}

// checkOnline runs after the hub has logged everyone out and the plugin
// hooks have drained, so every row should be offline.
func checkOnline(ctx context.Context, store StatsStore) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	n, err := store.Online(ctx)
	switch {
	case err != nil:
		errutil.LogWarn(nil, "failed to count online users", err)
	case n > 0:
		slog.Warn("users still recorded online after shutdown", "count", n)
	default:
		slog.Debug("all users recorded offline")
	}
}

func stopObservability(s *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel is closed or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
