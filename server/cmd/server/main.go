package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bazaarmirror/bazaarmirror/server/internal/alerts"
	"github.com/bazaarmirror/bazaarmirror/server/internal/api"
	"github.com/bazaarmirror/bazaarmirror/server/internal/auth"
	"github.com/bazaarmirror/bazaarmirror/server/internal/config"
	"github.com/bazaarmirror/bazaarmirror/server/internal/market"
	"github.com/bazaarmirror/bazaarmirror/server/internal/metrics"
	"github.com/bazaarmirror/bazaarmirror/server/internal/ratelimit"
	"github.com/bazaarmirror/bazaarmirror/server/internal/refresher"
	"github.com/bazaarmirror/bazaarmirror/server/internal/store"
	"github.com/bazaarmirror/bazaarmirror/server/internal/upstream"
	"github.com/bazaarmirror/bazaarmirror/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file; empty runs with defaults")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("bazaar-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	slog.SetDefault(newLogger(cfg.Log.Format, level))

	slog.Info("bazaar-server starting",
		"config", configPath,
		"http_port", cfg.Server.HTTPPort,
		"upstream", cfg.Upstream.URL,
		"refresh_interval", cfg.Refresh.Interval,
		"auth_mode", cfg.Server.Auth.Mode,
		"rate_limit", cfg.Server.RateLimit.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New()
	reg := metrics.New()
	query := market.NewEngine(st)

	ref := refresher.New(st, upstream.New(cfg.Upstream), cfg.Refresh.Interval, cfg.Upstream.Timeout)
	ref.SetObserver(reg)

	certs := upstream.NewCertMonitor(cfg.Upstream.URL, cfg.Upstream.CertCheckInterval)
	ref.SetCertSource(certs)

	alertEngine := alerts.New(cfg.Alerts)
	ref.OnCycle(alertEngine.Evaluate)

	hub := ws.New(query, cfg.Server.Stream.Interval)
	ref.OnCycle(func(refresher.Status) { hub.Notify() })

	limits := ratelimit.NewSet(cfg.Server.RateLimit, reg)

	mux := http.NewServeMux()
	mux.Handle("/", api.New(query, ref, alertEngine, limits))
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/ws/stream", hub)

	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/health", "/metrics",
	)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           api.WithRequestID(api.WithLogging(requireKey(mux), reg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ref.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limits.Run(gctx)
		return nil
	})
	g.Go(func() error {
		certs.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, cfg, func(next *config.Config) {
				level.Set(next.Log.SlogLevel())
				ref.SetInterval(next.Refresh.Interval)
				limits.Apply(next.Server.RateLimit)
			})
			if err != nil {
				// Hot reload is optional; keep serving with the startup config.
				slog.Warn("config: watch disabled", "path", configPath, "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("bazaar-server shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	alertEngine.Wait()
	return err
}

// newLogger builds the process logger. format is "json" or "text".
func newLogger(format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
