package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/coopsession"
	"github.com/blukai/coopparty/internal/logging"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
)

const statusInterval = 5 * time.Second

// env is what every subcommand needs before it can run a session.
type env struct {
	config   config.Config
	logger   *log.Logger
	registry *prometheus.Registry
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not process config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &env{
		config:   cfg,
		logger:   logging.Console(cfg.LogLevel),
		registry: registry,
	}, nil
}

// run ticks session until ctx is done, then closes it. afterTick advances the
// demo world.
func (e *env) run(ctx context.Context, session *coopsession.Session, afterTick func(dt time.Duration)) error {
	var metricsServer *http.Server
	if e.config.MetricsAddr != "" {
		metricsServer = e.serveMetrics()
	}

	go e.reportStatus(ctx, session)

	runErr := session.Run(ctx, e.config.TickRate, afterTick)

	var errs error
	if runErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("session run failed: %w", runErr))
	}
	if err := session.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not close session: %w", err))
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not stop metrics server: %w", err))
		}
	}
	return errs
}

func (e *env) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              e.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		e.logger.Info().Str("addr", server.Addr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return server
}

func (e *env) reportStatus(ctx context.Context, session *coopsession.Session) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := session.Status()
		e.logger.Info().
			Str("role", status.Role.String()).
			Str("state", status.State).
			Bool("connected", status.Connected).
			Dur("latency", status.Latency).
			Msg("status")
	}
}

func printBanner(title string, lines ...string) {
	pterm.Println()
	pterm.DefaultBox.WithTitle(title).Println(strings.Join(lines, "\n"))
	pterm.Println()
}
