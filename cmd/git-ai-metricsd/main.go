// git-ai-metricsd receives git-ai usage events as NDJSON on stdin,
// aggregates them in memory and delivers them to the git-ai API, with a
// persistent fallback queue and an optional OTLP sink.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/git-ai-tools/metrics-pipeline/internal/compression"
	"github.com/git-ai-tools/metrics-pipeline/internal/config"
	"github.com/git-ai-tools/metrics-pipeline/internal/fallback"
	"github.com/git-ai-tools/metrics-pipeline/internal/logging"
	"github.com/git-ai-tools/metrics-pipeline/internal/otlp"
	"github.com/git-ai-tools/metrics-pipeline/internal/recorder"
	"github.com/git-ai-tools/metrics-pipeline/internal/scheduler"
	"github.com/git-ai-tools/metrics-pipeline/internal/stats"
	"github.com/git-ai-tools/metrics-pipeline/internal/telemetry"
	"github.com/git-ai-tools/metrics-pipeline/internal/uploader"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".git-ai", "config.yml")
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to YAML config file")
	statsAddr := flag.String("stats-addr", "", "address for the Prometheus /metrics endpoint (empty disables)")
	once := flag.Bool("once", false, "read events until EOF, flush once and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", config.ServiceName, config.Version())
		return
	}

	// Respect container memory limits so aggressive event bursts do not
	// get the process OOM-killed before GC reacts.
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		logging.Debug("no memory limit detected", logging.F("error", err.Error()))
	}

	cfg := config.Resolve(*configPath)
	res := recorder.Resource{ServiceName: config.ServiceName, ServiceVersion: config.Version()}
	logging.SetResource(res.Map())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint: cfg.TelemetryEndpoint,
		Protocol: cfg.TelemetryProtocol,
		Insecure: true,
	}, config.ServiceName, config.Version())
	if err != nil {
		logging.Warn("self-monitoring disabled", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
			defer shutdownCancel()
			_ = tel.Shutdown(shutdownCtx)
		}()
	}

	rec := recorder.New()

	comp, err := compression.ParseType(cfg.APICompression)
	if err != nil {
		logging.Warn("invalid compression type, using none", logging.F("error", err.Error()))
		comp = compression.TypeNone
	}

	up := uploader.New(uploader.Config{
		Endpoint:    cfg.APIEndpoint,
		Token:       cfg.APIToken,
		Timeout:     cfg.APITimeout,
		Compression: comp,
	})
	defer up.Close()

	// A broken fallback store degrades to memory-only delivery rather
	// than blocking metrics entirely.
	var store *fallback.Store
	if cfg.FallbackPath != "" {
		store, err = fallback.Open(fallback.Config{Path: cfg.FallbackPath})
		if err != nil {
			logging.Warn("fallback store unavailable, running memory-only",
				logging.F("path", cfg.FallbackPath, "error", err.Error()))
			store = nil
		} else {
			defer store.Close()
		}
	}

	apiPipe := uploader.NewPipeline(rec, up, store, res, uploader.PipelineConfig{
		MaxAttempts: cfg.FallbackMaxAttempts,
		MaxAge:      cfg.FallbackMaxAge,
	})

	sched := scheduler.New(scheduler.DefaultGrace)
	sched.Add("api", cfg.APIExportInterval, apiPipe)

	if cfg.OTelEnabled {
		exp, err := otlp.New(otlp.Config{
			Endpoint:   cfg.OTelEndpoint,
			Protocol:   otlp.Protocol(cfg.OTelProtocol),
			AuthHeader: cfg.OTelAuthHeader,
			Resource:   res,
		})
		if err != nil {
			logging.Warn("OTLP sink disabled", logging.F("error", err.Error()))
		} else {
			otlpPipe := otlp.NewPipeline(rec, exp)
			defer otlpPipe.Close()
			sched.Add("otlp", cfg.OTelExportInterval, otlpPipe)
		}
	}

	sched.Start(ctx)

	logging.Info("git-ai metrics pipeline started", logging.F(
		"api_endpoint", cfg.APIEndpoint,
		"api_interval", cfg.APIExportInterval.String(),
		"otel_enabled", cfg.OTelEnabled,
		"otel_compiled", otlp.Available,
		"fallback", store != nil,
		"version", config.Version(),
	))

	if *once {
		readEvents(os.Stdin, rec)
		if err := sched.Close(context.Background()); err != nil {
			logging.Error("final flush failed", logging.F("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	reporter := stats.NewReporter(rec, 30*time.Second)
	reporter.Start(ctx)

	var statsServer *http.Server
	if *statsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		statsServer = &http.Server{Addr: *statsAddr, Handler: mux}
		go func() {
			logging.Info("stats endpoint started", logging.F("addr", *statsAddr, "path", "/metrics"))
			if err := statsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("stats server error", logging.F("error", err.Error()))
			}
		}()
	}

	// The producer closing stdin is a shutdown request just like a
	// signal: drain and exit.
	stdinDone := make(chan struct{})
	go func() {
		readEvents(os.Stdin, rec)
		close(stdinDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logging.Info("shutting down", logging.F("signal", sig.String()))
	case <-stdinDone:
		logging.Info("event stream closed, shutting down")
	}

	if statsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = statsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	reporter.Close()
	if err := sched.Close(context.Background()); err != nil {
		logging.Error("final flush failed", logging.F("error", err.Error()))
	}
	cancel()

	logging.Info("shutdown complete")
}
