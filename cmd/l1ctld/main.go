package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sickwell/osmocom-bb-raw/internal/config"
	"github.com/sickwell/osmocom-bb-raw/internal/l1ctl"
	"github.com/sickwell/osmocom-bb-raw/internal/l1sim"
	"github.com/sickwell/osmocom-bb-raw/internal/l1state"
	"github.com/sickwell/osmocom-bb-raw/internal/metrics"
	"github.com/sickwell/osmocom-bb-raw/internal/msgb"
	"github.com/sickwell/osmocom-bb-raw/internal/protocol"
	"github.com/sickwell/osmocom-bb-raw/internal/sercomm"
	"github.com/sickwell/osmocom-bb-raw/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "l1ctld"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("transport", cfg.Transport.Type),
		slog.Float64("frame_duration_ms", cfg.Sim.FrameDuration),
		slog.Int("buffer_pool_size", cfg.Buffers.PoolSize),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

// run wires the components together and blocks until a signal, a fatal
// error or the cancellation of parent
func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	pool, err := msgb.NewPool(cfg.Buffers.PoolSize, cfg.Buffers.BufferSize)
	if err != nil {
		return fmt.Errorf("failed to create message pool: %w", err)
	}

	state := l1state.New(logger)
	mux := sercomm.NewMux(pool, logger, appMetrics)
	emitter := l1ctl.NewEmitter(pool, mux, logger, appMetrics)
	sim := l1sim.New(&cfg.Sim, state, emitter, logger, appMetrics)
	dispatcher := l1ctl.NewDispatcher(state, l1ctl.Layer1{
		Scheduler: sim,
		Cipher:    sim.Cipher(),
		Audio:     sim.Audio(),
	}, emitter, logger, appMetrics)

	fatal := make(chan error, 1)
	dispatcher.OnFatal(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})

	if err := mux.RegisterRx(sercomm.DLCIL1AL23, func(msg *msgb.Msg) {
		dispatcher.Dispatch(msg)
	}); err != nil {
		return err
	}
	if err := mux.RegisterRx(sercomm.DLCIEcho, mux.EchoHandler(sercomm.DLCIEcho)); err != nil {
		return err
	}
	if err := mux.RegisterRx(sercomm.DLCIConsole, consoleHandler(logger)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var link server.LinkStats
	switch cfg.Transport.Type {
	case "serial":
		serialLink := sercomm.NewSerialLink(&cfg.Transport.Serial, mux, logger, appMetrics)
		mux.Attach(serialLink)
		link = serialLink
		g.Go(func() error {
			return serialLink.Run(gctx)
		})
	default:
		udpLink := sercomm.NewUDPLink(&cfg.Transport.UDP, mux, logger, appMetrics)
		if err := udpLink.Start(); err != nil {
			return fmt.Errorf("failed to start UDP link: %w", err)
		}
		mux.Attach(udpLink)
		link = udpLink
		g.Go(func() error {
			<-gctx.Done()
			return udpLink.Stop()
		})
	}

	g.Go(func() error {
		return sim.Run(gctx)
	})

	g.Go(func() error {
		select {
		case err := <-fatal:
			return fmt.Errorf("dispatcher stopped: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg, server.Sources{
			State:      state,
			Dispatcher: dispatcher,
			Mux:        mux,
			Link:       link,
			Pool:       pool,
			Sim:        sim,
			Gatherer:   registry,
		}, logger, appMetrics)

		if err := httpServer.Start(); err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpServer.Stop(shutdownCtx)
		})
	}

	// layer 2/3 learns that layer 1 has (re)started
	if err := emitter.ResetInd(protocol.ResetBoot); err != nil {
		logger.Warn("Failed to send boot reset indication", slog.String("error", err.Error()))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-gctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")
	cancel()
	err = g.Wait()

	state.FlushQueues()
	state.SetMeasReport(nil)

	stats := dispatcher.Stats()
	linkStats := link.GetStatistics()
	logger.Info("Final service statistics",
		slog.Uint64("messages_received", stats.Received),
		slog.Uint64("messages_handled", stats.Handled),
		slog.Uint64("messages_malformed", stats.Malformed),
		slog.Uint64("messages_unknown", stats.Unknown),
		slog.Uint64("frames_received", linkStats.FramesReceived),
		slog.Uint64("frames_sent", linkStats.FramesSent),
		slog.Int("buffers_in_use", pool.InUse()),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// consoleHandler logs text the firmware writes to its console channel
func consoleHandler(logger *slog.Logger) sercomm.RxFunc {
	return func(msg *msgb.Msg) {
		line := strings.TrimRight(string(msg.Bytes()), "\r\n")
		if err := msg.Free(); err != nil {
			logger.Error("Failed to release console frame", slog.String("error", err.Error()))
		}
		if line != "" {
			logger.Info("Firmware console", slog.String("line", line))
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination; file paths are rotated
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		output = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
