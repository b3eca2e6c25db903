package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/bootlog/internal/config"
	"github.com/Chichichkin/bootlog/internal/daemon"
	"github.com/Chichichkin/bootlog/internal/logger"
	"github.com/Chichichkin/bootlog/internal/logging"
	"github.com/Chichichkin/bootlog/internal/logging/batch"
	"github.com/Chichichkin/bootlog/internal/logging/cache"
	"github.com/Chichichkin/bootlog/internal/logging/capture"
	"github.com/Chichichkin/bootlog/internal/logging/dispatch"
	"github.com/Chichichkin/bootlog/internal/logging/handoff"
	"github.com/Chichichkin/bootlog/internal/logging/loki"
)

const (
	bootstrapPolicyEnv    = "BOOTLOG_BOOTSTRAP_CACHE_POLICY"
	bootstrapMaxEventsEnv = "BOOTLOG_BOOTSTRAP_CACHE_MAX_EVENTS"
)

func run(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := handoff.NewStore()

	sink, err := startCapture(store)
	if err != nil {
		return err
	}
	bootLog := zap.New(capture.NewCore(sink, zapcore.DebugLevel)).Named("bootstrap")
	bootLog.Info("Starting bootlog agent", zap.String("config", configPath))

	cfg, err := config.Load(configPath)
	if err != nil {
		// Nothing else will print what was captured so far.
		sink.Stop()
		if events, ok := handoff.BootstrapEvents(store); ok {
			if console, cerr := logger.NewCore("debug", "console", nil); cerr == nil {
				_ = capture.Replay(console, events)
			}
		}
		return err
	}
	bootLog.Info("Configuration loaded",
		zap.String("loki_url", cfg.Loki.URL),
		zap.String("log_root", cfg.Tail.RootPath),
		zap.Stringer("overflow", cfg.OverflowPolicy()))

	console, err := logger.NewCore(cfg.Logging.Level, cfg.Logging.Format, nil)
	if err != nil {
		return err
	}
	// Pipeline internals log to the console only so that their diagnostics
	// never re-enter the dispatcher they describe.
	diagLog := logger.New(console)

	lokiSender := loki.NewLokiSender(loki.Config{
		URL:        cfg.Loki.URL,
		MaxRetries: cfg.Loki.MaxRetries,
		NodeName:   cfg.Tail.NodeName,
	}, diagLog.Named("loki"))

	processor := batch.NewBatchProcessor(ctx, lokiSender, logging.BatchConfig{
		BatchSize:    cfg.Loki.BatchSize,
		BatchTimeout: cfg.BatchTimeout(),
		QueueSize:    cfg.Loki.QueueSize,
	}, diagLog.Named("batch"))
	processor.Start()

	dispatcher, err := dispatch.New(cfg.Dispatch.Capacity, cfg.OverflowPolicy(),
		dispatch.WithLogger(diagLog.Named("dispatch")))
	if err != nil {
		processor.Stop()
		return err
	}
	if err := dispatcher.Start(processor.Consume); err != nil {
		processor.Stop()
		return err
	}

	level, _ := zapcore.ParseLevel(cfg.Logging.Level)
	log := logger.New(zapcore.NewTee(console, capture.NewCore(dispatcher, level)))

	sink.Stop()
	replayed := replayBootstrap(store, console, dispatcher, diagLog)
	log.Info("Permanent logging active",
		zap.Int("bootstrap_events", replayed),
		zap.Stringer("bootstrap_policy", sink.Policy()),
		zap.String("instance", lokiSender.InstanceID()))

	tailService := daemon.NewTailService(ctx, daemon.Config{
		LogRootPath:     cfg.Tail.RootPath,
		Pattern:         cfg.Tail.Pattern,
		ScanInterval:    cfg.ScanInterval(),
		Workers:         cfg.Tail.Workers,
		FileQueueSize:   cfg.Tail.QueueSize,
		NodeName:        cfg.Tail.NodeName,
		FileIdleTimeout: cfg.IdleTimeout(),
	}, dispatcher, log.Named("tail"))
	tailService.Start()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		log.Info("Received shutdown signal", zap.Stringer("signal", sig))
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	tailService.Stop()

	discarded, stopErr := dispatcher.Stop(cfg.StopTimeout())
	stats := dispatcher.Stats()
	diagLog.Info("Dispatcher stopped",
		zap.Uint64("delivered", stats.Delivered),
		zap.Uint64("dropped", stats.Dropped),
		zap.Int("discarded", discarded))

	processor.Stop()
	_ = diagLog.Sync()

	return multierr.Combine(stopErr, ignoreSyncErr(console.Sync()))
}

// startCapture resolves the bootstrap cache policy from the environment and
// starts capturing. The file configuration is not available yet.
func startCapture(store *handoff.Store) (*capture.Sink, error) {
	policy, err := cache.ParsePolicy(getEnv(bootstrapPolicyEnv, cache.Retain.String()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", bootstrapPolicyEnv, err)
	}

	sink := capture.NewSink(policy, store,
		capture.WithCacheOptions(cache.WithMaxEvents(getEnvAsInt(bootstrapMaxEventsEnv, cache.DefaultMaxEvents))))
	if err := sink.Start(); err != nil {
		return nil, err
	}
	return sink, nil
}

// replayBootstrap writes the published bootstrap events to the console core
// and forwards them to the dispatcher. It returns the number of events found.
func replayBootstrap(store *handoff.Store, console zapcore.Core, sink logging.EventSink, diagLog *zap.Logger) int {
	events, ok := handoff.BootstrapEvents(store)
	if !ok {
		return 0
	}
	if err := capture.Replay(console, events); err != nil {
		diagLog.Warn("Failed to replay bootstrap events", zap.Error(err))
	}
	for _, event := range events {
		sink.Append(event)
	}
	return len(events)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return result
		}
	}
	return defaultValue
}

// Syncing a terminal or pipe fails on some platforms.
func ignoreSyncErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "invalid argument") || strings.Contains(err.Error(), "inappropriate ioctl") {
		return nil
	}
	return err
}
