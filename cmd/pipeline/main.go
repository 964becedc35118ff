package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"dealpipe/internal/channel"
	"dealpipe/internal/config"
	"dealpipe/internal/fetcher"
	"dealpipe/internal/model"
	"dealpipe/internal/queue"
	"dealpipe/internal/scheduler"
	"dealpipe/internal/storage"
	"dealpipe/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	registry := channel.NewRegistry()
	if err := registry.Register(model.ChannelTelegram, channel.NewTelegramSender(log)); err != nil {
		log.Error("register telegram sender", "error", err)
		os.Exit(1)
	}

	q := queue.New(log)
	ingester := worker.NewIngester(store, fetcher.New(http.DefaultClient, cfg.UserAgent), log)
	converter := worker.NewConverter(store, log)
	dispatcher := worker.NewDispatcher(store, registry, log)

	for _, reg := range []struct {
		jobType     queue.JobType
		concurrency int
		handler     queue.Handler
	}{
		{queue.JobIngest, cfg.IngestConcurrency, ingester.Handle},
		{queue.JobConvert, cfg.ConvertConcurrency, converter.Handle},
		{queue.JobDispatch, cfg.DispatchConcurrency, dispatcher.Handle},
	} {
		if err := q.Register(reg.jobType, reg.concurrency, reg.handler); err != nil {
			log.Error("register consumer", "job_type", reg.jobType, "error", err)
			os.Exit(1)
		}
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.IngestInterval = cfg.IngestInterval
	schedCfg.ConvertInterval = cfg.ConvertInterval
	schedCfg.DispatchInterval = cfg.DispatchInterval
	sched := scheduler.New(store, q, schedCfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting pipeline")

	sched.Run(ctx)

	log.Info("draining queue")
	q.Close()

	log.Info("pipeline stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
