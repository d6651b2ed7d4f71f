package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camuig/volscan/internal/config"
	"github.com/camuig/volscan/internal/logger"
	"github.com/camuig/volscan/internal/market"
	"github.com/camuig/volscan/internal/metrics"
	"github.com/camuig/volscan/internal/scheduler"
	sig "github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/stats"
	"github.com/camuig/volscan/internal/storage"
	"github.com/camuig/volscan/internal/telegram"
	"github.com/camuig/volscan/internal/tracker"
	"github.com/camuig/volscan/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Pretty)
	mainLog := log.Component("main")
	mainLog.Info().
		Int("watchlist", len(cfg.Scanner.Watchlist)).
		Str("scan", cfg.Schedule.Scan).
		Str("reconcile", cfg.Schedule.Reconcile).
		Msg("starting volscan")

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	repo := storage.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := metrics.New()
	notifier := telegram.NewNotifier(cfg.Telegram, log.Logger)
	tr := tracker.New(repo, tracker.Options{
		ExpiryDays:      cfg.Tracker.ExpiryDays,
		DuplicateWindow: cfg.DuplicateWindow(),
		QueryLimit:      cfg.Tracker.QueryLimit,
	}, log.Logger)
	tr.OnResolve(func(p storage.Prediction) {
		rec.RecordResolution(p.SignalType, string(p.Status))
		notifier.NotifyResolution(p)
	})

	classifier := sig.NewClassifier(sig.Thresholds{
		RSIOverbought: cfg.Scanner.RSIOverbought,
		RSIOversold:   cfg.Scanner.RSIOversold,
	})
	marketClient := market.NewClient(cfg.Market.ScreenerURL, cfg.Market.QuotesURL, cfg.MarketTimeout(), log.Logger)

	sched := scheduler.NewScheduler(marketClient, classifier, tr, repo, notifier, rec, cfg, log.Logger)
	webServer, err := web.NewServer(tr, stats.NewAggregator(repo), repo, rec, cfg, log.Logger)
	if err != nil {
		log.Fatalf("web server init failed: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("scheduler start failed: %v", err)
	}

	go func() {
		if err := webServer.Start(); err != nil {
			mainLog.Error().Err(err).Msg("web server error")
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("🤖 Volatility scanner started (%d symbols)", len(cfg.Scanner.Watchlist)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	mainLog.Info().Str("signal", s.String()).Msg("shutdown signal received")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("web server shutdown error")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	notifier.NotifyStatus("🛑 Volatility scanner stopped")
	mainLog.Info().Msg("volscan stopped")
}
