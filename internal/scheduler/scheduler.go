package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/camuig/volscan/internal/config"
	"github.com/camuig/volscan/internal/market"
	"github.com/camuig/volscan/internal/metrics"
	"github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/storage"
	"github.com/camuig/volscan/internal/tracker"
)

// MarketSource supplies screening rows and price snapshots.
type MarketSource interface {
	FetchScreened(ctx context.Context, symbols []string) ([]market.ScreenedStock, error)
	FetchQuotes(ctx context.Context, symbols []string) (market.PriceSnapshot, error)
}

type Notifier interface {
	NotifySignal(s signal.TradingSignal)
	NotifySummary(signals []signal.TradingSignal, scanned, recorded int)
	NotifyError(context string, err error)
}

type Scheduler struct {
	cron       *cron.Cron
	market     MarketSource
	classifier *signal.Classifier
	tracker    *tracker.Tracker
	repo       *storage.Repository
	notifier   Notifier
	metrics    *metrics.Recorder
	config     *config.Config
	logger     zerolog.Logger
	loc        *time.Location
	now        func() time.Time
	ctx        context.Context
}

func NewScheduler(
	src MarketSource,
	classifier *signal.Classifier,
	tr *tracker.Tracker,
	repo *storage.Repository,
	notifier Notifier,
	rec *metrics.Recorder,
	cfg *config.Config,
	log zerolog.Logger,
) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	loc := cfg.MarketLocation()
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		market:     src,
		classifier: classifier,
		tracker:    tr,
		repo:       repo,
		notifier:   notifier,
		metrics:    rec,
		config:     cfg,
		logger:     log,
		loc:        loc,
		now:        time.Now,
		ctx:        context.Background(),
	}
}

// WithClock replaces the clock used by the market-hours gate.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start registers the scan and reconcile jobs and runs them on their
// schedules until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	jobs := []struct {
		name, spec string
		run        func(context.Context) error
	}{
		{"scan", s.config.Schedule.Scan, s.scanJob},
		{"reconcile", s.config.Schedule.Reconcile, s.RunReconcile},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(j.name, j.run) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", j.name, j.spec, err)
		}
		s.logger.Info().Str("job", j.name).Str("schedule", j.spec).Msg("job registered")
	}

	s.cron.Start()
	s.logger.Info().Msg("scheduler started")

	// Run immediately on start
	go s.runJob("scan", s.scanJob)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job", name).Str("panic", fmt.Sprint(r)).Msg("panic in scheduled job")
			s.notifier.NotifyError(name+" panic", fmt.Errorf("%v", r))
		}
	}()

	if s.ctx.Err() != nil {
		return
	}
	if err := run(s.ctx); err != nil {
		s.logger.Error().Err(err).Str("job", name).Msg("job failed")
		s.notifier.NotifyError(name, err)
	}
}

func (s *Scheduler) scanJob(ctx context.Context) error {
	if s.config.Schedule.MarketHoursOnly && !IsMarketOpen(s.now(), s.loc) {
		s.logger.Info().Msg("outside market hours, skipping scan")
		return nil
	}
	_, err := s.RunScan(ctx)
	return err
}

// ScanReport describes one scan cycle.
type ScanReport struct {
	Screened  int
	Signals   []signal.TradingSignal
	Recorded  tracker.RecordResult
	Reconcile tracker.ReconcileResult
}

// RunScan fetches screening rows for the watchlist, classifies them,
// records new predictions and reconciles pending ones against the screened
// prices.
func (s *Scheduler) RunScan(ctx context.Context) (ScanReport, error) {
	var report ScanReport
	started := time.Now()
	watchlist := s.config.Scanner.Watchlist

	s.logger.Info().Int("symbols", len(watchlist)).Msg("starting scan")

	stocks, err := s.market.FetchScreened(ctx, watchlist)
	if err != nil {
		s.finishScan(started, len(watchlist), report, err)
		return report, fmt.Errorf("fetch screened: %w", err)
	}
	return s.scan(started, len(watchlist), stocks)
}

// ScanStocks runs a scan cycle over rows that were already fetched, such
// as a screening file.
func (s *Scheduler) ScanStocks(stocks []market.ScreenedStock) (ScanReport, error) {
	return s.scan(time.Now(), len(stocks), stocks)
}

func (s *Scheduler) scan(started time.Time, scanned int, stocks []market.ScreenedStock) (ScanReport, error) {
	report, err := s.process(stocks)
	s.finishScan(started, scanned, report, err)
	return report, err
}

func (s *Scheduler) process(stocks []market.ScreenedStock) (ScanReport, error) {
	report := ScanReport{Screened: len(stocks)}

	report.Signals = s.classifier.ClassifyBatch(stocks, s.config.Scanner.MaxSignals)
	for _, sig := range report.Signals {
		s.metrics.RecordSignal(sig.Type.String(), sig.Strength.String())
		s.logger.Debug().
			Str("symbol", sig.Symbol).
			Str("signal_type", sig.Type.String()).
			Str("strength", sig.Strength.String()).
			Int("points", sig.Points).
			Msg("signal")
	}

	rec, err := s.tracker.RecordSignals(report.Signals)
	report.Recorded = rec
	for _, sig := range rec.Signals {
		s.metrics.RecordPrediction(sig.Type.String())
		s.notifier.NotifySignal(sig)
	}
	s.metrics.RecordDuplicates(rec.Duplicates)
	if err != nil {
		return report, fmt.Errorf("record signals: %w", err)
	}

	if len(report.Signals) > 0 {
		s.notifier.NotifySummary(report.Signals, len(stocks), len(rec.Recorded))
	}

	prices := make(market.PriceSnapshot, len(stocks))
	for _, st := range stocks {
		if st.CurrentPrice > 0 {
			prices[st.Symbol] = st.CurrentPrice
		}
	}
	report.Reconcile, err = s.tracker.Reconcile(prices)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}

	s.logger.Info().
		Int("screened", report.Screened).
		Int("signals", len(report.Signals)).
		Int("recorded", len(rec.Recorded)).
		Int("duplicates", rec.Duplicates).
		Msg("scan completed")
	return report, nil
}

func (s *Scheduler) finishScan(started time.Time, scanned int, report ScanReport, err error) {
	s.metrics.RecordScan(err == nil, time.Since(started))

	log := &storage.ScanLog{
		CreatedAt:  time.Now().UTC(),
		Scanned:    scanned,
		Screened:   report.Screened,
		Signals:    len(report.Signals),
		Recorded:   len(report.Recorded.Recorded),
		Duplicates: report.Recorded.Duplicates,
	}
	if len(report.Signals) > 0 {
		if data, mErr := json.Marshal(report.Signals); mErr == nil {
			log.SignalsJSON = string(data)
		}
	}
	if err != nil {
		log.Error = err.Error()
	}
	if dbErr := s.repo.SaveScanLog(log); dbErr != nil {
		s.logger.Error().Err(dbErr).Msg("save scan log")
	}
}

// RunReconcile fetches quotes for pending symbols and resolves what it
// can. If quotes are unavailable it still expires overdue predictions.
func (s *Scheduler) RunReconcile(ctx context.Context) error {
	symbols, err := s.tracker.PendingSymbols()
	if err != nil {
		return err
	}
	if len(symbols) > 0 {
		prices, qErr := s.market.FetchQuotes(ctx, symbols)
		if qErr != nil {
			s.logger.Warn().Err(qErr).Msg("fetch quotes failed, sweeping expired only")
		} else if _, err := s.tracker.Reconcile(prices); err != nil {
			return err
		}
	}

	if _, err := s.tracker.SweepExpired(); err != nil {
		return err
	}
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
