package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/camuig/volscan/internal/config"
	"github.com/camuig/volscan/internal/logger"
	"github.com/camuig/volscan/internal/market"
	"github.com/camuig/volscan/internal/metrics"
	"github.com/camuig/volscan/internal/scheduler"
	"github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/stats"
	"github.com/camuig/volscan/internal/storage"
	"github.com/camuig/volscan/internal/telegram"
	"github.com/camuig/volscan/internal/tracker"
)

const usage = `usage: tracker [-config file] [-db file] <command> [flags]

commands:
  scan -input file        classify a screening file and record new predictions
  reconcile -prices file  resolve pending predictions against a price file
  sweep                   expire pending predictions past their expiry date
  list                    list predictions (-status, -symbol, -limit)
  stats                   print accuracy statistics (-json)
  resolve                 resolve one prediction (-id, -status, -price, -notes)
  cancel                  cancel one prediction (-id, -notes)
  delete                  delete one prediction (-id)
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type app struct {
	cfg     *config.Config
	repo    *storage.Repository
	tracker *tracker.Tracker
	log     zerolog.Logger
	out     io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("tracker", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "config.yaml", "path to config file")
	dbPath := global.String("db", "", "path to SQLite database (overrides config)")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.NewWithWriter(stderr, cfg.Logging.Level, cfg.Logging.Pretty)

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(stderr, "database error: %v\n", err)
		return 1
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	repo := storage.NewRepository(db)
	a := &app{
		cfg:  cfg,
		repo: repo,
		tracker: tracker.New(repo, tracker.Options{
			ExpiryDays:      cfg.Tracker.ExpiryDays,
			DuplicateWindow: cfg.DuplicateWindow(),
			QueryLimit:      cfg.Tracker.QueryLimit,
		}, log.Logger),
		log: log.Logger,
		out: stdout,
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	commands := map[string]func([]string) error{
		"scan":      a.scan,
		"reconcile": a.reconcile,
		"sweep":     a.sweep,
		"list":      a.list,
		"stats":     a.stats,
		"resolve":   a.resolve,
		"cancel":    a.cancel,
		"delete":    a.remove,
	}
	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		global.Usage()
		return 2
	}

	if err := fn(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *app) scan(args []string) error {
	fs := newFlags("scan")
	input := fs.String("input", "", "screening results JSON file")
	notify := fs.Bool("notify", false, "send telegram alerts for new predictions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return errors.New("-input is required")
	}

	stocks, err := market.LoadScreenedFile(*input)
	if err != nil {
		return err
	}

	tgCfg := a.cfg.Telegram
	if !*notify {
		tgCfg.Enabled = false
	}
	classifier := signal.NewClassifier(signal.Thresholds{
		RSIOverbought: a.cfg.Scanner.RSIOverbought,
		RSIOversold:   a.cfg.Scanner.RSIOversold,
	})
	sched := scheduler.NewScheduler(nil, classifier, a.tracker, a.repo,
		telegram.NewNotifier(tgCfg, a.log), metrics.New(), a.cfg, a.log)

	report, err := sched.ScanStocks(stocks)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Screened %d, signals %d, recorded %d, duplicates %d\n",
		report.Screened, len(report.Signals), len(report.Recorded.Recorded), report.Recorded.Duplicates)
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, s := range report.Signals {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%.2f\t%s\n", s.Symbol, s.Type, s.Strength, s.CurrentPrice, s.Rationale)
	}
	return w.Flush()
}

func (a *app) reconcile(args []string) error {
	fs := newFlags("reconcile")
	pricesFile := fs.String("prices", "", "JSON object of symbol to price")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pricesFile == "" {
		return errors.New("-prices is required")
	}

	prices, err := market.LoadPricesFile(*pricesFile)
	if err != nil {
		return err
	}
	res, err := a.tracker.Reconcile(prices)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Checked %d: %d win, %d loss, %d expired, %d without quote\n",
		res.Checked, res.Wins, res.Losses, res.Expired, res.NoQuote)
	return nil
}

func (a *app) sweep(args []string) error {
	if err := newFlags("sweep").Parse(args); err != nil {
		return err
	}
	n, err := a.tracker.SweepExpired()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Expired %d prediction(s)\n", n)
	return nil
}

func (a *app) list(args []string) error {
	fs := newFlags("list")
	status := fs.String("status", "", "pending, win, loss, expired or cancelled")
	symbol := fs.String("symbol", "", "filter by symbol")
	limit := fs.Int("limit", 0, "maximum rows (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	preds, err := a.tracker.Query(tracker.Filter{
		Status: storage.Status(strings.ToLower(*status)),
		Symbol: *symbol,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(preds) == 0 {
		fmt.Fprintln(a.out, "No predictions.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSYMBOL\tTYPE\tENTRY\tTARGET\tSTOP\tSTATUS\tOUTCOME\tP&L")
	for _, p := range preds {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.CreatedAt.Format("2006-01-02 15:04"), p.Symbol, p.SignalType, p.EntryPrice,
			optional(p.TargetPrice, "%.2f"), optional(p.StopLoss, "%.2f"), p.Status,
			optional(p.OutcomePrice, "%.2f"), optional(p.ProfitPct, "%+.2f%%"))
	}
	return w.Flush()
}

func (a *app) stats(args []string) error {
	fs := newFlags("stats")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := stats.NewAggregator(a.repo).Compute()
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(a.out, "Predictions: %d (pending %d, expired %d, cancelled %d)\n", st.Total, st.Pending, st.Expired, st.Cancelled)
	fmt.Fprintf(a.out, "Wins/Losses: %d/%d  win rate %.2f%%\n", st.Wins, st.Losses, st.WinRate)
	fmt.Fprintf(a.out, "Avg win %+.2f%%  avg loss %+.2f%%  profit factor %.2f\n", st.AvgWinPct, st.AvgLossPct, st.ProfitFactor)
	fmt.Fprintf(a.out, "Last 30 days: %d/%d  win rate %.2f%%\n", st.Recent30d.Wins, st.Recent30d.Losses, st.Recent30d.WinRate)

	if len(st.BySignalType) > 0 {
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tRESOLVED\tWINS\tLOSSES\tWIN RATE")
		for _, t := range signal.Types {
			if ts, ok := st.BySignalType[t.String()]; ok {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f%%\n", t, ts.Total, ts.Wins, ts.Losses, ts.WinRate)
			}
		}
		return w.Flush()
	}
	return nil
}

func (a *app) resolve(args []string) error {
	fs := newFlags("resolve")
	id := fs.Uint("id", 0, "prediction id")
	status := fs.String("status", "", "win, loss, expired or cancelled")
	price := fs.Float64("price", 0, "outcome price")
	notes := fs.String("notes", "", "free text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 || *price <= 0 {
		return errors.New("-id and a positive -price are required")
	}

	if err := a.tracker.Resolve(*id, storage.Status(strings.ToLower(*status)), *price, *notes); err != nil {
		return err
	}
	p, err := a.tracker.Get(*id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Prediction %d %s at %.2f (%s)\n", p.ID, p.Status, *price, optional(p.ProfitPct, "%+.2f%%"))
	return nil
}

func (a *app) cancel(args []string) error {
	fs := newFlags("cancel")
	id := fs.Uint("id", 0, "prediction id")
	notes := fs.String("notes", "", "free text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("-id is required")
	}
	if err := a.tracker.Cancel(*id, *notes); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Prediction %d cancelled\n", *id)
	return nil
}

func (a *app) remove(args []string) error {
	fs := newFlags("delete")
	id := fs.Uint("id", 0, "prediction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("-id is required")
	}
	if err := a.tracker.Delete(*id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Prediction %d deleted\n", *id)
	return nil
}

func optional(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}
