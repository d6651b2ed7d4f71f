// Package tracker records trading signals as predictions and resolves them
// against later prices.
//
// A prediction leaves the pending state exactly once. Every write is a
// single statement, so concurrent callers only rely on the database's own
// locking.
package tracker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/camuig/volscan/internal/market"
	"github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/storage"
)

var (
	ErrNotFound        = storage.ErrNotFound
	ErrAlreadyResolved = errors.New("prediction already resolved")
	ErrInvalidStatus   = errors.New("invalid outcome status")
	ErrInvalidInput    = errors.New("invalid prediction")
)

const (
	DefaultExpiryDays      = 30
	DefaultDuplicateWindow = 24 * time.Hour
	DefaultQueryLimit      = 100

	noteAutoExpired = "Auto-expired after expiry date"
	noteNoQuote     = "Expired; no quote in snapshot, entry price used"
	noteExpired     = "Position expired without hitting target or stop"
)

type Options struct {
	ExpiryDays      int
	DuplicateWindow time.Duration
	QueryLimit      int
}

// ResolveFunc is called after a prediction leaves pending.
type ResolveFunc func(storage.Prediction)

type Tracker struct {
	repo      *storage.Repository
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
	onResolve []ResolveFunc
}

func New(repo *storage.Repository, opts Options, log zerolog.Logger) *Tracker {
	if opts.ExpiryDays <= 0 {
		opts.ExpiryDays = DefaultExpiryDays
	}
	if opts.DuplicateWindow <= 0 {
		opts.DuplicateWindow = DefaultDuplicateWindow
	}
	if opts.QueryLimit <= 0 {
		opts.QueryLimit = DefaultQueryLimit
	}
	return &Tracker{
		repo:   repo,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With().Str("component", "tracker").Logger(),
	}
}

// WithClock replaces the time source. Times are stored in UTC.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = func() time.Time { return now().UTC() }
	return t
}

// OnResolve registers a callback for every completed resolution.
func (t *Tracker) OnResolve(fn ResolveFunc) {
	t.onResolve = append(t.onResolve, fn)
}

// NewPrediction holds the inputs of Record. ExpiryDays <= 0 uses the
// configured default.
type NewPrediction struct {
	Symbol     string
	Type       signal.Type
	Strength   signal.Strength
	EntryPrice float64
	Strike     *float64
	Target     *float64
	Stop       *float64
	ExpiryDays int
}

// Record stores a pending prediction and returns its id. It does not check
// for duplicates; call IsDuplicate first.
func (t *Tracker) Record(np NewPrediction) (uint, error) {
	symbol := strings.ToUpper(strings.TrimSpace(np.Symbol))
	if symbol == "" {
		return 0, fmt.Errorf("%w: empty symbol", ErrInvalidInput)
	}
	if !np.Type.Valid() {
		return 0, fmt.Errorf("%w: signal type %d", ErrInvalidInput, int(np.Type))
	}
	if np.EntryPrice <= 0 {
		return 0, fmt.Errorf("%w: entry price %.4f", ErrInvalidInput, np.EntryPrice)
	}

	days := np.ExpiryDays
	if days <= 0 {
		days = t.opts.ExpiryDays
	}

	now := t.now()
	p := &storage.Prediction{
		Symbol:          symbol,
		SignalType:      np.Type.String(),
		SignalStrength:  int(np.Strength),
		EntryPrice:      np.EntryPrice,
		SuggestedStrike: np.Strike,
		TargetPrice:     np.Target,
		StopLoss:        np.Stop,
		CreatedAt:       now,
		ExpiryDate:      now.Add(time.Duration(days) * 24 * time.Hour),
		Status:          storage.StatusPending,
	}
	if err := t.repo.CreatePrediction(p); err != nil {
		return 0, fmt.Errorf("record prediction: %w", err)
	}

	t.logger.Debug().
		Uint("id", p.ID).
		Str("symbol", p.Symbol).
		Str("signal_type", p.SignalType).
		Float64("entry_price", p.EntryPrice).
		Msg("prediction recorded")
	return p.ID, nil
}

// IsDuplicate reports whether a pending prediction for the same symbol and
// type was created within the window. A non-positive window uses the
// configured default.
func (t *Tracker) IsDuplicate(symbol string, typ signal.Type, within time.Duration) (bool, error) {
	if within <= 0 {
		within = t.opts.DuplicateWindow
	}
	cutoff := t.now().Add(-within)
	n, err := t.repo.CountPendingSince(strings.ToUpper(symbol), typ.String(), cutoff)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return n > 0, nil
}

// RecordResult summarises RecordSignals. Recorded and Signals are
// parallel.
type RecordResult struct {
	Recorded   []uint
	Signals    []signal.TradingSignal
	Duplicates int
}

// RecordSignals records every signal that is not a duplicate. The entry
// price is the signal's current price.
func (t *Tracker) RecordSignals(signals []signal.TradingSignal) (RecordResult, error) {
	var res RecordResult
	for _, s := range signals {
		dup, err := t.IsDuplicate(s.Symbol, s.Type, 0)
		if err != nil {
			return res, err
		}
		if dup {
			res.Duplicates++
			t.logger.Debug().Str("symbol", s.Symbol).Str("signal_type", s.Type.String()).Msg("duplicate signal skipped")
			continue
		}

		id, err := t.Record(NewPrediction{
			Symbol:     s.Symbol,
			Type:       s.Type,
			Strength:   s.Strength,
			EntryPrice: s.CurrentPrice,
			Strike:     s.SuggestedStrike,
			Target:     s.TargetPrice,
			Stop:       s.StopLoss,
		})
		if err != nil {
			return res, err
		}
		res.Recorded = append(res.Recorded, id)
		res.Signals = append(res.Signals, s)
	}
	return res, nil
}

// ProfitPct applies the sign rule: PUT and HEDGE gain as the price falls,
// every other type gains as it rises. Unknown types count as rising.
func ProfitPct(signalType string, entry, outcome float64) float64 {
	if entry == 0 {
		return 0
	}
	if typ, err := signal.ParseType(signalType); err == nil && typ.ProfitsOnDecline() {
		return (entry - outcome) / entry * 100
	}
	return (outcome - entry) / entry * 100
}

// Resolve moves a pending prediction to a terminal status. Unknown ids
// return ErrNotFound and already resolved ones ErrAlreadyResolved; neither
// changes stored state.
func (t *Tracker) Resolve(id uint, status storage.Status, outcomePrice float64, notes string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	p, err := t.repo.GetPrediction(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load prediction %d: %w", id, err)
	}
	return t.resolve(*p, status, outcomePrice, notes)
}

// Cancel resolves a prediction as cancelled at its entry price.
func (t *Tracker) Cancel(id uint, notes string) error {
	p, err := t.repo.GetPrediction(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load prediction %d: %w", id, err)
	}
	return t.resolve(*p, storage.StatusCancelled, p.EntryPrice, notes)
}

func (t *Tracker) resolve(p storage.Prediction, status storage.Status, price float64, notes string) error {
	if p.Status != storage.StatusPending {
		return fmt.Errorf("%w: id %d is %s", ErrAlreadyResolved, p.ID, p.Status)
	}

	now := t.now()
	profit := ProfitPct(p.SignalType, p.EntryPrice, price)
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	ok, err := t.repo.ResolvePending(p.ID, storage.Outcome{
		Status:    status,
		Price:     price,
		Date:      now,
		ProfitPct: profit,
		Notes:     notesPtr,
	})
	if err != nil {
		return fmt.Errorf("resolve prediction %d: %w", p.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: id %d", ErrAlreadyResolved, p.ID)
	}

	p.Status = status
	p.OutcomePrice = &price
	p.OutcomeDate = &now
	p.ProfitPct = &profit
	p.Notes = notesPtr

	t.logger.Info().
		Uint("id", p.ID).
		Str("symbol", p.Symbol).
		Str("signal_type", p.SignalType).
		Str("status", string(status)).
		Float64("outcome_price", price).
		Float64("profit_pct", profit).
		Msg("prediction resolved")

	for _, fn := range t.onResolve {
		fn(p)
	}
	return nil
}

// ReconcileResult counts what one Reconcile pass did.
type ReconcileResult struct {
	Checked int
	Wins    int
	Losses  int
	Expired int
	NoQuote int
}

// Reconcile checks pending predictions against a price snapshot. Target
// and stop checks run before expiry. Expired predictions without a quote
// are closed at their entry price.
func (t *Tracker) Reconcile(prices market.PriceSnapshot) (ReconcileResult, error) {
	var res ReconcileResult

	pending, err := t.repo.GetPendingPredictions()
	if err != nil {
		return res, fmt.Errorf("load pending predictions: %w", err)
	}

	now := t.now()
	for _, p := range pending {
		res.Checked++
		price, quoted := prices[p.Symbol]
		if quoted && price <= 0 {
			quoted = false
		}

		if quoted {
			if status, note, hit := evaluate(p, price); hit {
				if err := t.resolveInPass(p, status, price, note); err != nil {
					return res, err
				}
				if status == storage.StatusWin {
					res.Wins++
				} else {
					res.Losses++
				}
				continue
			}
		}

		if now.After(p.ExpiryDate) {
			outcome, note := price, noteExpired
			if !quoted {
				outcome, note = p.EntryPrice, noteNoQuote
			}
			if err := t.resolveInPass(p, storage.StatusExpired, outcome, note); err != nil {
				return res, err
			}
			res.Expired++
			continue
		}

		if !quoted {
			res.NoQuote++
		}
	}

	t.logger.Info().
		Int("checked", res.Checked).
		Int("wins", res.Wins).
		Int("losses", res.Losses).
		Int("expired", res.Expired).
		Int("no_quote", res.NoQuote).
		Msg("reconcile completed")
	return res, nil
}

// resolveInPass tolerates rows resolved by another writer since they were
// read.
func (t *Tracker) resolveInPass(p storage.Prediction, status storage.Status, price float64, note string) error {
	err := t.resolve(p, status, price, note)
	if errors.Is(err, ErrAlreadyResolved) {
		t.logger.Warn().Uint("id", p.ID).Msg("prediction resolved concurrently, skipping")
		return nil
	}
	return err
}

func evaluate(p storage.Prediction, price float64) (storage.Status, string, bool) {
	typ, err := signal.ParseType(p.SignalType)
	if err != nil {
		return "", "", false
	}

	switch typ {
	case signal.Put, signal.Hedge:
		if p.TargetPrice != nil && price <= *p.TargetPrice {
			return storage.StatusWin, fmt.Sprintf("Target hit: $%.2f", price), true
		}
		if p.StopLoss != nil && price >= *p.StopLoss {
			return storage.StatusLoss, fmt.Sprintf("Stop loss hit: $%.2f", price), true
		}
	case signal.Call:
		if p.TargetPrice != nil && price >= *p.TargetPrice {
			return storage.StatusWin, fmt.Sprintf("Target hit: $%.2f", price), true
		}
		if p.StopLoss != nil && price <= *p.StopLoss {
			return storage.StatusLoss, fmt.Sprintf("Stop loss hit: $%.2f", price), true
		}
	case signal.Volatility:
		// no directional levels; only expiry closes these
	}
	return "", "", false
}

// SweepExpired expires every pending prediction past its expiry date,
// whether or not a price is known. Running it twice changes nothing more.
func (t *Tracker) SweepExpired() (int64, error) {
	n, err := t.repo.ExpirePendingBefore(t.now(), noteAutoExpired)
	if err != nil {
		return 0, fmt.Errorf("sweep expired predictions: %w", err)
	}
	if n > 0 {
		t.logger.Info().Int64("expired", n).Msg("expired predictions swept")
	}
	return n, nil
}

// Filter narrows Query. Zero values match everything; Limit <= 0 uses the
// configured default.
type Filter struct {
	Status storage.Status
	Symbol string
	Limit  int
}

// Query returns predictions newest first.
func (t *Tracker) Query(f Filter) ([]storage.Prediction, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = t.opts.QueryLimit
	}
	preds, err := t.repo.ListPredictions(storage.PredictionFilter{
		Status: f.Status,
		Symbol: strings.ToUpper(strings.TrimSpace(f.Symbol)),
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	return preds, nil
}

// Get returns one prediction.
func (t *Tracker) Get(id uint) (*storage.Prediction, error) {
	p, err := t.repo.GetPrediction(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load prediction %d: %w", id, err)
	}
	return p, nil
}

// PendingSymbols lists the symbols that still need prices.
func (t *Tracker) PendingSymbols() ([]string, error) {
	syms, err := t.repo.GetPendingSymbols()
	if err != nil {
		return nil, fmt.Errorf("pending symbols: %w", err)
	}
	return syms, nil
}

// Delete removes a prediction. Meant for corrections only.
func (t *Tracker) Delete(id uint) error {
	ok, err := t.repo.DeletePrediction(id)
	if err != nil {
		return fmt.Errorf("delete prediction %d: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	t.logger.Info().Uint("id", id).Msg("prediction deleted")
	return nil
}
