package tracker

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camuig/volscan/internal/market"
	"github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(t *testing.T) (*Tracker, *storage.Repository, *fakeClock) {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := storage.NewRepository(db)
	clock := &fakeClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	tr := New(repo, Options{}, zerolog.Nop()).WithClock(clock.Now)
	return tr, repo, clock
}

func f(v float64) *float64 { return &v }

func TestRecord_RoundTrip(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	id, err := tr.Record(NewPrediction{
		Symbol:     "xyz",
		Type:       signal.Put,
		Strength:   signal.Strong,
		EntryPrice: 100,
		Strike:     f(95),
		Target:     f(90),
		Stop:       f(105),
		ExpiryDays: 30,
	})
	require.NoError(t, err)

	preds, err := tr.Query(Filter{Symbol: "XYZ"})
	require.NoError(t, err)
	require.Len(t, preds, 1)

	p := preds[0]
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "XYZ", p.Symbol)
	assert.Equal(t, "PUT", p.SignalType)
	assert.Equal(t, int(signal.Strong), p.SignalStrength)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.Equal(t, 90.0, *p.TargetPrice)
	assert.Equal(t, storage.StatusPending, p.Status)
	assert.True(t, clock.Now().Equal(p.CreatedAt))
	assert.True(t, clock.Now().Add(30*24*time.Hour).Equal(p.ExpiryDate))
	assert.Nil(t, p.OutcomePrice)
	assert.Nil(t, p.OutcomeDate)
	assert.Nil(t, p.ProfitPct)
}

func TestRecord_DefaultExpiry(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	id, err := tr.Record(NewPrediction{Symbol: "ABC", Type: signal.Call, EntryPrice: 10})
	require.NoError(t, err)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.True(t, clock.Now().Add(DefaultExpiryDays*24*time.Hour).Equal(p.ExpiryDate))
}

func TestRecord_RejectsInvalidInput(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	cases := []struct {
		name string
		np   NewPrediction
	}{
		{"empty symbol", NewPrediction{Type: signal.Put, EntryPrice: 10}},
		{"unknown type", NewPrediction{Symbol: "A", Type: signal.Type(42), EntryPrice: 10}},
		{"zero entry", NewPrediction{Symbol: "A", Type: signal.Put}},
		{"negative entry", NewPrediction{Symbol: "A", Type: signal.Put, EntryPrice: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Record(tc.np)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestIsDuplicate_Window(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	_, err := tr.Record(NewPrediction{Symbol: "AAPL", Type: signal.Put, EntryPrice: 180})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	dup, err := tr.IsDuplicate("AAPL", signal.Put, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = tr.IsDuplicate("AAPL", signal.Call, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, dup)

	clock.Advance(24 * time.Hour)
	dup, err = tr.IsDuplicate("AAPL", signal.Put, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestIsDuplicate_IgnoresResolved(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	id, err := tr.Record(NewPrediction{Symbol: "AAPL", Type: signal.Put, EntryPrice: 180})
	require.NoError(t, err)
	require.NoError(t, tr.Cancel(id, "manual"))

	dup, err := tr.IsDuplicate("AAPL", signal.Put, 0)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestProfitPct(t *testing.T) {
	assert.InDelta(t, 11.0, ProfitPct("PUT", 100, 89), 1e-9)
	assert.InDelta(t, 11.0, ProfitPct("PUT_OPPORTUNITY", 100, 89), 1e-9)
	assert.InDelta(t, 5.0, ProfitPct("HEDGE", 100, 95), 1e-9)
	assert.InDelta(t, 10.0, ProfitPct("CALL", 100, 110), 1e-9)
	assert.InDelta(t, -3.0, ProfitPct("VOLATILITY", 100, 97), 1e-9)
	assert.InDelta(t, 2.0, ProfitPct("SOMETHING_ELSE", 50, 51), 1e-9)
	assert.Zero(t, ProfitPct("PUT", 0, 10))
}

func TestResolve_LegacyTypeName(t *testing.T) {
	tr, repo, _ := newTestTracker(t)

	p := &storage.Prediction{
		Symbol:      "XYZ",
		SignalType:  "PUT_OPPORTUNITY",
		EntryPrice:  100,
		TargetPrice: f(90),
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:      storage.StatusPending,
	}
	require.NoError(t, repo.CreatePrediction(p))

	require.NoError(t, tr.Resolve(p.ID, storage.StatusWin, 89, ""))

	got, err := tr.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWin, got.Status)
	assert.InDelta(t, 11.0, *got.ProfitPct, 1e-9)
	assert.Nil(t, got.Notes)
}

func TestResolve_OnlyOnce(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	id, err := tr.Record(NewPrediction{Symbol: "XYZ", Type: signal.Call, EntryPrice: 50, Target: f(55)})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, tr.Resolve(id, storage.StatusWin, 56, "first"))
	first, err := tr.Get(id)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	err = tr.Resolve(id, storage.StatusLoss, 40, "second")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	err = tr.Cancel(id, "")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	second, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWin, second.Status)
	assert.Equal(t, *first.OutcomePrice, *second.OutcomePrice)
	assert.Equal(t, *first.ProfitPct, *second.ProfitPct)
	assert.True(t, first.OutcomeDate.Equal(*second.OutcomeDate))
	assert.Equal(t, "first", *second.Notes)
}

func TestResolve_Errors(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	err := tr.Resolve(999, storage.StatusWin, 1, "")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := tr.Record(NewPrediction{Symbol: "XYZ", Type: signal.Call, EntryPrice: 50})
	require.NoError(t, err)

	err = tr.Resolve(id, storage.StatusPending, 1, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	err = tr.Resolve(id, storage.Status("bogus"), 1, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, p.Status)
	assert.Nil(t, p.OutcomePrice)
}

func TestCancel_UsesEntryPrice(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	id, err := tr.Record(NewPrediction{Symbol: "XYZ", Type: signal.Put, EntryPrice: 42})
	require.NoError(t, err)
	require.NoError(t, tr.Cancel(id, "closed early"))

	p, err := tr.Get(id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCancelled, p.Status)
	assert.Equal(t, 42.0, *p.OutcomePrice)
	assert.Zero(t, *p.ProfitPct)
}

func TestOnResolve_Callback(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	var seen []storage.Prediction
	tr.OnResolve(func(p storage.Prediction) { seen = append(seen, p) })

	id, err := tr.Record(NewPrediction{Symbol: "XYZ", Type: signal.Call, EntryPrice: 100})
	require.NoError(t, err)
	require.NoError(t, tr.Resolve(id, storage.StatusLoss, 90, ""))
	assert.Error(t, tr.Resolve(id, storage.StatusWin, 120, ""))

	require.Len(t, seen, 1)
	assert.Equal(t, storage.StatusLoss, seen[0].Status)
	assert.InDelta(t, -10.0, *seen[0].ProfitPct, 1e-9)
}

func TestReconcile_TargetsAndStops(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	putWin, err := tr.Record(NewPrediction{Symbol: "PW", Type: signal.Put, EntryPrice: 100, Target: f(90), Stop: f(105)})
	require.NoError(t, err)
	putLoss, err := tr.Record(NewPrediction{Symbol: "PL", Type: signal.Put, EntryPrice: 100, Target: f(90), Stop: f(105)})
	require.NoError(t, err)
	callWin, err := tr.Record(NewPrediction{Symbol: "CW", Type: signal.Call, EntryPrice: 100, Target: f(110), Stop: f(95)})
	require.NoError(t, err)
	callLoss, err := tr.Record(NewPrediction{Symbol: "CL", Type: signal.Call, EntryPrice: 100, Target: f(110), Stop: f(95)})
	require.NoError(t, err)
	open, err := tr.Record(NewPrediction{Symbol: "OPEN", Type: signal.Call, EntryPrice: 100, Target: f(110), Stop: f(95)})
	require.NoError(t, err)
	vol, err := tr.Record(NewPrediction{Symbol: "VOL", Type: signal.Volatility, EntryPrice: 100})
	require.NoError(t, err)
	hedge, err := tr.Record(NewPrediction{Symbol: "HDG", Type: signal.Hedge, EntryPrice: 100, Strike: f(90)})
	require.NoError(t, err)

	res, err := tr.Reconcile(market.PriceSnapshot{
		"PW":   90, // exactly at target
		"PL":   106,
		"CW":   110,
		"CL":   94,
		"OPEN": 101,
		"VOL":  150,
		"HDG":  10,
	})
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 7, Wins: 2, Losses: 2}, res)

	expect := map[uint]storage.Status{
		putWin:   storage.StatusWin,
		putLoss:  storage.StatusLoss,
		callWin:  storage.StatusWin,
		callLoss: storage.StatusLoss,
		open:     storage.StatusPending,
		vol:      storage.StatusPending,
		hedge:    storage.StatusPending,
	}
	for id, status := range expect {
		p, err := tr.Get(id)
		require.NoError(t, err)
		assert.Equal(t, status, p.Status, p.Symbol)
	}

	pw, err := tr.Get(putWin)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, *pw.ProfitPct, 1e-9)
	assert.Equal(t, "Target hit: $90.00", *pw.Notes)

	cl, err := tr.Get(callLoss)
	require.NoError(t, err)
	assert.InDelta(t, -6.0, *cl.ProfitPct, 1e-9)
	assert.Equal(t, "Stop loss hit: $94.00", *cl.Notes)
}

func TestReconcile_Expiry(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	quoted, err := tr.Record(NewPrediction{Symbol: "Q", Type: signal.Call, EntryPrice: 100, Target: f(110), Stop: f(95), ExpiryDays: 1})
	require.NoError(t, err)
	missing, err := tr.Record(NewPrediction{Symbol: "M", Type: signal.Put, EntryPrice: 100, ExpiryDays: 1})
	require.NoError(t, err)
	hit, err := tr.Record(NewPrediction{Symbol: "H", Type: signal.Call, EntryPrice: 100, Target: f(110), ExpiryDays: 1})
	require.NoError(t, err)
	fresh, err := tr.Record(NewPrediction{Symbol: "F", Type: signal.Call, EntryPrice: 100, ExpiryDays: 10})
	require.NoError(t, err)

	clock.Advance(2 * 24 * time.Hour)
	res, err := tr.Reconcile(market.PriceSnapshot{"Q": 102, "H": 111})
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 4, Wins: 1, Expired: 2, NoQuote: 1}, res)

	q, err := tr.Get(quoted)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExpired, q.Status)
	assert.Equal(t, 102.0, *q.OutcomePrice)
	assert.InDelta(t, 2.0, *q.ProfitPct, 1e-9)

	m, err := tr.Get(missing)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusExpired, m.Status)
	assert.Equal(t, 100.0, *m.OutcomePrice)
	assert.Zero(t, *m.ProfitPct)
	require.NotNil(t, m.OutcomeDate)

	h, err := tr.Get(hit)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWin, h.Status)

	fr, err := tr.Get(fresh)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, fr.Status)
}

func TestSweepExpired_Idempotent(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	for _, sym := range []string{"A", "B"} {
		_, err := tr.Record(NewPrediction{Symbol: sym, Type: signal.Call, EntryPrice: 20, ExpiryDays: 1})
		require.NoError(t, err)
	}
	keep, err := tr.Record(NewPrediction{Symbol: "C", Type: signal.Call, EntryPrice: 20, ExpiryDays: 5})
	require.NoError(t, err)

	clock.Advance(3 * 24 * time.Hour)
	n, err := tr.SweepExpired()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = tr.SweepExpired()
	require.NoError(t, err)
	assert.Zero(t, n)

	expired, err := tr.Query(Filter{Status: storage.StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired, 2)
	for _, p := range expired {
		assert.Equal(t, 20.0, *p.OutcomePrice)
		assert.Zero(t, *p.ProfitPct)
		require.NotNil(t, p.OutcomeDate)
		assert.True(t, clock.Now().Equal(*p.OutcomeDate))
		assert.Equal(t, noteAutoExpired, *p.Notes)
	}

	p, err := tr.Get(keep)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, p.Status)
}

func TestQuery_FiltersAndLimit(t *testing.T) {
	tr, _, clock := newTestTracker(t)
	for i := 0; i < 5; i++ {
		_, err := tr.Record(NewPrediction{Symbol: "AAA", Type: signal.Call, EntryPrice: 10})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	_, err := tr.Record(NewPrediction{Symbol: "BBB", Type: signal.Put, EntryPrice: 10})
	require.NoError(t, err)

	all, err := tr.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "BBB", all[0].Symbol)

	some, err := tr.Query(Filter{Symbol: "aaa", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, some, 3)

	_, err = tr.Query(Filter{Status: storage.Status("open")})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	syms, err := tr.PendingSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, syms)
}

func TestDelete(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	id, err := tr.Record(NewPrediction{Symbol: "AAA", Type: signal.Call, EntryPrice: 10})
	require.NoError(t, err)

	require.NoError(t, tr.Delete(id))
	assert.ErrorIs(t, tr.Delete(id), ErrNotFound)

	_, err = tr.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordSignals_SkipsDuplicates(t *testing.T) {
	tr, _, clock := newTestTracker(t)

	sigs := []signal.TradingSignal{
		{Symbol: "AAA", Type: signal.Put, Strength: signal.Strong, CurrentPrice: 100, TargetPrice: f(92), StopLoss: f(105)},
		{Symbol: "BBB", Type: signal.Call, Strength: signal.Moderate, CurrentPrice: 50},
		{Symbol: "AAA", Type: signal.Put, Strength: signal.Strong, CurrentPrice: 101},
	}

	res, err := tr.RecordSignals(sigs)
	require.NoError(t, err)
	assert.Len(t, res.Recorded, 2)
	assert.Equal(t, 1, res.Duplicates)

	clock.Advance(2 * time.Hour)
	res, err = tr.RecordSignals(sigs[:2])
	require.NoError(t, err)
	assert.Empty(t, res.Recorded)
	assert.Equal(t, 2, res.Duplicates)

	p, err := tr.Get(1)
	require.NoError(t, err)
	assert.Equal(t, 92.0, *p.TargetPrice)
	assert.Equal(t, 105.0, *p.StopLoss)
}
