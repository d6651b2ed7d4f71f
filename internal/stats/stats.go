// Package stats computes accuracy statistics over recorded predictions.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/storage"
)

// RecentWindow is the trailing window of Statistics.Recent30d, measured on
// outcome dates.
const RecentWindow = 30 * 24 * time.Hour

type TypeStats struct {
	Total   int64   `json:"total"`
	Wins    int64   `json:"wins"`
	Losses  int64   `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

type WindowStats struct {
	Wins    int64   `json:"wins"`
	Losses  int64   `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

type Statistics struct {
	Total     int64 `json:"total_predictions"`
	Pending   int64 `json:"pending"`
	Wins      int64 `json:"wins"`
	Losses    int64 `json:"losses"`
	Expired   int64 `json:"expired"`
	Cancelled int64 `json:"cancelled"`

	WinRate      float64 `json:"win_rate"`
	AvgWinPct    float64 `json:"avg_win_pct"`
	AvgLossPct   float64 `json:"avg_loss_pct"`
	ProfitFactor float64 `json:"profit_factor"`

	// BySignalType covers win and loss rows only.
	BySignalType map[string]TypeStats `json:"by_signal_type"`
	Recent30d    WindowStats          `json:"recent_30d"`

	ComputedAt time.Time `json:"computed_at"`
}

// Aggregator reads the prediction store on every call; nothing is cached.
type Aggregator struct {
	repo *storage.Repository
	now  func() time.Time
}

func NewAggregator(repo *storage.Repository) *Aggregator {
	return &Aggregator{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = func() time.Time { return now().UTC() }
	return a
}

// Compute builds Statistics from one consistent read of the store.
func (a *Aggregator) Compute() (Statistics, error) {
	now := a.now()
	st := Statistics{BySignalType: make(map[string]TypeStats), ComputedAt: now}

	var (
		counts  []storage.StatusCount
		winSum  storage.ProfitSummary
		lossSum storage.ProfitSummary
		types   []storage.TypeCount
		recent  storage.OutcomeCount
	)
	err := a.repo.Snapshot(func(r *storage.Repository) error {
		var err error
		if counts, err = r.CountByStatus(); err != nil {
			return fmt.Errorf("count by status: %w", err)
		}
		if winSum, err = r.GetProfitSummary(storage.StatusWin); err != nil {
			return fmt.Errorf("win profits: %w", err)
		}
		if lossSum, err = r.GetProfitSummary(storage.StatusLoss); err != nil {
			return fmt.Errorf("loss profits: %w", err)
		}
		if types, err = r.CountResolvedByType(); err != nil {
			return fmt.Errorf("count by type: %w", err)
		}
		if recent, err = r.CountOutcomesSince(now.Add(-RecentWindow)); err != nil {
			return fmt.Errorf("recent outcomes: %w", err)
		}
		return nil
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("compute statistics: %w", err)
	}

	for _, c := range counts {
		st.Total += c.Count
		switch c.Status {
		case storage.StatusPending:
			st.Pending = c.Count
		case storage.StatusWin:
			st.Wins = c.Count
		case storage.StatusLoss:
			st.Losses = c.Count
		case storage.StatusExpired:
			st.Expired = c.Count
		case storage.StatusCancelled:
			st.Cancelled = c.Count
		}
	}

	st.WinRate = winRate(st.Wins, st.Losses)
	st.AvgWinPct = winSum.Average
	st.AvgLossPct = lossSum.Average
	if grossLoss := math.Abs(lossSum.Total); grossLoss > 0 {
		st.ProfitFactor = winSum.Total / grossLoss
	}

	for _, tc := range types {
		// legacy long names fold into the canonical type
		key := tc.SignalType
		if typ, err := signal.ParseType(key); err == nil {
			key = typ.String()
		}
		ts := st.BySignalType[key]
		ts.Total += tc.Total
		ts.Wins += tc.Wins
		ts.Losses += tc.Losses
		ts.WinRate = winRate(ts.Wins, ts.Losses)
		st.BySignalType[key] = ts
	}

	st.Recent30d = WindowStats{
		Wins:    recent.Wins,
		Losses:  recent.Losses,
		WinRate: winRate(recent.Wins, recent.Losses),
	}
	return st, nil
}

func winRate(wins, losses int64) float64 {
	total := wins + losses
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}
