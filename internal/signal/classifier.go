package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/camuig/volscan/internal/greeks"
	"github.com/camuig/volscan/internal/market"
)

// MinPoints is the score a rule set needs before it fires.
const MinPoints = 3

const (
	putTargetDelta = -0.30
	putExpiryDays  = 30
)

// Thresholds are the configurable rule inputs.
type Thresholds struct {
	RSIOverbought float64
	RSIOversold   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{RSIOverbought: 70, RSIOversold: 30}
}

// Classifier turns screened stocks into at most one signal each. Rule sets
// are tried in a fixed priority order and the first to reach MinPoints
// wins.
type Classifier struct {
	th  Thresholds
	now func() time.Time
}

func NewClassifier(th Thresholds) *Classifier {
	return &Classifier{th: th, now: time.Now}
}

// WithClock replaces the timestamp source.
func (c *Classifier) WithClock(now func() time.Time) *Classifier {
	c.now = now
	return c
}

type rule func(market.ScreenedStock) (TradingSignal, bool)

func (c *Classifier) rules() []rule {
	return []rule{c.checkPut, c.checkCall, c.checkHedge, c.checkVolatility}
}

// Classify returns the signal for stock, if any rule set fires.
func (c *Classifier) Classify(stock market.ScreenedStock) (TradingSignal, bool) {
	if stock.CurrentPrice <= 0 {
		return TradingSignal{}, false
	}
	for _, r := range c.rules() {
		if sig, ok := r(stock); ok {
			return sig, true
		}
	}
	return TradingSignal{}, false
}

// ClassifyBatch classifies every stock and orders the signals by strength,
// then risk/reward, both descending. maxSignals <= 0 keeps all of them.
func (c *Classifier) ClassifyBatch(stocks []market.ScreenedStock, maxSignals int) []TradingSignal {
	signals := make([]TradingSignal, 0, len(stocks))
	for _, s := range stocks {
		if sig, ok := c.Classify(s); ok {
			signals = append(signals, sig)
		}
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Strength != signals[j].Strength {
			return signals[i].Strength > signals[j].Strength
		}
		return signals[i].RiskRewardOrZero() > signals[j].RiskRewardOrZero()
	})

	if maxSignals > 0 && len(signals) > maxSignals {
		signals = signals[:maxSignals]
	}
	return signals
}

type score struct {
	points int
	parts  []string
}

func (s *score) add(points int, format string, args ...any) {
	s.points += points
	s.parts = append(s.parts, fmt.Sprintf(format, args...))
}

func (s *score) fired() bool {
	return s.points >= MinPoints
}

func (s *score) rationale() string {
	return strings.Join(s.parts, "; ")
}

func (c *Classifier) checkPut(s market.ScreenedStock) (TradingSignal, bool) {
	var sc score
	if s.RSI > c.th.RSIOverbought {
		sc.add(2, "RSI overbought at %.1f", s.RSI)
	}
	if s.IVRank != nil && *s.IVRank > 50 {
		sc.add(1, "IV Rank elevated at %.1f", *s.IVRank)
	}
	if s.BBPBand > 1 {
		sc.add(2, "Price above upper Bollinger Band")
	} else if s.BBPBand > 0.8 {
		sc.add(1, "Price near upper Bollinger Band")
	}
	if s.ATRPercentile > 80 {
		sc.add(1, "High volatility (ATR %%ile: %.0f)", s.ATRPercentile)
	}
	if !sc.fired() {
		return TradingSignal{}, false
	}

	price := s.CurrentPrice
	strike := greeks.SuggestPutStrike(price, putTargetDelta, s.Volatility(), putExpiryDays)
	stop := price * 1.05
	target := strike

	metrics := Metrics{
		MetricRSI:           round(s.RSI, 1),
		MetricATRPercentile: round(s.ATRPercentile, 1),
		MetricBBPBand:       round(s.BBPBand, 2),
		MetricHV:            round(s.HistoricalVolatility*100, 1),
	}
	addIVRank(metrics, s)

	return TradingSignal{
		Symbol:              s.Symbol,
		Type:                Put,
		Strength:            StrengthFromPoints(sc.points),
		Points:              sc.points,
		Timestamp:           c.now(),
		CurrentPrice:        price,
		EntryPrice:          ptr(price),
		SuggestedStrike:     ptr(strike),
		StopLoss:            ptr(round(stop, 2)),
		TargetPrice:         ptr(round(target, 2)),
		RiskReward:          riskReward(price-target, stop-price),
		Rationale:           sc.rationale(),
		KeyMetrics:          metrics,
		SuggestedExpiryDays: putExpiryDays,
		SuggestedDelta:      putTargetDelta,
	}, true
}

func (c *Classifier) checkCall(s market.ScreenedStock) (TradingSignal, bool) {
	var sc score
	if s.RSI < c.th.RSIOversold {
		sc.add(2, "RSI oversold at %.1f", s.RSI)
	}
	if s.IVRank != nil && *s.IVRank > 60 {
		sc.add(1, "IV Rank elevated at %.1f", *s.IVRank)
	}
	if s.BBPBand < 0 {
		sc.add(2, "Price below lower Bollinger Band")
	} else if s.BBPBand < 0.2 {
		sc.add(1, "Price near lower Bollinger Band")
	}
	if !sc.fired() {
		return TradingSignal{}, false
	}

	price := s.CurrentPrice
	stop := price * 0.95
	target := price * 1.10

	metrics := Metrics{
		MetricRSI:           round(s.RSI, 1),
		MetricATRPercentile: round(s.ATRPercentile, 1),
		MetricBBPBand:       round(s.BBPBand, 2),
	}
	addIVRank(metrics, s)

	return TradingSignal{
		Symbol:              s.Symbol,
		Type:                Call,
		Strength:            StrengthFromPoints(sc.points),
		Points:              sc.points,
		Timestamp:           c.now(),
		CurrentPrice:        price,
		EntryPrice:          ptr(price),
		SuggestedStrike:     ptr(round(price*1.02, 2)),
		StopLoss:            ptr(round(stop, 2)),
		TargetPrice:         ptr(round(target, 2)),
		RiskReward:          riskReward(target-price, price-stop),
		Rationale:           sc.rationale(),
		KeyMetrics:          metrics,
		SuggestedExpiryDays: 45,
		SuggestedDelta:      0.30,
	}, true
}

func (c *Classifier) checkHedge(s market.ScreenedStock) (TradingSignal, bool) {
	var sc score
	if s.VolatilityRegime.Elevated() {
		sc.add(2, "Volatility regime: %s", s.VolatilityRegime)
	}
	if s.IVRank != nil && *s.IVRank > 80 {
		sc.add(2, "Very high IV Rank: %.1f", *s.IVRank)
	}
	if s.HVRank > 80 {
		sc.add(1, "High HV Rank: %.1f", s.HVRank)
	}
	if !sc.fired() {
		return TradingSignal{}, false
	}

	metrics := Metrics{
		MetricHVRank: round(s.HVRank, 1),
		MetricHV:     round(s.HistoricalVolatility*100, 1),
	}
	addIVRank(metrics, s)

	// hedges are protective, so there is no entry, stop or target
	return TradingSignal{
		Symbol:              s.Symbol,
		Type:                Hedge,
		Strength:            StrengthFromPoints(sc.points),
		Points:              sc.points,
		Timestamp:           c.now(),
		CurrentPrice:        s.CurrentPrice,
		SuggestedStrike:     ptr(round(s.CurrentPrice*0.90, 2)),
		Rationale:           "Hedge opportunity: " + sc.rationale(),
		KeyMetrics:          metrics,
		SuggestedExpiryDays: 45,
		SuggestedDelta:      -0.15,
	}, true
}

func (c *Classifier) checkVolatility(s market.ScreenedStock) (TradingSignal, bool) {
	var sc score
	if s.ATRPercentile > 90 {
		sc.add(2, "Very high ATR percentile: %.0f", s.ATRPercentile)
	}
	if s.IVRank != nil && *s.IVRank < 30 {
		sc.add(2, "Low IV Rank: %.1f (options cheap)", *s.IVRank)
	}
	if s.BBWidth > 10 {
		sc.add(1, "Wide Bollinger Bands: %.1f%%", s.BBWidth)
	}
	if !sc.fired() {
		return TradingSignal{}, false
	}

	metrics := Metrics{
		MetricATRPercentile: round(s.ATRPercentile, 1),
		MetricBBWidth:       round(s.BBWidth, 2),
		MetricHV:            round(s.HistoricalVolatility*100, 1),
	}
	addIVRank(metrics, s)

	return TradingSignal{
		Symbol:              s.Symbol,
		Type:                Volatility,
		Strength:            StrengthFromPoints(sc.points),
		Points:              sc.points,
		Timestamp:           c.now(),
		CurrentPrice:        s.CurrentPrice,
		EntryPrice:          ptr(s.CurrentPrice),
		SuggestedStrike:     ptr(s.CurrentPrice),
		Rationale:           "Volatility play (straddle/strangle candidate): " + sc.rationale(),
		KeyMetrics:          metrics,
		SuggestedExpiryDays: 30,
		SuggestedDelta:      0.50,
	}, true
}

func addIVRank(m Metrics, s market.ScreenedStock) {
	if s.IVRank != nil {
		m[MetricIVRank] = round(*s.IVRank, 1)
	}
}

// riskReward is reward over risk, undefined when risk is not positive.
func riskReward(reward, risk float64) *float64 {
	if risk <= 0 {
		return nil
	}
	return ptr(round(reward/risk, 2))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func ptr(v float64) *float64 {
	return &v
}
