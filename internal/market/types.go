package market

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Regime is the volatility regime label assigned by the screener.
type Regime string

const (
	RegimeLow     Regime = "low"
	RegimeNormal  Regime = "normal"
	RegimeHigh    Regime = "high"
	RegimeExtreme Regime = "extreme"
	RegimeUnknown Regime = "unknown"
)

func ParseRegime(s string) Regime {
	switch r := Regime(strings.ToLower(strings.TrimSpace(s))); r {
	case RegimeLow, RegimeNormal, RegimeHigh, RegimeExtreme:
		return r
	default:
		return RegimeUnknown
	}
}

// Elevated reports whether the regime is high or extreme.
func (r Regime) Elevated() bool {
	return r == RegimeHigh || r == RegimeExtreme
}

func (r *Regime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("volatility regime: %w", err)
	}
	*r = ParseRegime(s)
	return nil
}

// ScreenedStock is one row of a screening pass. Produced externally and
// treated as read-only.
type ScreenedStock struct {
	Symbol       string  `json:"symbol"`
	CurrentPrice float64 `json:"current_price"`
	ChangePct    float64 `json:"change_pct"`

	RSI           float64 `json:"rsi"`
	ATRPercent    float64 `json:"atr_percent"`
	ATRPercentile float64 `json:"atr_percentile"`
	BBWidth       float64 `json:"bb_width"`
	BBPBand       float64 `json:"bb_pband"`

	HistoricalVolatility float64 `json:"historical_volatility"`
	HVRank               float64 `json:"hv_rank"`
	VolatilityRegime     Regime  `json:"volatility_regime"`

	ImpliedVolatility *float64 `json:"implied_volatility,omitempty"`
	IVRank            *float64 `json:"iv_rank,omitempty"`
	IVPercentile      *float64 `json:"iv_percentile,omitempty"`
	PutCallRatio      *float64 `json:"put_call_ratio,omitempty"`

	MarketCap   float64 `json:"market_cap"`
	AvgVolume   int64   `json:"avg_volume"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// Volatility returns implied volatility when known, historical otherwise.
func (s ScreenedStock) Volatility() float64 {
	if s.ImpliedVolatility != nil && *s.ImpliedVolatility > 0 {
		return *s.ImpliedVolatility
	}
	return s.HistoricalVolatility
}

// PriceSnapshot maps symbol to its latest price.
type PriceSnapshot map[string]float64
