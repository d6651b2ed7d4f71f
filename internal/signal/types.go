package signal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Type is the closed set of signal categories.
type Type int

const (
	Put Type = iota + 1
	Call
	Hedge
	Volatility
)

// Types lists every signal type in classification priority order.
var Types = []Type{Put, Call, Hedge, Volatility}

type typeInfo struct {
	name  string
	long  string
	emoji string
	// profit is earned when the underlying falls
	bearish bool
}

var typeTable = map[Type]typeInfo{
	Put:        {name: "PUT", long: "PUT_OPPORTUNITY", emoji: "🔻", bearish: true},
	Call:       {name: "CALL", long: "CALL_OPPORTUNITY", emoji: "🔺", bearish: false},
	Hedge:      {name: "HEDGE", long: "HEDGE_SIGNAL", emoji: "🛡", bearish: true},
	Volatility: {name: "VOLATILITY", long: "VOLATILITY_PLAY", emoji: "⚡", bearish: false},
}

func (t Type) String() string {
	if info, ok := typeTable[t]; ok {
		return info.name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func (t Type) Valid() bool {
	_, ok := typeTable[t]
	return ok
}

// LongName is the descriptive name used in alerts.
func (t Type) LongName() string {
	return typeTable[t].long
}

func (t Type) Emoji() string {
	return typeTable[t].emoji
}

// ProfitsOnDecline reports whether a position of this type gains when the
// underlying price falls.
func (t Type) ProfitsOnDecline() bool {
	return typeTable[t].bearish
}

// ParseType accepts the canonical names and the long legacy names,
// case-insensitively.
func ParseType(s string) (Type, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for t, info := range typeTable {
		if s == info.name || s == info.long {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown signal type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid signal type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Strength grades a signal from WEAK (1) to EXTREME (5).
type Strength int

const (
	Weak Strength = iota + 1
	Moderate
	Strong
	VeryStrong
	Extreme
)

var strengthNames = map[Strength]string{
	Weak:       "WEAK",
	Moderate:   "MODERATE",
	Strong:     "STRONG",
	VeryStrong: "VERY_STRONG",
	Extreme:    "EXTREME",
}

func (s Strength) String() string {
	if name, ok := strengthNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strength(%d)", int(s))
}

// StrengthFromPoints maps a weighted condition score to a strength.
func StrengthFromPoints(points int) Strength {
	switch {
	case points >= 7:
		return Extreme
	case points >= 5:
		return VeryStrong
	case points >= 4:
		return Strong
	case points >= 3:
		return Moderate
	default:
		return Weak
	}
}

// Metric names a value shown alongside a signal.
type Metric int

const (
	MetricRSI Metric = iota + 1
	MetricIVRank
	MetricATRPercentile
	MetricBBPBand
	MetricBBWidth
	MetricHV
	MetricHVRank
)

var metricNames = map[Metric]string{
	MetricRSI:           "rsi",
	MetricIVRank:        "iv_rank",
	MetricATRPercentile: "atr_percentile",
	MetricBBPBand:       "bb_pband",
	MetricBBWidth:       "bb_width",
	MetricHV:            "hv",
	MetricHVRank:        "hv_rank",
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

func (m Metric) MarshalText() ([]byte, error) {
	name, ok := metricNames[m]
	if !ok {
		return nil, fmt.Errorf("invalid metric %d", int(m))
	}
	return []byte(name), nil
}

func (m *Metric) UnmarshalText(b []byte) error {
	for k, name := range metricNames {
		if name == string(b) {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("unknown metric %q", string(b))
}

// Metrics holds the display values attached to a signal.
type Metrics map[Metric]float64

// TradingSignal is the output of classification. It is either shown or
// handed to the tracker, never stored as is.
type TradingSignal struct {
	Symbol    string    `json:"symbol"`
	Type      Type      `json:"signal_type"`
	Strength  Strength  `json:"strength"`
	Points    int       `json:"points"`
	Timestamp time.Time `json:"timestamp"`

	CurrentPrice    float64  `json:"current_price"`
	EntryPrice      *float64 `json:"entry_price,omitempty"`
	SuggestedStrike *float64 `json:"suggested_strike,omitempty"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
	TargetPrice     *float64 `json:"target_price,omitempty"`
	RiskReward      *float64 `json:"risk_reward_ratio,omitempty"`

	Rationale  string  `json:"rationale"`
	KeyMetrics Metrics `json:"key_metrics"`

	SuggestedExpiryDays int     `json:"suggested_expiry_days"`
	SuggestedDelta      float64 `json:"suggested_delta"`
}

// MarshalJSON adds the strength name next to its numeric value.
func (s TradingSignal) MarshalJSON() ([]byte, error) {
	type plain TradingSignal
	return json.Marshal(struct {
		plain
		StrengthName string `json:"strength_name"`
	}{plain(s), s.Strength.String()})
}

// RiskRewardOrZero is used for ordering; an undefined ratio ranks as 0.
func (s TradingSignal) RiskRewardOrZero() float64 {
	if s.RiskReward == nil {
		return 0
	}
	return *s.RiskReward
}
