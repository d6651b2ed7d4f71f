package storage

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusWin       Status = "win"
	StatusLoss      Status = "loss"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status, pending first.
var Statuses = []Status{StatusPending, StatusWin, StatusLoss, StatusExpired, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s.Valid() && s != StatusPending
}

// Prediction is a recorded signal and its eventual outcome. OutcomePrice,
// OutcomeDate and ProfitPct are written together when the status leaves
// pending.
type Prediction struct {
	ID uint `gorm:"primarykey" json:"id"`

	Symbol         string  `gorm:"index;not null" json:"symbol"`
	SignalType     string  `gorm:"not null" json:"signal_type"`
	SignalStrength int     `gorm:"not null" json:"signal_strength"`
	EntryPrice     float64 `gorm:"not null" json:"entry_price"`

	SuggestedStrike *float64 `json:"suggested_strike"`
	TargetPrice     *float64 `json:"target_price"`
	StopLoss        *float64 `json:"stop_loss"`

	CreatedAt  time.Time `gorm:"index;not null" json:"created_at"`
	ExpiryDate time.Time `gorm:"not null" json:"expiry_date"`

	Status       Status     `gorm:"index;not null;default:'pending'" json:"status"`
	OutcomePrice *float64   `json:"outcome_price"`
	OutcomeDate  *time.Time `json:"outcome_date"`
	ProfitPct    *float64   `json:"profit_pct"`
	Notes        *string    `gorm:"type:text" json:"notes"`
}

func (Prediction) TableName() string {
	return "predictions"
}

// ScanLog records one scan cycle.
type ScanLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Scanned     int    `json:"scanned"`
	Screened    int    `json:"screened"`
	Signals     int    `json:"signals"`
	Recorded    int    `json:"recorded"`
	Duplicates  int    `json:"duplicates"`
	SignalsJSON string `gorm:"type:text" json:"signals_json"`
	Error       string `json:"error"`
}
