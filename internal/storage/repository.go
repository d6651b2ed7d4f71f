package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("prediction not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Snapshot runs fn against a repository bound to one transaction, so every
// read inside fn sees the same database state.
func (r *Repository) Snapshot(fn func(*Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// Predictions

func (r *Repository) CreatePrediction(p *Prediction) error {
	return r.db.Create(p).Error
}

func (r *Repository) GetPrediction(id uint) (*Prediction, error) {
	var p Prediction
	err := r.db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CountPendingSince(symbol, signalType string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&Prediction{}).
		Where("symbol = ? AND signal_type = ? AND status = ? AND created_at > ?",
			symbol, signalType, string(StatusPending), since).
		Count(&count).Error
	return count, err
}

func (r *Repository) GetPendingPredictions() ([]Prediction, error) {
	var preds []Prediction
	err := r.db.Where("status = ?", string(StatusPending)).Order("id ASC").Find(&preds).Error
	return preds, err
}

func (r *Repository) GetPendingSymbols() ([]string, error) {
	var symbols []string
	err := r.db.Model(&Prediction{}).
		Where("status = ?", string(StatusPending)).
		Distinct("symbol").Order("symbol").
		Pluck("symbol", &symbols).Error
	return symbols, err
}

// Outcome is the set of fields written when a prediction leaves pending.
type Outcome struct {
	Status    Status
	Price     float64
	Date      time.Time
	ProfitPct float64
	Notes     *string
}

// ResolvePending writes the outcome only if the row is still pending. It
// reports whether a row was updated.
func (r *Repository) ResolvePending(id uint, o Outcome) (bool, error) {
	res := r.db.Model(&Prediction{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Updates(map[string]any{
			"status":        string(o.Status),
			"outcome_price": o.Price,
			"outcome_date":  o.Date,
			"profit_pct":    o.ProfitPct,
			"notes":         o.Notes,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpirePendingBefore expires every pending prediction whose expiry date
// is before now. The entry price stands in for the outcome price.
func (r *Repository) ExpirePendingBefore(now time.Time, notes string) (int64, error) {
	res := r.db.Model(&Prediction{}).
		Where("status = ? AND expiry_date < ?", string(StatusPending), now).
		Updates(map[string]any{
			"status":        string(StatusExpired),
			"outcome_price": gorm.Expr("entry_price"),
			"outcome_date":  now,
			"profit_pct":    0.0,
			"notes":         notes,
		})
	return res.RowsAffected, res.Error
}

type PredictionFilter struct {
	Status Status
	Symbol string
	Limit  int
}

func (r *Repository) ListPredictions(f PredictionFilter) ([]Prediction, error) {
	q := r.db.Model(&Prediction{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var preds []Prediction
	err := q.Order("created_at DESC").Order("id DESC").Find(&preds).Error
	return preds, err
}

func (r *Repository) DeletePrediction(id uint) (bool, error) {
	res := r.db.Delete(&Prediction{}, id)
	return res.RowsAffected > 0, res.Error
}

// Aggregates

type StatusCount struct {
	Status Status
	Count  int64
}

func (r *Repository) CountByStatus() ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.Model(&Prediction{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	return rows, err
}

type ProfitSummary struct {
	Total   float64
	Average float64
}

func (r *Repository) GetProfitSummary(status Status) (ProfitSummary, error) {
	var s ProfitSummary
	err := r.db.Model(&Prediction{}).
		Select("COALESCE(SUM(profit_pct), 0) AS total, COALESCE(AVG(profit_pct), 0) AS average").
		Where("status = ?", string(status)).
		Scan(&s).Error
	return s, err
}

type TypeCount struct {
	SignalType string
	Total      int64
	Wins       int64
	Losses     int64
}

// CountResolvedByType groups win and loss rows by signal type.
func (r *Repository) CountResolvedByType() ([]TypeCount, error) {
	var rows []TypeCount
	err := r.db.Model(&Prediction{}).
		Select(`signal_type, COUNT(*) AS total,
			SUM(CASE WHEN status = 'win' THEN 1 ELSE 0 END) AS wins,
			SUM(CASE WHEN status = 'loss' THEN 1 ELSE 0 END) AS losses`).
		Where("status IN ?", []string{string(StatusWin), string(StatusLoss)}).
		Group("signal_type").
		Order("signal_type").
		Scan(&rows).Error
	return rows, err
}

type OutcomeCount struct {
	Wins   int64
	Losses int64
}

// CountOutcomesSince counts wins and losses resolved after since.
func (r *Repository) CountOutcomesSince(since time.Time) (OutcomeCount, error) {
	var c OutcomeCount
	err := r.db.Model(&Prediction{}).
		Select(`COALESCE(SUM(CASE WHEN status = 'win' THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(CASE WHEN status = 'loss' THEN 1 ELSE 0 END), 0) AS losses`).
		Where("outcome_date > ?", since).
		Scan(&c).Error
	return c, err
}

// Scan logs

func (r *Repository) SaveScanLog(log *ScanLog) error {
	return r.db.Create(log).Error
}

func (r *Repository) GetLatestScanLog() (*ScanLog, error) {
	var log ScanLog
	err := r.db.Order("created_at DESC").Order("id DESC").First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *Repository) GetRecentScanLogs(limit int) ([]ScanLog, error) {
	var logs []ScanLog
	err := r.db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
