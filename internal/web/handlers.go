package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camuig/volscan/internal/stats"
	"github.com/camuig/volscan/internal/storage"
	"github.com/camuig/volscan/internal/tracker"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"deref": func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	},
	"upper": func(s storage.Status) string { return strings.ToUpper(string(s)) },
	"date": func(t time.Time) string {
		return t.Format("2006-01-02 15:04")
	},
}

const dashboardLimit = 50

type DashboardData struct {
	Stats       stats.Statistics
	Predictions []storage.Prediction
	LastScan    *storage.ScanLog
	Types       []string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{}

	st, err := s.stats.Compute()
	if err != nil {
		s.logger.Error().Err(err).Msg("compute statistics for dashboard")
	} else {
		data.Stats = st
		for t := range st.BySignalType {
			data.Types = append(data.Types, t)
		}
		sort.Strings(data.Types)
	}

	if preds, err := s.tracker.Query(tracker.Filter{Limit: dashboardLimit}); err == nil {
		data.Predictions = preds
	} else {
		s.logger.Error().Err(err).Msg("query predictions for dashboard")
	}

	if scan, err := s.repo.GetLatestScanLog(); err == nil {
		data.LastScan = scan
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.dashboard.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("execute template")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Compute()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.SetPending(st.Pending)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := tracker.Filter{
		Status: storage.Status(strings.ToLower(q.Get("status"))),
		Symbol: q.Get("symbol"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		f.Limit = limit
	}

	preds, err := s.tracker.Query(f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if preds == nil {
		preds = []storage.Prediction{}
	}
	writeJSON(w, http.StatusOK, preds)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, err := s.tracker.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type ResolveRequest struct {
	Status       string  `json:"status" validate:"required,oneof=win loss expired cancelled"`
	OutcomePrice float64 `json:"outcome_price" validate:"gt=0"`
	Notes        string  `json:"notes" validate:"max=1000"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := s.tracker.Resolve(id, storage.Status(req.Status), req.OutcomePrice, req.Notes); err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.tracker.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type cancelRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
			return
		}
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if err := s.tracker.Cancel(id, req.Notes); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.tracker.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.tracker.SweepExpired()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}

type latestSignals struct {
	ScannedAt time.Time       `json:"scanned_at"`
	Signals   json.RawMessage `json:"signals"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleLatestSignals(w http.ResponseWriter, r *http.Request) {
	scan, err := s.repo.GetLatestScanLog()
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("no scans yet"))
		return
	}

	body := latestSignals{ScannedAt: scan.CreatedAt, Signals: json.RawMessage("[]"), Error: scan.Error}
	if scan.SignalsJSON != "" {
		body.Signals = json.RawMessage(scan.SignalsJSON)
	}
	writeJSON(w, http.StatusOK, body)
}

const defaultScanLimit = 20

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	limit := defaultScanLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid limit"))
			return
		}
		limit = n
	}

	logs, err := s.repo.GetRecentScanLogs(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []storage.ScanLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func parseID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid prediction id"))
		return 0, false
	}
	return uint(id), true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracker.ErrAlreadyResolved):
		status = http.StatusConflict
	case errors.Is(err, tracker.ErrInvalidStatus), errors.Is(err, tracker.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
