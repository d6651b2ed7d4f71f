package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	dir string
	db  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	return &cli{dir: dir, db: filepath.Join(dir, "predictions.db")}
}

func (c *cli) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"-config", filepath.Join(c.dir, "missing.yaml"), "-db", c.db}, args...)
	code := run(full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (c *cli) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(c.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const screened = `[
  {"symbol":"xyz","current_price":100,"rsi":75,"iv_rank":60,"bb_pband":1.1,"atr_percentile":85,
   "historical_volatility":0.3,"volatility_regime":"normal"},
  {"symbol":"abc","current_price":50,"rsi":50,"iv_rank":45,"bb_pband":0.5,"atr_percentile":40,
   "bb_width":4,"historical_volatility":0.2,"volatility_regime":"normal"}
]`

func TestRun_Usage(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: tracker")

	code, _, stderr = c.run(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)
}

func TestRun_ScanListResolveStats(t *testing.T) {
	c := newCLI(t)
	input := c.write(t, "screened.json", screened)

	code, out, stderr := c.run(t, "scan", "-input", input)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Screened 2, signals 1, recorded 1, duplicates 0")
	assert.Contains(t, out, "XYZ")

	code, out, _ = c.run(t, "scan", "-input", input)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "recorded 0, duplicates 1")

	code, out, _ = c.run(t, "list", "-status", "pending")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "XYZ")
	assert.Contains(t, out, "PUT")

	code, out, stderr = c.run(t, "resolve", "-id", "1", "-status", "win", "-price", "89")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "Prediction 1 win at 89.00 (+11.00%)")

	code, _, stderr = c.run(t, "resolve", "-id", "1", "-status", "loss", "-price", "120")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already resolved")

	code, out, _ = c.run(t, "stats", "-json")
	require.Equal(t, 0, code)
	var st struct {
		Total   int     `json:"total_predictions"`
		Wins    int     `json:"wins"`
		WinRate float64 `json:"win_rate"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 100.0, st.WinRate)
}

func TestRun_ReconcileCancelDelete(t *testing.T) {
	c := newCLI(t)
	input := c.write(t, "screened.json", screened)
	code, _, stderr := c.run(t, "scan", "-input", input)
	require.Equal(t, 0, code, stderr)

	prices := c.write(t, "prices.json", `{"xyz": 106}`)
	code, out, _ := c.run(t, "reconcile", "-prices", prices)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Checked 1: 0 win, 1 loss")

	code, _, stderr = c.run(t, "cancel", "-id", "1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already resolved")

	code, out, _ = c.run(t, "delete", "-id", "1")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Prediction 1 deleted")

	code, _, stderr = c.run(t, "delete", "-id", "1")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")

	code, out, _ = c.run(t, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No predictions.")
}

func TestRun_MissingFlags(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run(t, "scan")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "-input is required")

	code, _, _ = c.run(t, "resolve", "-id", "1")
	assert.Equal(t, 1, code)

	code, out, _ := c.run(t, "sweep")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Expired 0 prediction(s)")
}
