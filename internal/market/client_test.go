package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegime(t *testing.T) {
	assert.Equal(t, RegimeHigh, ParseRegime("HIGH"))
	assert.Equal(t, RegimeExtreme, ParseRegime(" extreme "))
	assert.Equal(t, RegimeUnknown, ParseRegime("wild"))
	assert.True(t, RegimeExtreme.Elevated())
	assert.False(t, RegimeNormal.Elevated())
}

func TestScreenedStock_Volatility(t *testing.T) {
	iv := 0.45
	s := ScreenedStock{HistoricalVolatility: 0.3}
	assert.Equal(t, 0.3, s.Volatility())
	s.ImpliedVolatility = &iv
	assert.Equal(t, 0.45, s.Volatility())
}

func TestClient_FetchScreened(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL,TSLA", r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"symbol":"aapl","current_price":190.5,"rsi":72.1,"iv_rank":55,"volatility_regime":"High"},
			{"symbol":"TSLA","current_price":0}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zerolog.Nop())
	stocks, err := c.FetchScreened(context.Background(), []string{"AAPL", "TSLA"})
	require.NoError(t, err)
	require.Len(t, stocks, 1)

	assert.Equal(t, "AAPL", stocks[0].Symbol)
	assert.Equal(t, RegimeHigh, stocks[0].VolatilityRegime)
	require.NotNil(t, stocks[0].IVRank)
	assert.Equal(t, 55.0, *stocks[0].IVRank)
	assert.Nil(t, stocks[0].ImpliedVolatility)
}

func TestClient_FetchQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"xyz": 89.0, "BAD": 0}`))
	}))
	defer srv.Close()

	c := NewClient("", srv.URL, time.Second, zerolog.Nop())
	snap, err := c.FetchQuotes(context.Background(), []string{"XYZ", "BAD"})
	require.NoError(t, err)
	assert.Equal(t, PriceSnapshot{"XYZ": 89.0}, snap)

	empty, err := c.FetchQuotes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, time.Second, zerolog.Nop())
	_, err := c.FetchScreened(context.Background(), nil)
	assert.ErrorContains(t, err, "status 502")
	_, err = c.FetchQuotes(context.Background(), []string{"A"})
	assert.Error(t, err)

	unconfigured := NewClient("", "", 0, zerolog.Nop())
	_, err = unconfigured.FetchScreened(context.Background(), nil)
	assert.Error(t, err)
	_, err = unconfigured.FetchQuotes(context.Background(), []string{"A"})
	assert.Error(t, err)
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	screened := filepath.Join(dir, "screened.json")
	prices := filepath.Join(dir, "prices.json")
	require.NoError(t, os.WriteFile(screened, []byte(`[{"symbol":" nvda ","current_price":120}]`), 0o644))
	require.NoError(t, os.WriteFile(prices, []byte(`{"nvda":121.5}`), 0o644))

	stocks, err := LoadScreenedFile(screened)
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	assert.Equal(t, "NVDA", stocks[0].Symbol)
	assert.Equal(t, RegimeUnknown, stocks[0].VolatilityRegime)

	snap, err := LoadPricesFile(prices)
	require.NoError(t, err)
	assert.Equal(t, 121.5, snap["NVDA"])

	_, err = LoadPricesFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
