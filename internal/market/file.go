package market

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadScreenedFile reads a JSON array of screened stocks.
func LoadScreenedFile(path string) ([]ScreenedStock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screened file: %w", err)
	}
	var stocks []ScreenedStock
	if err := json.Unmarshal(data, &stocks); err != nil {
		return nil, fmt.Errorf("parse screened file: %w", err)
	}
	for i := range stocks {
		stocks[i].Symbol = strings.ToUpper(strings.TrimSpace(stocks[i].Symbol))
		if stocks[i].VolatilityRegime == "" {
			stocks[i].VolatilityRegime = RegimeUnknown
		}
	}
	return stocks, nil
}

// LoadPricesFile reads a JSON object of symbol to price.
func LoadPricesFile(path string) (PriceSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prices file: %w", err)
	}
	raw := map[string]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prices file: %w", err)
	}
	snap := make(PriceSnapshot, len(raw))
	for sym, p := range raw {
		snap[strings.ToUpper(strings.TrimSpace(sym))] = p
	}
	return snap, nil
}
