package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the external screening service: one endpoint returns
// screened stocks, another returns a price snapshot.
type Client struct {
	httpClient  *http.Client
	screenerURL string
	quotesURL   string
	logger      zerolog.Logger
}

func NewClient(screenerURL, quotesURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		screenerURL: screenerURL,
		quotesURL:   quotesURL,
		logger:      log.With().Str("component", "market").Logger(),
	}
}

// FetchScreened returns the screened stocks for the given symbols.
func (c *Client) FetchScreened(ctx context.Context, symbols []string) ([]ScreenedStock, error) {
	if c.screenerURL == "" {
		return nil, fmt.Errorf("screener url not configured")
	}

	var stocks []ScreenedStock
	if err := c.getJSON(ctx, c.screenerURL, symbols, &stocks); err != nil {
		return nil, fmt.Errorf("fetch screened stocks: %w", err)
	}

	out := stocks[:0]
	for _, s := range stocks {
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		if s.Symbol == "" || s.CurrentPrice <= 0 {
			c.logger.Debug().Str("symbol", s.Symbol).Msg("dropping screened row without price")
			continue
		}
		if s.VolatilityRegime == "" {
			s.VolatilityRegime = RegimeUnknown
		}
		out = append(out, s)
	}
	return out, nil
}

// FetchQuotes returns the latest price for each requested symbol the
// service knows. Missing symbols are simply absent from the snapshot.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) (PriceSnapshot, error) {
	if c.quotesURL == "" {
		return nil, fmt.Errorf("quotes url not configured")
	}
	if len(symbols) == 0 {
		return PriceSnapshot{}, nil
	}

	raw := map[string]float64{}
	if err := c.getJSON(ctx, c.quotesURL, symbols, &raw); err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	snap := make(PriceSnapshot, len(raw))
	for sym, price := range raw {
		if price <= 0 {
			continue
		}
		snap[strings.ToUpper(sym)] = price
	}
	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, base string, symbols []string, out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if len(symbols) > 0 {
		q := u.Query()
		q.Set("symbols", strings.Join(symbols, ","))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
