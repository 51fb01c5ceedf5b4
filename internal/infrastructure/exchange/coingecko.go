package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
	"golang.org/x/time/rate"
)

const (
	CoinGeckoBaseURL = "https://api.coingecko.com"
	marketsPath      = "/api/v3/coins/markets"
)

// MarketsQuery selects which assets a fetch covers.
type MarketsQuery struct {
	VsCurrency string
	Order      string
	PerPage    int
	Page       int
}

func DefaultMarketsQuery() MarketsQuery {
	return MarketsQuery{
		VsCurrency: "usd",
		Order:      "market_cap_desc",
		PerPage:    10,
		Page:       1,
	}
}

type CoinGeckoAdapter struct {
	baseURL string
	apiKey  string
	query   MarketsQuery
	client  *http.Client
	limiter *rate.Limiter
	timeNow func() time.Time
}

// NewCoinGeckoAdapter builds a client for the public markets endpoint.
// requestsPerMinute <= 0 disables the client-side ceiling.
func NewCoinGeckoAdapter(baseURL, apiKey string, query MarketsQuery, timeout time.Duration, requestsPerMinute int) *CoinGeckoAdapter {
	if baseURL == "" {
		baseURL = CoinGeckoBaseURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &CoinGeckoAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		query:   query,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		timeNow: time.Now,
	}
}

// coinGeckoMarket mirrors one element of /coins/markets. Numeric fields are
// pointers so that JSON null and missing keys stay nil.
type coinGeckoMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

func (c *CoinGeckoAdapter) marketsURL() string {
	params := url.Values{}
	params.Set("vs_currency", c.query.VsCurrency)
	params.Set("order", c.query.Order)
	params.Set("per_page", strconv.Itoa(c.query.PerPage))
	params.Set("page", strconv.Itoa(c.query.Page))
	params.Set("sparkline", "false")
	return c.baseURL + marketsPath + "?" + params.Encode()
}

// FetchMarkets issues a single request for the configured page of assets.
// Any failure is reported for the whole batch.
func (c *CoinGeckoAdapter) FetchMarkets(ctx context.Context) ([]domain.AssetSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{Op: "rate limit", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.marketsURL(), nil)
	if err != nil {
		return nil, &domain.FetchError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{Op: "read body", Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &domain.FetchError{Op: "request", Err: fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(body, 256))}
	}

	var markets []coinGeckoMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, &domain.FetchError{Op: "decode", Err: err}
	}

	observedAt := c.timeNow().UTC().Truncate(time.Microsecond)
	snaps := make([]domain.AssetSnapshot, 0, len(markets))
	for _, m := range markets {
		if m.ID == "" {
			return nil, &domain.FetchError{Op: "decode", Err: fmt.Errorf("market entry without id (symbol %q)", m.Symbol)}
		}
		snaps = append(snaps, mapMarket(m, observedAt))
	}
	return snaps, nil
}

func mapMarket(m coinGeckoMarket, observedAt time.Time) domain.AssetSnapshot {
	return domain.AssetSnapshot{
		AssetID:      m.ID,
		DisplayName:  m.Name,
		Symbol:       m.Symbol,
		PriceUSD:     m.CurrentPrice,
		MarketCapUSD: m.MarketCap,
		Change24hPct: m.PriceChangePercentage24h,
		ObservedAt:   observedAt,
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
