// Package binance fetches public spot quotes from Binance REST endpoints.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.binance.com"

// MaxKlinesPerRequest is the upstream page size ceiling.
const MaxKlinesPerRequest = 1000

// Config configures the REST client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Limiter is shared with other upstream clients; nil means unlimited.
	Limiter *rate.Limiter
}

// Client wraps public spot market data endpoints.
type Client struct {
	api     *gobinance.Client
	limiter *rate.Limiter
}

// Kline is one OHLCV candle. Prices are float64 since candles only feed
// charts, never the ledger.
type Kline struct {
	OpenTime  int64 // ms
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64 // ms
}

// KlineQuery selects a kline page. Zero StartTime/EndTime are not sent.
type KlineQuery struct {
	Symbol    string
	Interval  string
	Limit     int
	StartTime int64
	EndTime   int64
}

// New builds an unauthenticated client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	api := gobinance.NewClient("", "")
	api.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	api.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{api: api, limiter: cfg.Limiter}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Price returns the last traded price of one pair.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	res, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	for _, p := range res {
		if p.Symbol == symbol {
			return parsePrice(p.Symbol, p.Price)
		}
	}
	return decimal.Zero, fmt.Errorf("binance price %s: missing from response", symbol)
}

// AllPrices returns last prices for every listed pair in one call.
func (c *Client) AllPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.api.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance prices: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(res))
	for _, p := range res {
		price, err := parsePrice(p.Symbol, p.Price)
		if err != nil {
			continue
		}
		out[p.Symbol] = price
	}
	return out, nil
}

// Klines fetches one page of candles.
func (c *Client) Klines(ctx context.Context, q KlineQuery) ([]Kline, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewKlinesService().Symbol(q.Symbol).Interval(q.Interval)
	if q.Limit > 0 {
		svc = svc.Limit(q.Limit)
	}
	if q.StartTime > 0 {
		svc = svc.StartTime(q.StartTime)
	}
	if q.EndTime > 0 {
		svc = svc.EndTime(q.EndTime)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", q.Symbol, q.Interval, err)
	}

	klines := make([]Kline, 0, len(res))
	for _, k := range res {
		klines = append(klines, Kline{
			OpenTime:  k.OpenTime,
			Open:      toFloat(k.Open),
			High:      toFloat(k.High),
			Low:       toFloat(k.Low),
			Close:     toFloat(k.Close),
			Volume:    toFloat(k.Volume),
			CloseTime: k.CloseTime,
		})
	}
	return klines, nil
}

func parsePrice(symbol, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance price %s: parse %q: %w", symbol, raw, err)
	}
	return d, nil
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
