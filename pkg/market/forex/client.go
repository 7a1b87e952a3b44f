// Package forex reads reference FX rates from a Frankfurter-compatible API.
package forex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.frankfurter.app"

// Config configures the FX client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Limiter *rate.Limiter
}

// Rates is the /latest response body.
type Rates struct {
	Amount decimal.Decimal            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// Client calls the FX provider.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// New builds an FX client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: httpClient, limiter: cfg.Limiter}
}

// Latest returns the latest rates from base into each of symbols.
func (c *Client) Latest(ctx context.Context, base string, symbols ...string) (*Rates, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var out Rates
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from": base,
			"to":   strings.Join(symbols, ","),
		}).
		SetResult(&out).
		Get("/latest")
	if err != nil {
		return nil, fmt.Errorf("forex latest %s: %w", base, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("forex latest %s status %d: %s", base, resp.StatusCode(), resp.String())
	}
	return &out, nil
}
