// Package market is the market data gateway: spot prices, FX rates and
// candles from upstream quote providers, served through a shared quote cache.
package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"papertrade-core/internal/monitor"
	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/cache"
	"papertrade-core/pkg/logger"
	"papertrade-core/pkg/market/binance"
	"papertrade-core/pkg/market/forex"
)

const (
	defaultCandleLimit = 500
	maxCandleLimit     = binance.MaxKlinesPerRequest

	spotSource = "binance+frankfurter"
	fxSource   = "frankfurter.app"
)

// PriceSource is the spot exchange used for prices and candles.
type PriceSource interface {
	Price(ctx context.Context, pair string) (decimal.Decimal, error)
	AllPrices(ctx context.Context) (map[string]decimal.Decimal, error)
	Klines(ctx context.Context, q binance.KlineQuery) ([]binance.Kline, error)
}

// FxSource provides reference FX rates.
type FxSource interface {
	Latest(ctx context.Context, base string, symbols ...string) (*forex.Rates, error)
}

// Options configures a Gateway.
type Options struct {
	// Pairs maps tracked short symbols (BTC) to upstream pairs (BTCUSDT).
	Pairs    map[string]string
	PriceTTL time.Duration
	FxTTL    time.Duration
	// Timeout bounds each upstream call.
	Timeout time.Duration
	Metrics *monitor.SystemMetrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// Gateway serves market data to the ledger, the position aggregator and the
// HTTP API.
type Gateway struct {
	prices  PriceSource
	fx      FxSource
	cache   *cache.QuoteCache
	pairs   map[string]string
	known   map[string]bool // upstream pairs in pairs
	symbols []string        // sorted short symbols

	priceTTL time.Duration
	fxTTL    time.Duration
	timeout  time.Duration
	metrics  *monitor.SystemMetrics
	log      *zap.Logger
	now      func() time.Time
}

// NewGateway wires a gateway around upstream sources and a quote cache.
func NewGateway(prices PriceSource, fx FxSource, quotes *cache.QuoteCache, opts Options) *Gateway {
	if quotes == nil {
		quotes = cache.NewQuoteCache()
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = 30 * time.Second
	}
	if opts.FxTTL <= 0 {
		opts.FxTTL = 60 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := logger.OrNop(opts.Logger)

	g := &Gateway{
		prices:   prices,
		fx:       fx,
		cache:    quotes,
		pairs:    make(map[string]string, len(opts.Pairs)),
		known:    make(map[string]bool, len(opts.Pairs)),
		priceTTL: opts.PriceTTL,
		fxTTL:    opts.FxTTL,
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		log:      log,
		now:      opts.Now,
	}
	for sym, pair := range opts.Pairs {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		pair = strings.ToUpper(strings.TrimSpace(pair))
		g.pairs[sym] = pair
		g.known[pair] = true
		g.symbols = append(g.symbols, sym)
	}
	sort.Strings(g.symbols)
	return g
}

// Symbols returns the tracked short symbols in sorted order.
func (g *Gateway) Symbols() []string {
	return append([]string(nil), g.symbols...)
}

// CacheStats exposes quote cache statistics.
func (g *Gateway) CacheStats() cache.CacheStats {
	return g.cache.Stats()
}

// trackedPair resolves a short symbol or a configured pair.
func (g *Gateway) trackedPair(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if pair, ok := g.pairs[s]; ok {
		return pair, nil
	}
	if g.known[s] {
		return s, nil
	}
	return "", apperr.Newf(apperr.KindValidation, apperr.CodeSymbolUnsupported, "symbol %q not supported", symbol)
}

// anyPair maps a tracked short symbol to its pair and passes anything else
// through as an upstream pair.
func (g *Gateway) anyPair(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if pair, ok := g.pairs[s]; ok {
		return pair
	}
	return s
}

// call runs one upstream request under the per-call timeout and records it.
func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if g.metrics != nil {
		g.metrics.ObserveUpstream(time.Since(start), err)
	}
	if err != nil {
		g.log.Warn("upstream call failed", zap.String("op", op), zap.Error(err))
		return apperr.Upstream(op+" failed", err)
	}
	return nil
}

// ForexRate returns the USD→EUR reference rate.
func (g *Gateway) ForexRate(ctx context.Context) (*FxQuote, error) {
	return cache.GetOrLoad(ctx, g.cache, "fx:USD:EUR", g.fxTTL, func(ctx context.Context) (*FxQuote, error) {
		var rates *forex.Rates
		err := g.call(ctx, "forex latest", func(ctx context.Context) error {
			var err error
			rates, err = g.fx.Latest(ctx, "USD", "EUR")
			return err
		})
		if err != nil {
			return nil, err
		}

		base := rates.Base
		if base == "" {
			base = "USD"
		}
		eur := decimal.NullDecimal{}
		if r, ok := rates.Rates["EUR"]; ok {
			eur = decimal.NewNullDecimal(r)
		}
		return &FxQuote{
			Timestamp: g.now().UTC(),
			Base:      base,
			Rates:     map[string]decimal.NullDecimal{"EUR": eur},
			Source:    fxSource,
		}, nil
	})
}

// SpotPrices fetches every tracked symbol concurrently plus the EUR rate.
// A failed FX call leaves eur null; a failed price call fails the snapshot.
func (g *Gateway) SpotPrices(ctx context.Context) (*SpotSnapshot, error) {
	return cache.GetOrLoad(ctx, g.cache, "prices:spot", g.priceTTL, func(ctx context.Context) (*SpotSnapshot, error) {
		var (
			mu     sync.Mutex
			usd    = make(map[string]decimal.Decimal, len(g.symbols))
			fxRate decimal.NullDecimal
		)

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			fx, err := g.ForexRate(egCtx)
			if err != nil {
				g.log.Warn("spot prices without EUR rate", zap.Error(err))
				return nil
			}
			fxRate = fx.Rates["EUR"]
			return nil
		})
		for _, sym := range g.symbols {
			pair := g.pairs[sym]
			eg.Go(func() error {
				var p decimal.Decimal
				err := g.call(egCtx, "binance price "+pair, func(ctx context.Context) error {
					var err error
					p, err = g.prices.Price(ctx, pair)
					return err
				})
				if err != nil {
					return err
				}
				mu.Lock()
				usd[sym] = p
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		out := &SpotSnapshot{
			Timestamp: g.now().UTC(),
			Prices:    make(map[string]SpotQuote, len(usd)),
			Source:    spotSource,
		}
		for sym, p := range usd {
			q := SpotQuote{USD: p}
			if fxRate.Valid && !fxRate.Decimal.IsZero() {
				q.EUR = decimal.NewNullDecimal(p.Mul(fxRate.Decimal).Round(2))
			}
			out.Prices[sym] = q
		}
		return out, nil
	})
}

// Price returns the spot price of a short symbol or upstream pair.
func (g *Gateway) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	pair := g.anyPair(symbol)
	if pair == "" {
		return decimal.Zero, apperr.Newf(apperr.KindValidation, apperr.CodeSymbolUnsupported, "symbol is required")
	}
	return cache.GetOrLoad(ctx, g.cache, "price:"+pair, g.priceTTL, func(ctx context.Context) (decimal.Decimal, error) {
		var p decimal.Decimal
		err := g.call(ctx, "binance price "+pair, func(ctx context.Context) error {
			var err error
			p, err = g.prices.Price(ctx, pair)
			return err
		})
		return p, err
	})
}

// Prices returns spot prices for many symbols from one all-tickers call.
// The result is keyed by upstream pair; unknown pairs are absent.
func (g *Gateway) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	all, err := cache.GetOrLoad(ctx, g.cache, "prices:all", g.priceTTL, func(ctx context.Context) (map[string]decimal.Decimal, error) {
		var out map[string]decimal.Decimal
		err := g.call(ctx, "binance all prices", func(ctx context.Context) error {
			var err error
			out, err = g.prices.AllPrices(ctx)
			return err
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}

	res := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		pair := g.anyPair(s)
		if p, ok := all[pair]; ok {
			res[pair] = p
		}
	}
	return res, nil
}

// Candles returns OHLCV bars for a tracked symbol.
func (g *Gateway) Candles(ctx context.Context, symbol string, opts CandleOptions) ([]Candle, error) {
	pair, err := g.trackedPair(symbol)
	if err != nil {
		return nil, err
	}
	interval := opts.Interval
	if interval == "" {
		interval = "1h"
	}
	if !validIntervals[interval] {
		return nil, apperr.Newf(apperr.KindValidation, apperr.CodeIntervalUnsupported, "interval %q not supported", interval)
	}
	limit := clampLimit(opts.Limit, defaultCandleLimit)

	key := fmt.Sprintf("klines:%s:%s:%s:%s:%d", pair, interval, msKey(opts.Start), msKey(opts.End), limit)
	return cache.GetOrLoad(ctx, g.cache, key, g.priceTTL, func(ctx context.Context) ([]Candle, error) {
		q := binance.KlineQuery{Symbol: pair, Interval: interval, Limit: limit}
		if opts.Start != nil {
			q.StartTime = *opts.Start
		}
		if opts.End != nil {
			q.EndTime = *opts.End
		}

		var klines []binance.Kline
		err := g.call(ctx, "binance klines "+pair, func(ctx context.Context) error {
			var err error
			klines, err = g.prices.Klines(ctx, q)
			return err
		})
		if err != nil {
			return nil, err
		}

		out := make([]Candle, 0, len(klines))
		for _, k := range klines {
			out = append(out, Candle{T: k.OpenTime, O: k.Open, H: k.High, L: k.Low, C: k.Close, V: k.Volume})
		}
		return out, nil
	})
}

// clampLimit maps 0 to def and clamps everything else to [1, 1000].
func clampLimit(limit, def int) int {
	if limit == 0 {
		limit = def
	}
	if limit < 1 {
		return 1
	}
	if limit > maxCandleLimit {
		return maxCandleLimit
	}
	return limit
}

func msKey(v *int64) string {
	if v == nil {
		return "na"
	}
	return fmt.Sprintf("%d", *v)
}
