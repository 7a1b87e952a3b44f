package market

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"papertrade-core/pkg/apperr"
)

const (
	rangePageSize = maxCandleLimit
	// Upper bound on pages walked by one Range call.
	maxRangePages = 500
	day           = 24 * time.Hour
)

// Bounds beyond this overflow int64 milliseconds.
const maxRangeSeconds = float64(math.MaxInt64/1000 - 1)

// Chart projects Candles into a chart series without volume.
func (g *Gateway) Chart(ctx context.Context, symbol string, opts ChartOptions) (*ChartSeries, error) {
	format := opts.Format
	if format == "" {
		format = FormatRaw
	}
	if format != FormatRaw && format != FormatLW {
		return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidFormat, "format %q not supported (raw or lw)", opts.Format)
	}
	interval := opts.Interval
	if interval == "" {
		interval = "1d"
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 30
	}

	candles, err := g.Candles(ctx, symbol, CandleOptions{Interval: interval, Limit: limit})
	if err != nil {
		return nil, err
	}
	return &ChartSeries{Format: format, candles: candles}, nil
}

// pickInterval chooses a candle width so a span stays within a few pages.
func pickInterval(span time.Duration) string {
	switch {
	case span <= 2*day:
		return "5m"
	case span <= 7*day:
		return "15m"
	case span <= 30*day:
		return "1h"
	case span <= 180*day:
		return "4h"
	default:
		return "1d"
	}
}

// Range returns close prices between From and To (unix seconds), paging
// upstream as needed. Candles are deduplicated by open time and those
// opening after To are dropped.
func (g *Gateway) Range(ctx context.Context, symbol string, opts RangeOptions) (*RangeSeries, error) {
	if !inMillisRange(opts.From) || !inMillisRange(opts.To) || opts.From >= opts.To {
		return nil, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidRange, "invalid range: from must be before to")
	}
	if _, err := g.trackedPair(symbol); err != nil {
		return nil, err
	}

	startMs := int64(opts.From * 1000)
	endMs := int64(opts.To * 1000)
	interval := opts.Interval
	if interval == "" {
		interval = pickInterval(time.Duration(endMs-startMs) * time.Millisecond)
	}

	var all []Candle
	cursor := startMs
	for page := 0; cursor < endMs; page++ {
		if page == maxRangePages {
			g.log.Warn("range truncated", zap.String("symbol", symbol), zap.Int("pages", page))
			break
		}
		start, end := cursor, endMs
		batch, err := g.Candles(ctx, symbol, CandleOptions{
			Interval: interval,
			Limit:    rangePageSize,
			Start:    &start,
			End:      &end,
		})
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		next := batch[len(batch)-1].T + 1
		if next <= cursor {
			break
		}
		cursor = next
	}

	out := &RangeSeries{
		Prices:       make([][2]float64, 0, len(all)),
		MarketCaps:   [][2]float64{},
		TotalVolumes: [][2]float64{},
		Source:       "binance:" + interval,
	}
	seen := make(map[int64]bool, len(all))
	for _, k := range all {
		if seen[k.T] {
			continue
		}
		seen[k.T] = true
		if k.T > endMs {
			continue
		}
		out.Prices = append(out.Prices, [2]float64{float64(k.T), k.C})
	}
	return out, nil
}

// inMillisRange reports whether seconds is finite and representable as
// int64 milliseconds.
func inMillisRange(seconds float64) bool {
	return !math.IsNaN(seconds) && seconds >= -maxRangeSeconds && seconds <= maxRangeSeconds
}
