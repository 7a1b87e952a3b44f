package market

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Intervals accepted by Candles, Chart and Range.
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// SpotQuote is one symbol's price in USD and, when FX is available, EUR.
type SpotQuote struct {
	USD decimal.Decimal     `json:"usd"`
	EUR decimal.NullDecimal `json:"eur"`
}

// SpotSnapshot is the result of SpotPrices, keyed by short symbol.
type SpotSnapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	Prices    map[string]SpotQuote `json:"prices"`
	Source    string               `json:"source"`
}

// FxQuote is the USD reference rate set.
type FxQuote struct {
	Timestamp time.Time                      `json:"timestamp"`
	Base      string                         `json:"base"`
	Rates     map[string]decimal.NullDecimal `json:"rates"`
	Source    string                         `json:"source"`
}

// Candle is one OHLCV bar; T is the open time in ms.
type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// CandleOptions configures Candles. Start and End are open times in ms.
type CandleOptions struct {
	Interval string
	Limit    int
	Start    *int64
	End      *int64
}

// Chart formats.
const (
	FormatRaw = "raw"
	FormatLW  = "lw"
)

// ChartOptions configures Chart. Zero values mean 1d, 30 and raw.
type ChartOptions struct {
	Interval string
	Limit    int
	Format   string
}

// RawPoint is a chart point in the raw format (ms timestamps).
type RawPoint struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
}

// LWPoint is a chart point in the lightweight-charts format (seconds).
type LWPoint struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// ChartSeries is a projection of candles without volume.
type ChartSeries struct {
	Format  string
	candles []Candle
}

// Raw returns the series as RawPoints.
func (s ChartSeries) Raw() []RawPoint {
	out := make([]RawPoint, 0, len(s.candles))
	for _, k := range s.candles {
		out = append(out, RawPoint{T: k.T, O: k.O, H: k.H, L: k.L, C: k.C})
	}
	return out
}

// LW returns the series as LWPoints.
func (s ChartSeries) LW() []LWPoint {
	out := make([]LWPoint, 0, len(s.candles))
	for _, k := range s.candles {
		out = append(out, LWPoint{Time: k.T / 1000, Open: k.O, High: k.H, Low: k.L, Close: k.C})
	}
	return out
}

// Len returns the number of points.
func (s ChartSeries) Len() int { return len(s.candles) }

func (s ChartSeries) MarshalJSON() ([]byte, error) {
	if s.Format == FormatLW {
		return json.Marshal(s.LW())
	}
	return json.Marshal(s.Raw())
}

// RangeOptions configures Range. From and To are unix seconds; an empty
// Interval is picked from the span.
type RangeOptions struct {
	From     float64
	To       float64
	Interval string
}

// RangeSeries holds [t(ms), close] pairs.
type RangeSeries struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
	Source       string       `json:"source"`
}
