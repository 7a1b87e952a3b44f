package api

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"papertrade-core/internal/market"
)

const defaultSymbol = "BTC"

// getPrices returns spot prices for every tracked symbol in USD and EUR.
func (s *Server) getPrices(c *gin.Context) {
	data, err := s.Market.SpotPrices(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, data)
}

// getForex returns the USD→EUR rate.
func (s *Server) getForex(c *gin.Context) {
	data, err := s.Market.ForexRate(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, data)
}

// getKlines returns raw OHLCV bars.
// GET /api/market/klines?symbol=BTC&interval=1h&limit=500&start=ms&end=ms
func (s *Server) getKlines(c *gin.Context) {
	opts := market.CandleOptions{
		Interval: c.DefaultQuery("interval", "1h"),
		Limit:    queryInt(c, "limit", 500),
	}
	var ok bool
	if opts.Start, ok = queryMillis(c, "start"); !ok {
		s.badRequest(c, "start must be a unix timestamp in ms")
		return
	}
	if opts.End, ok = queryMillis(c, "end"); !ok {
		s.badRequest(c, "end must be a unix timestamp in ms")
		return
	}

	data, err := s.Market.Candles(c.Request.Context(), c.DefaultQuery("symbol", defaultSymbol), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, data)
}

// getOHLC returns a chart series in raw or lightweight-charts format.
// A lone ?days=N means interval=1d&limit=N.
func (s *Server) getOHLC(c *gin.Context) {
	opts := market.ChartOptions{
		Interval: c.DefaultQuery("interval", "1d"),
		Limit:    queryInt(c, "limit", 30),
		Format:   strings.ToLower(c.DefaultQuery("format", market.FormatRaw)),
	}
	_, hasLimit := c.GetQuery("limit")
	_, hasInterval := c.GetQuery("interval")
	if days, ok := c.GetQuery("days"); ok && days != "" && !hasLimit && !hasInterval {
		opts.Interval = "1d"
		opts.Limit = 30
		if n, err := strconv.Atoi(days); err == nil && n != 0 {
			opts.Limit = n
		}
	}

	data, err := s.Market.Chart(c.Request.Context(), c.DefaultQuery("symbol", defaultSymbol), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, data)
}

// getRange returns close prices between two unix-second timestamps.
// GET /api/market/range?symbol=BTC&from=1727218800&to=1727222400
func (s *Server) getRange(c *gin.Context) {
	opts := market.RangeOptions{
		From:     queryFloat(c, "from"),
		To:       queryFloat(c, "to"),
		Interval: c.Query("interval"),
	}
	data, err := s.Market.Range(c.Request.Context(), c.DefaultQuery("symbol", defaultSymbol), opts)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondData(c, data)
}

// queryInt parses an integer parameter; missing, malformed or zero values
// fall back to def.
func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n == 0 {
		return def
	}
	return n
}

// queryMillis parses an optional ms timestamp; ok is false when present but
// malformed.
func queryMillis(c *gin.Context, key string) (v *int64, ok bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &n, true
}

// queryFloat returns NaN for missing or malformed values.
func queryFloat(c *gin.Context, key string) float64 {
	f, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
