package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"papertrade-core/internal/ledger"
	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
)

// Quantities accept a JSON number or a decimal string.
type openTradeRequest struct {
	AssetID  int64       `json:"asset_id"`
	Side     string      `json:"side"`
	Quantity json.Number `json:"quantity"`
}

type closeTradeRequest struct {
	Quantity json.Number `json:"quantity"`
}

// listAssets returns the tradable assets.
func (s *Server) listAssets(c *gin.Context) {
	assets, err := s.DB.Queries().ListAssets(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if assets == nil {
		assets = []db.Asset{}
	}
	c.JSON(http.StatusOK, gin.H{"data": assets})
}

// getAccount returns the authenticated account and its cash balance.
func (s *Server) getAccount(c *gin.Context) {
	account, err := s.DB.Queries().GetAccount(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = apperr.ErrAccountNotFound
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// listTrades returns the account's lots, optionally filtered.
// GET /api/trades?is_closed=true|false&asset_id=2
func (s *Server) listTrades(c *gin.Context) {
	var f ledger.TradeFilter
	if raw := c.Query("is_closed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.badRequest(c, "is_closed must be true or false")
			return
		}
		f.IsClosed = &v
	}
	raw := c.Query("asset_id")
	if raw == "" {
		raw = c.Query("assetId")
	}
	if raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.badRequest(c, "asset_id must be an integer")
			return
		}
		f.AssetID = &v
	}

	trades, err := s.Ledger.ListTrades(c.Request.Context(), CurrentUserID(c), f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trades})
}

// openTrade opens a lot at the current market price.
func (s *Server) openTrade(c *gin.Context) {
	var req openTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request payload")
		return
	}

	lot, err := s.Ledger.OpenTrade(c.Request.Context(), ledger.OpenRequest{
		AccountID: CurrentUserID(c),
		AssetID:   req.AssetID,
		Side:      req.Side,
		Quantity:  req.Quantity.String(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

// closeTrade closes a lot, fully unless a quantity is given.
func (s *Server) closeTrade(c *gin.Context) {
	var req closeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(c, "invalid request payload")
		return
	}

	res, err := s.Ledger.CloseTrade(c.Request.Context(), ledger.CloseRequest{
		LotID:     c.Param("id"),
		AccountID: CurrentUserID(c),
		Quantity:  req.Quantity.String(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// getPositions returns the account's aggregated open positions.
func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Positions.ListPositions(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// getMetrics exposes latency histograms, counters and cache statistics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"code":  "METRICS_UNAVAILABLE",
			"error": "metrics not available",
		})
		return
	}
	resp := gin.H{"metrics": s.Metrics.GetSnapshot()}
	if s.Market != nil {
		resp["quote_cache"] = s.Market.CacheStats()
	}
	if s.Bus != nil {
		resp["events_dropped"] = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}
