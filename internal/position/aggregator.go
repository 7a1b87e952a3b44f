// Package position derives net open positions from open lots and live
// prices. Nothing here is persisted.
package position

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/logger"
)

// BatchPricer returns prices keyed by upstream pair for many symbols in
// one call.
type BatchPricer interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// Position is an account's aggregate holding in one asset.
type Position struct {
	AssetID          int64           `json:"asset_id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	Quantity         decimal.Decimal `json:"quantity"`
	AvgPrice         decimal.Decimal `json:"avg_price"`
	LastPrice        decimal.Decimal `json:"last_price"`
	Value            decimal.Decimal `json:"value"`
	UnrealizedPnLAbs decimal.Decimal `json:"unrealized_pnl_abs"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
}

// Aggregator lists positions.
type Aggregator struct {
	store  *db.Database
	prices BatchPricer
	log    *zap.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(store *db.Database, prices BatchPricer, log *zap.Logger) *Aggregator {
	return &Aggregator{store: store, prices: prices, log: logger.OrNop(log)}
}

type group struct {
	assetID  int64
	symbol   string
	quantity decimal.Decimal
	notional decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// ListPositions aggregates the account's open lots per asset, ordered by
// asset id. Assets without a live price report a last price of 0.
func (a *Aggregator) ListPositions(ctx context.Context, accountID string) ([]Position, error) {
	if accountID == "" {
		return nil, apperr.Validation("account is required")
	}
	lots, err := a.store.Queries().OpenLotsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return []Position{}, nil
	}

	// Lots arrive ordered by asset id.
	var groups []*group
	for _, l := range lots {
		if n := len(groups); n == 0 || groups[n-1].assetID != l.AssetID {
			groups = append(groups, &group{assetID: l.AssetID, symbol: l.Symbol})
		}
		g := groups[len(groups)-1]
		g.quantity = g.quantity.Add(l.Quantity)
		g.notional = g.notional.Add(l.Quantity.Mul(l.PriceOpen))
	}

	symbols := make([]string, 0, len(groups))
	for _, g := range groups {
		symbols = append(symbols, g.symbol)
	}
	last, err := a.prices.Prices(ctx, symbols)
	if err != nil {
		a.log.Warn("positions priced without market data",
			zap.String("account_id", accountID), zap.Error(err))
		last = nil
	}

	out := make([]Position, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.position(last[g.symbol]))
	}
	return out, nil
}

func (g *group) position(last decimal.Decimal) Position {
	avg := decimal.Zero
	if !g.quantity.IsZero() {
		avg = g.notional.Div(g.quantity)
	}
	pct := decimal.Zero
	if !avg.IsZero() {
		pct = last.Sub(avg).Div(avg).Mul(hundred)
	}
	return Position{
		AssetID:          g.assetID,
		Symbol:           g.symbol,
		Name:             g.symbol,
		Quantity:         g.quantity,
		AvgPrice:         avg.Round(8),
		LastPrice:        last,
		Value:            last.Mul(g.quantity),
		UnrealizedPnLAbs: last.Sub(avg).Mul(g.quantity).Round(8),
		UnrealizedPnLPct: pct.Round(2),
	}
}
