package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
)

// OpenRequest opens a lot at the current market price. Quantity is a
// decimal string.
type OpenRequest struct {
	AccountID string
	AssetID   int64
	Side      string
	Quantity  string
}

func (r OpenRequest) validate() (side string, qty decimal.Decimal, err error) {
	if r.AccountID == "" || r.AssetID == 0 || strings.TrimSpace(r.Side) == "" || strings.TrimSpace(r.Quantity) == "" {
		return "", decimal.Zero, apperr.Validation("account, asset_id, side and quantity are required")
	}
	side = strings.ToUpper(strings.TrimSpace(r.Side))
	if side != db.SideBuy && side != db.SideSell {
		return "", decimal.Zero, apperr.ErrInvalidSide
	}
	qty, err = parseQuantity(r.Quantity)
	if err != nil {
		return "", decimal.Zero, err
	}
	return side, qty, nil
}

// CloseRequest closes all or part of an open lot. An empty Quantity closes
// the whole lot; a non-empty AccountID restricts the close to that owner.
type CloseRequest struct {
	LotID     string
	AccountID string
	Quantity  string
}

// CloseResult describes a committed close.
type CloseResult struct {
	ClosedLot         db.Lot          `json:"closed_lot"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	FullyClosed       bool            `json:"fully_closed"`
	Message           string          `json:"message"`
}

// TradeFilter narrows ListTrades. Nil fields are not applied.
type TradeFilter struct {
	IsClosed *bool
	AssetID  *int64
}

// Trade is a lot row with its symbol and return on the invested amount.
type Trade struct {
	db.LotWithSymbol
	PnLPct decimal.Decimal `json:"pnl_pct"`
}

func parseQuantity(s string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !q.IsPositive() {
		return decimal.Zero, apperr.Newf(apperr.KindValidation, apperr.CodeInvalidQuantity, "quantity must be a positive number, got %q", s)
	}
	return q, nil
}

// pnlPct is pnl / (price_open × quantity) × 100, rounded to 2 places; 0 for
// open lots and zero investments.
func pnlPct(l db.Lot) decimal.Decimal {
	if !l.PnL.Valid {
		return decimal.Zero
	}
	invested := l.PriceOpen.Mul(l.Quantity)
	if invested.IsZero() {
		return decimal.Zero
	}
	return l.PnL.Decimal.Div(invested).Mul(decimal.NewFromInt(100)).Round(2)
}

// pnlPerUnit is close-open for longs and open-close for shorts.
func pnlPerUnit(side string, priceOpen, priceClose decimal.Decimal) decimal.Decimal {
	if side == db.SideSell {
		return priceOpen.Sub(priceClose)
	}
	return priceClose.Sub(priceOpen)
}
