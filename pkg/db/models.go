package db

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AssetKindCrypto = "crypto"
	AssetKindForex  = "forex"
	AssetKindIndex  = "index"

	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Account holds a user's credentials and cash balance.
type Account struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Cash         decimal.Decimal `json:"cash"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Asset is immutable reference data.
type Asset struct {
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
}

// Lot is one ledger entry. Open lots have no close price, pnl or close time.
type Lot struct {
	ID         string              `json:"id"`
	AccountID  string              `json:"account_id"`
	AssetID    int64               `json:"asset_id"`
	Side       string              `json:"side"`
	Quantity   decimal.Decimal     `json:"quantity"`
	PriceOpen  decimal.Decimal     `json:"price_open"`
	PriceClose decimal.NullDecimal `json:"price_close"`
	PnL        decimal.NullDecimal `json:"pnl"`
	OpenedAt   time.Time           `json:"opened_at"`
	ClosedAt   *time.Time          `json:"closed_at"`
	IsClosed   bool                `json:"is_closed"`
}

// LotWithSymbol is a lot joined with its asset symbol.
type LotWithSymbol struct {
	Lot
	Symbol string `json:"symbol"`
}

// LotFilter narrows ListLots. Nil fields are not applied.
type LotFilter struct {
	IsClosed *bool
	AssetID  *int64
}

// CanonicalSymbol trims and upper-cases a symbol.
func CanonicalSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
