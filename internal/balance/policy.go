// Package balance holds the cash rules applied by the ledger and the
// per-account locks that serialize them.
package balance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
)

// Policy decides how SELL lots move cash.
type Policy string

const (
	// PolicyLegacy leaves cash untouched when a SELL lot opens and credits
	// price_close×q when it closes, like a BUY.
	PolicyLegacy Policy = "legacy"
	// PolicySymmetric credits the notional on SELL open and debits
	// price_close×q on SELL close, so the net effect is the realized pnl.
	PolicySymmetric Policy = "symmetric"
)

// ParsePolicy accepts "legacy" or "symmetric"; empty means legacy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLegacy, nil
	case PolicyLegacy, PolicySymmetric:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cash policy %q", s)
	}
}

// Open returns the balance after opening a lot of the given side and notional.
func (p Policy) Open(cash, notional decimal.Decimal, side string) (decimal.Decimal, error) {
	switch side {
	case db.SideBuy:
		if cash.LessThan(notional) {
			return cash, apperr.Newf(apperr.KindInsufficientFunds, apperr.CodeInsufficientFunds,
				"insufficient funds: need %s, have %s", notional.StringFixed(2), cash.StringFixed(2))
		}
		return cash.Sub(notional), nil
	case db.SideSell:
		if p == PolicySymmetric {
			return cash.Add(notional), nil
		}
		return cash, nil
	default:
		return cash, apperr.ErrInvalidSide
	}
}

// Close returns the balance after realizing proceeds (price_close×q) on a
// lot of the given side. A symmetric SELL close may leave cash negative: a
// short can always be covered.
func (p Policy) Close(cash, proceeds decimal.Decimal, side string) decimal.Decimal {
	if side == db.SideSell && p == PolicySymmetric {
		return cash.Sub(proceeds)
	}
	return cash.Add(proceeds)
}
