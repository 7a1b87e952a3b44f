// Package ledger executes trade opens and closes against the store. Every
// mutation runs in one transaction that spans the execution price fetch.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade-core/internal/balance"
	"papertrade-core/internal/events"
	"papertrade-core/internal/monitor"
	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/logger"
)

// PriceQuoter supplies execution prices for asset symbols.
type PriceQuoter interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Options configures an Engine. Zero values get sensible defaults.
type Options struct {
	Policy  balance.Policy
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

// Engine is the trade ledger.
type Engine struct {
	store   *db.Database
	prices  PriceQuoter
	locks   *balance.AccountLocks
	policy  balance.Policy
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	log     *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewEngine creates a ledger over store, pricing through prices.
func NewEngine(store *db.Database, prices PriceQuoter, opts Options) *Engine {
	if opts.Policy == "" {
		opts.Policy = balance.PolicyLegacy
	}
	opts.Logger = logger.OrNop(opts.Logger)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		store:   store,
		prices:  prices,
		locks:   balance.NewAccountLocks(),
		policy:  opts.Policy,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
	}
}

// OpenTrade opens a lot at the current price and applies its cash effect.
func (e *Engine) OpenTrade(ctx context.Context, req OpenRequest) (_ *db.Lot, err error) {
	defer e.observe(time.Now(), &err)

	side, qty, err := req.validate()
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(req.AccountID)
	defer unlock()

	var lot db.Lot
	err = e.store.InTx(ctx, func(tx *db.Tx) error {
		acct, err := tx.LockAccount(ctx, req.AccountID)
		if err != nil {
			return notFound(err, apperr.ErrAccountNotFound)
		}
		asset, err := tx.GetAsset(ctx, req.AssetID)
		if err != nil {
			return notFound(err, apperr.ErrAssetNotFound)
		}
		price, err := e.quote(ctx, asset.Symbol)
		if err != nil {
			return err
		}

		cash, err := e.policy.Open(acct.Cash, price.Mul(qty), side)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if !cash.Equal(acct.Cash) {
			if err := tx.UpdateAccountCash(ctx, acct.ID, cash, now); err != nil {
				return err
			}
		}

		lot = db.Lot{
			ID:        e.newID(),
			AccountID: acct.ID,
			AssetID:   asset.ID,
			Side:      side,
			Quantity:  qty,
			PriceOpen: price,
			OpenedAt:  now,
		}
		return tx.InsertLot(ctx, lot)
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("lot opened",
		zap.String("account_id", lot.AccountID),
		zap.String("lot_id", lot.ID),
		zap.String("side", lot.Side),
		zap.String("quantity", lot.Quantity.String()),
		zap.String("price", lot.PriceOpen.String()))
	e.publish(events.TradeEvent{Type: events.EventTradeOpened, AccountID: lot.AccountID, Lot: lot})
	return &lot, nil
}

// CloseTrade realizes all or part of an open lot at the current price.
func (e *Engine) CloseTrade(ctx context.Context, req CloseRequest) (_ *CloseResult, err error) {
	defer e.observe(time.Now(), &err)

	lotID := strings.TrimSpace(req.LotID)
	if lotID == "" {
		return nil, apperr.Validation("lot id is required")
	}
	var want *decimal.Decimal
	if strings.TrimSpace(req.Quantity) != "" {
		q, err := parseQuantity(req.Quantity)
		if err != nil {
			return nil, err
		}
		want = &q
	}

	// The account lock must be held before the transaction starts, so the
	// owner is resolved first when the caller does not name it.
	owner := req.AccountID
	if owner == "" {
		l, err := e.store.Queries().GetLot(ctx, lotID)
		if err != nil {
			return nil, notFound(err, apperr.ErrTradeNotFound)
		}
		owner = l.AccountID
	}
	unlock := e.locks.Lock(owner)
	defer unlock()

	var res CloseResult
	err = e.store.InTx(ctx, func(tx *db.Tx) error {
		lot, err := tx.LockLot(ctx, lotID)
		if err != nil {
			return notFound(err, apperr.ErrTradeNotFound)
		}
		if lot.AccountID != owner {
			return apperr.ErrTradeNotFound
		}
		if lot.IsClosed {
			return apperr.ErrAlreadyClosed
		}

		qty := lot.Quantity
		if want != nil {
			if want.GreaterThan(lot.Quantity) {
				return apperr.Newf(apperr.KindConflict, apperr.CodeInvalidQuantity,
					"close quantity %s exceeds remaining %s", want.String(), lot.Quantity.String())
			}
			qty = *want
		}

		acct, err := tx.LockAccount(ctx, lot.AccountID)
		if err != nil {
			return notFound(err, apperr.ErrAccountNotFound)
		}
		asset, err := tx.GetAsset(ctx, lot.AssetID)
		if err != nil {
			return notFound(err, apperr.ErrAssetNotFound)
		}
		price, err := e.quote(ctx, asset.Symbol)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		pnl := pnlPerUnit(lot.Side, lot.PriceOpen, price).Mul(qty)
		cash := e.policy.Close(acct.Cash, price.Mul(qty), lot.Side)
		if err := tx.UpdateAccountCash(ctx, acct.ID, cash, now); err != nil {
			return err
		}

		closed := db.Lot{
			ID:         e.newID(),
			AccountID:  lot.AccountID,
			AssetID:    lot.AssetID,
			Side:       lot.Side,
			Quantity:   qty,
			PriceOpen:  lot.PriceOpen,
			PriceClose: decimal.NewNullDecimal(price),
			PnL:        decimal.NewNullDecimal(pnl),
			OpenedAt:   lot.OpenedAt,
			ClosedAt:   &now,
			IsClosed:   true,
		}
		if err := tx.InsertLot(ctx, closed); err != nil {
			return err
		}

		remaining := lot.Quantity.Sub(qty)
		if remaining.Sign() <= 0 {
			if err := tx.DeleteLot(ctx, lot.ID); err != nil {
				return err
			}
			res = CloseResult{ClosedLot: closed, RemainingQuantity: decimal.Zero, FullyClosed: true, Message: "trade fully closed"}
			return nil
		}
		if err := tx.UpdateLotQuantity(ctx, lot.ID, remaining); err != nil {
			return err
		}
		res = CloseResult{
			ClosedLot:         closed,
			RemainingQuantity: remaining,
			Message:           fmt.Sprintf("partially closed %s, %s remaining", qty.String(), remaining.String()),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("lot closed",
		zap.String("account_id", res.ClosedLot.AccountID),
		zap.String("lot_id", lotID),
		zap.String("quantity", res.ClosedLot.Quantity.String()),
		zap.String("pnl", res.ClosedLot.PnL.Decimal.String()),
		zap.Bool("fully_closed", res.FullyClosed))
	remaining := res.RemainingQuantity
	e.publish(events.TradeEvent{
		Type:              events.EventTradeClosed,
		AccountID:         res.ClosedLot.AccountID,
		Lot:               res.ClosedLot,
		RemainingQuantity: &remaining,
		FullyClosed:       res.FullyClosed,
	})
	return &res, nil
}

// ListTrades returns an account's lots, newest first.
func (e *Engine) ListTrades(ctx context.Context, accountID string, f TradeFilter) ([]Trade, error) {
	if accountID == "" {
		return nil, apperr.Validation("account is required")
	}
	rows, err := e.store.Queries().ListLots(ctx, accountID, db.LotFilter{IsClosed: f.IsClosed, AssetID: f.AssetID})
	if err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, Trade{LotWithSymbol: r, PnLPct: pnlPct(r.Lot)})
	}
	return out, nil
}

func (e *Engine) quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, err := e.prices.Price(ctx, symbol)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindUpstream, apperr.CodePriceUnavailable,
			"market price unavailable for "+symbol, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, apperr.Newf(apperr.KindUpstream, apperr.CodePriceUnavailable,
			"market price unavailable for %s", symbol)
	}
	return p, nil
}

func (e *Engine) publish(ev events.TradeEvent) {
	if e.bus != nil {
		e.bus.Publish(ev.Type, ev)
	}
}

func (e *Engine) observe(start time.Time, err *error) {
	if e.metrics != nil {
		e.metrics.ObserveLedger(time.Since(start), *err)
	}
}

// notFound maps a missing row to target and passes other errors through.
func notFound(err error, target error) error {
	if errors.Is(err, db.ErrNotFound) {
		return target
	}
	return err
}
