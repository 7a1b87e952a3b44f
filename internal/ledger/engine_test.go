package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade-core/internal/balance"
	"papertrade-core/internal/events"
	"papertrade-core/internal/monitor"
	"papertrade-core/pkg/apperr"
	"papertrade-core/pkg/db"
)

const btc int64 = 1 // first seeded asset, BTCUSDT

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePricer struct {
	mu    sync.Mutex
	price map[string]decimal.Decimal
	err   error
	calls atomic.Int32
}

func (f *fakePricer) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, f.err
	}
	p, ok := f.price[symbol]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

func (f *fakePricer) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price[symbol] = decimal.RequireFromString(price)
}

func (f *fakePricer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fixture struct {
	engine  *Engine
	store   *db.Database
	prices  *fakePricer
	bus     *events.Bus
	metrics *monitor.SystemMetrics
	clock   *time.Time
}

func newFixture(t *testing.T, policy balance.Policy) *fixture {
	t.Helper()
	store, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, db.ApplyMigrations(store))

	clock := t0
	f := &fixture{
		store:   store,
		prices:  &fakePricer{price: map[string]decimal.Decimal{"BTCUSDT": dec("50000")}},
		bus:     events.NewBus(),
		metrics: monitor.NewSystemMetrics(),
		clock:   &clock,
	}
	f.engine = NewEngine(store, f.prices, Options{
		Policy:  policy,
		Bus:     f.bus,
		Metrics: f.metrics,
		Now:     func() time.Time { return *f.clock },
	})
	return f
}

func (f *fixture) account(t *testing.T, cash string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, f.store.Queries().CreateAccount(context.Background(), db.Account{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "x",
		Cash:         dec(cash),
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}))
	return id
}

func (f *fixture) cash(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	a, err := f.store.Queries().GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return a.Cash
}

func (f *fixture) lots(t *testing.T, accountID string) []db.LotWithSymbol {
	t.Helper()
	lots, err := f.store.Queries().ListLots(context.Background(), accountID, db.LotFilter{})
	require.NoError(t, err)
	return lots
}

func (f *fixture) open(t *testing.T, accountID, side, qty string) *db.Lot {
	t.Helper()
	lot, err := f.engine.OpenTrade(context.Background(), OpenRequest{AccountID: accountID, AssetID: btc, Side: side, Quantity: qty})
	require.NoError(t, err)
	return lot
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...string) {
	t.Helper()
	m := fmt.Sprintf("want %s, got %s", want, got)
	if len(msg) > 0 {
		m = msg[0] + ": " + m
	}
	assert.True(t, dec(want).Equal(got), m)
}

func TestOpenBuyDebitsNotional(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")

	lot := f.open(t, acc, " buy ", "0.1")

	assert.Equal(t, db.SideBuy, lot.Side)
	assertDec(t, "50000", lot.PriceOpen)
	assertDec(t, "0.1", lot.Quantity)
	assert.False(t, lot.IsClosed)
	assert.False(t, lot.PriceClose.Valid)
	assert.False(t, lot.PnL.Valid)
	assert.Nil(t, lot.ClosedAt)
	assertDec(t, "5000", f.cash(t, acc))

	stored := f.lots(t, acc)
	require.Len(t, stored, 1)
	assert.Equal(t, lot.ID, stored[0].ID)
	assert.Equal(t, "BTCUSDT", stored[0].Symbol)
	assert.True(t, stored[0].OpenedAt.Equal(t0))
}

func TestOpenInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")

	_, err := f.engine.OpenTrade(context.Background(), OpenRequest{AccountID: acc, AssetID: btc, Side: "BUY", Quantity: "1"})

	require.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))
	assertDec(t, "10000", f.cash(t, acc))
	assert.Empty(t, f.lots(t, acc))
	assert.EqualValues(t, 1, f.metrics.GetSnapshot().LedgerRejects)
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")

	cases := []struct {
		name string
		req  OpenRequest
		code apperr.Code
	}{
		{"missing account", OpenRequest{AssetID: btc, Side: "BUY", Quantity: "1"}, apperr.CodeValidation},
		{"missing asset", OpenRequest{AccountID: acc, Side: "BUY", Quantity: "1"}, apperr.CodeValidation},
		{"missing quantity", OpenRequest{AccountID: acc, AssetID: btc, Side: "BUY"}, apperr.CodeValidation},
		{"bad side", OpenRequest{AccountID: acc, AssetID: btc, Side: "HOLD", Quantity: "1"}, apperr.CodeInvalidSide},
		{"zero quantity", OpenRequest{AccountID: acc, AssetID: btc, Side: "BUY", Quantity: "0"}, apperr.CodeInvalidQuantity},
		{"negative quantity", OpenRequest{AccountID: acc, AssetID: btc, Side: "SELL", Quantity: "-1"}, apperr.CodeInvalidQuantity},
		{"garbage quantity", OpenRequest{AccountID: acc, AssetID: btc, Side: "BUY", Quantity: "lots"}, apperr.CodeInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.OpenTrade(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
	assert.Zero(t, f.prices.calls.Load(), "validation happens before pricing")
}

func TestOpenUnknownAccountAndAsset(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	ctx := context.Background()

	_, err := f.engine.OpenTrade(ctx, OpenRequest{AccountID: "nobody", AssetID: btc, Side: "BUY", Quantity: "0.1"})
	assert.ErrorIs(t, err, apperr.ErrAccountNotFound)

	_, err = f.engine.OpenTrade(ctx, OpenRequest{AccountID: acc, AssetID: 999, Side: "BUY", Quantity: "0.1"})
	assert.ErrorIs(t, err, apperr.ErrAssetNotFound)
	assertDec(t, "10000", f.cash(t, acc))
}

func TestOpenPriceFailureRollsBack(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	upstream := errors.New("binance timeout")
	f.prices.fail(upstream)

	_, err := f.engine.OpenTrade(context.Background(), OpenRequest{AccountID: acc, AssetID: btc, Side: "BUY", Quantity: "0.1"})

	require.ErrorIs(t, err, apperr.ErrPriceUnavailable)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assertDec(t, "10000", f.cash(t, acc))
	assert.Empty(t, f.lots(t, acc))
}

func TestFullCloseBuyProfit(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	lot := f.open(t, acc, "BUY", "0.1")

	f.prices.set("BTCUSDT", "60000")
	*f.clock = t0.Add(time.Hour)
	res, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID, AccountID: acc})
	require.NoError(t, err)

	assert.True(t, res.FullyClosed)
	assert.True(t, res.RemainingQuantity.IsZero())
	closed := res.ClosedLot
	assert.NotEqual(t, lot.ID, closed.ID)
	assert.True(t, closed.IsClosed)
	assertDec(t, "0.1", closed.Quantity)
	assertDec(t, "50000", closed.PriceOpen)
	assertDec(t, "60000", closed.PriceClose.Decimal)
	assertDec(t, "1000", closed.PnL.Decimal)
	assert.True(t, closed.OpenedAt.Equal(t0), "opened_at copied from the original")
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(t0.Add(time.Hour)))

	// 5000 left after the buy, plus 60000×0.1.
	assertDec(t, "11000", f.cash(t, acc))

	_, err = f.store.Queries().GetLot(context.Background(), lot.ID)
	assert.ErrorIs(t, err, db.ErrNotFound, "original lot is deleted")

	trades, err := f.engine.ListTrades(context.Background(), acc, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, closed.ID, trades[0].ID)
	assertDec(t, "20", trades[0].PnLPct)
}

func TestPartialClose(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "100000")
	lot := f.open(t, acc, "BUY", "1")
	assertDec(t, "50000", f.cash(t, acc))

	f.prices.set("BTCUSDT", "55000")
	res, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID, Quantity: "0.5"})
	require.NoError(t, err)

	assert.False(t, res.FullyClosed)
	assertDec(t, "0.5", res.RemainingQuantity)
	assertDec(t, "0.5", res.ClosedLot.Quantity)
	assertDec(t, "2500", res.ClosedLot.PnL.Decimal)
	assertDec(t, "77500", f.cash(t, acc))

	original, err := f.store.Queries().GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	assert.False(t, original.IsClosed)
	assertDec(t, "0.5", original.Quantity)
	assertDec(t, "50000", original.PriceOpen)
	assert.Equal(t, db.SideBuy, original.Side)

	isClosed := false
	openTrades, err := f.engine.ListTrades(context.Background(), acc, TradeFilter{IsClosed: &isClosed})
	require.NoError(t, err)
	require.Len(t, openTrades, 1)
	assert.Equal(t, lot.ID, openTrades[0].ID)
	assert.True(t, openTrades[0].PnLPct.IsZero())

	isClosed = true
	closedTrades, err := f.engine.ListTrades(context.Background(), acc, TradeFilter{IsClosed: &isClosed})
	require.NoError(t, err)
	require.Len(t, closedTrades, 1)
	assert.Equal(t, res.ClosedLot.ID, closedTrades[0].ID)
	// 2500 on 50000×0.5 invested.
	assertDec(t, "10", closedTrades[0].PnLPct)
}

func TestOpenKeepsQuantityPrecision(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "100000")
	lot := f.open(t, acc, "BUY", "0.123456789012")

	// 50000×0.123456789012 = 6172.8394506
	assertDec(t, "93827.1605494", f.cash(t, acc))

	stored, err := f.store.Queries().GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	assertDec(t, "0.123456789012", stored.Quantity)

	f.prices.set("BTCUSDT", "60000")
	_, err = f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID, AccountID: acc})
	require.NoError(t, err)
	// Cash moves by price_close×qty on the same full-precision quantity.
	assertDec(t, "101234.56789012", f.cash(t, acc))
}

func TestCloseQuantityChecks(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "100000")
	lot := f.open(t, acc, "BUY", "1")
	ctx := context.Background()

	_, err := f.engine.CloseTrade(ctx, CloseRequest{LotID: lot.ID, Quantity: "1.5"})
	assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.engine.CloseTrade(ctx, CloseRequest{LotID: lot.ID, Quantity: "0"})
	assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.engine.CloseTrade(ctx, CloseRequest{LotID: " "})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	assertDec(t, "50000", f.cash(t, acc))
	require.Len(t, f.lots(t, acc), 1)
}

func TestSellCloseLossLegacy(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	lot := f.open(t, acc, "SELL", "0.1")
	assertDec(t, "10000", f.cash(t, acc), "legacy SELL open leaves cash alone")

	f.prices.set("BTCUSDT", "60000")
	res, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID})
	require.NoError(t, err)

	assertDec(t, "-1000", res.ClosedLot.PnL.Decimal)
	assert.Equal(t, db.SideSell, res.ClosedLot.Side)
	assertDec(t, "16000", f.cash(t, acc))

	trades, err := f.engine.ListTrades(context.Background(), acc, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assertDec(t, "-20", trades[0].PnLPct)
}

func TestSellSymmetricNetsToPnL(t *testing.T) {
	f := newFixture(t, balance.PolicySymmetric)
	acc := f.account(t, "10000")
	lot := f.open(t, acc, "SELL", "0.1")
	assertDec(t, "15000", f.cash(t, acc))

	f.prices.set("BTCUSDT", "60000")
	res, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID})
	require.NoError(t, err)

	assertDec(t, "-1000", res.ClosedLot.PnL.Decimal)
	assertDec(t, "9000", f.cash(t, acc))
}

func TestDoubleCloseRejected(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	lot := f.open(t, acc, "BUY", "0.1")
	ctx := context.Background()

	res, err := f.engine.CloseTrade(ctx, CloseRequest{LotID: lot.ID, AccountID: acc})
	require.NoError(t, err)
	cash := f.cash(t, acc)

	_, err = f.engine.CloseTrade(ctx, CloseRequest{LotID: res.ClosedLot.ID, AccountID: acc})
	assert.ErrorIs(t, err, apperr.ErrAlreadyClosed)

	_, err = f.engine.CloseTrade(ctx, CloseRequest{LotID: lot.ID, AccountID: acc})
	assert.ErrorIs(t, err, apperr.ErrTradeNotFound, "fully closed lots are consumed")

	assert.True(t, cash.Equal(f.cash(t, acc)))
	assert.Len(t, f.lots(t, acc), 1)
}

func TestCloseOtherAccountsLot(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	owner := f.account(t, "10000")
	other := f.account(t, "10000")
	lot := f.open(t, owner, "BUY", "0.1")

	_, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID, AccountID: other})
	assert.ErrorIs(t, err, apperr.ErrTradeNotFound)

	_, err = f.engine.CloseTrade(context.Background(), CloseRequest{LotID: "missing"})
	assert.ErrorIs(t, err, apperr.ErrTradeNotFound)

	assert.Len(t, f.lots(t, owner), 1)
	assert.Empty(t, f.lots(t, other))
}

func TestClosePriceFailureRollsBack(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	lot := f.open(t, acc, "BUY", "0.1")
	f.prices.fail(errors.New("down"))

	_, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID})
	require.ErrorIs(t, err, apperr.ErrPriceUnavailable)

	assertDec(t, "5000", f.cash(t, acc))
	lots := f.lots(t, acc)
	require.Len(t, lots, 1)
	assert.False(t, lots[0].IsClosed)
}

func TestTradeEventsPublished(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	stream, unsub := f.bus.SubscribeMany(8, events.EventTradeOpened, events.EventTradeClosed)
	defer unsub()

	lot := f.open(t, acc, "BUY", "0.1")
	_, err := f.engine.CloseTrade(context.Background(), CloseRequest{LotID: lot.ID, Quantity: "0.04"})
	require.NoError(t, err)

	var got []events.TradeEvent
	for len(got) < 2 {
		select {
		case msg := <-stream:
			got = append(got, msg.(events.TradeEvent))
		case <-time.After(time.Second):
			t.Fatalf("received %d events", len(got))
		}
	}
	byType := map[events.Event]events.TradeEvent{}
	for _, ev := range got {
		byType[ev.Type] = ev
		assert.Equal(t, acc, ev.AccountID)
	}
	assert.Equal(t, lot.ID, byType[events.EventTradeOpened].Lot.ID)
	closed := byType[events.EventTradeClosed]
	require.NotNil(t, closed.RemainingQuantity)
	assertDec(t, "0.06", *closed.RemainingQuantity)
	assert.False(t, closed.FullyClosed)
}

func TestConcurrentOpensNeverOverdraw(t *testing.T) {
	f := newFixture(t, balance.PolicyLegacy)
	acc := f.account(t, "10000")
	f.prices.set("BTCUSDT", "1000")

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.OpenTrade(context.Background(), OpenRequest{AccountID: acc, AssetID: btc, Side: "BUY", Quantity: "1"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrInsufficientFunds):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, ok.Load())
	assert.EqualValues(t, 10, rejected.Load())
	assert.True(t, f.cash(t, acc).IsZero())
	assert.Len(t, f.lots(t, acc), 10)
}

func TestPnLPct(t *testing.T) {
	l := db.Lot{Quantity: dec("0.5"), PriceOpen: dec("3")}
	assert.True(t, pnlPct(l).IsZero(), "open lot")

	l.PnL = decimal.NewNullDecimal(dec("0.5"))
	assertDec(t, "33.33", pnlPct(l))

	l.PriceOpen = decimal.Zero
	assert.True(t, pnlPct(l).IsZero(), "zero investment")
}
