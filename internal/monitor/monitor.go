package monitor

import (
	"context"

	"go.uber.org/zap"

	"papertrade-core/internal/events"
	"papertrade-core/pkg/logger"
)

// Monitor watches trade events, counts them and writes an audit log line
// per committed ledger mutation.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Logger  *zap.Logger
}

// Start consumes events until ctx is cancelled. It returns a channel closed
// once the consumer goroutine has exited.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if m.Bus == nil || m.Metrics == nil {
		close(done)
		return done
	}
	log := logger.OrNop(m.Logger)

	stream, unsub := m.Bus.SubscribeMany(256, events.EventTradeOpened, events.EventTradeClosed)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				ev, ok := msg.(events.TradeEvent)
				if !ok {
					continue
				}
				m.record(log, ev)
			}
		}
	}()
	return done
}

func (m *Monitor) record(log *zap.Logger, ev events.TradeEvent) {
	fields := []zap.Field{
		zap.String("account_id", ev.AccountID),
		zap.String("lot_id", ev.Lot.ID),
		zap.Int64("asset_id", ev.Lot.AssetID),
		zap.String("side", ev.Lot.Side),
		zap.String("quantity", ev.Lot.Quantity.String()),
		zap.String("price_open", ev.Lot.PriceOpen.String()),
	}
	switch ev.Type {
	case events.EventTradeOpened:
		m.Metrics.IncrementTradesOpened()
		log.Info("trade opened", fields...)
	case events.EventTradeClosed:
		m.Metrics.IncrementTradesClosed()
		if ev.Lot.PriceClose.Valid {
			fields = append(fields, zap.String("price_close", ev.Lot.PriceClose.Decimal.String()))
		}
		if ev.Lot.PnL.Valid {
			fields = append(fields, zap.String("pnl", ev.Lot.PnL.Decimal.String()))
		}
		fields = append(fields, zap.Bool("fully_closed", ev.FullyClosed))
		log.Info("trade closed", fields...)
	}
}
