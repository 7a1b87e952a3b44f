package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"papertrade-core/internal/events"
	"papertrade-core/pkg/db"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 10} {
		h.Record(v)
	}

	s := h.Stats()
	assert.Equal(t, 3, s.Count, "window keeps the newest samples")
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 14.0/3, s.Avg, 1e-9)
}

func TestSystemMetricsCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.ObserveRequest(2*time.Millisecond, 200)
	m.ObserveRequest(3*time.Millisecond, 503)
	m.ObserveUpstream(time.Millisecond, errors.New("timeout"))
	m.ObserveLedger(time.Millisecond, nil)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 2, snap.Requests)
	assert.EqualValues(t, 1, snap.ErrorsCount)
	assert.EqualValues(t, 1, snap.UpstreamCalls)
	assert.EqualValues(t, 1, snap.UpstreamErrors)
	assert.EqualValues(t, 0, snap.LedgerRejects)
	assert.Equal(t, 2, snap.APILatency.Count)
}

func TestMonitorCountsTradeEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bus := events.NewBus()
	m := &Monitor{Bus: bus, Metrics: NewSystemMetrics(), Logger: zap.New(core)}

	ctx, cancel := context.WithCancel(context.Background())
	done := m.Start(ctx)

	// Subscriptions are registered synchronously by Start.
	bus.Publish(events.EventTradeOpened, events.TradeEvent{Type: events.EventTradeOpened, AccountID: "acc", Lot: db.Lot{ID: "lot-1"}})
	bus.Publish(events.EventTradeClosed, events.TradeEvent{Type: events.EventTradeClosed, AccountID: "acc", Lot: db.Lot{ID: "lot-2"}, FullyClosed: true})

	assert.Eventually(t, func() bool {
		s := m.Metrics.GetSnapshot()
		return s.TradesOpened == 1 && s.TradesClosed == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 2, logs.FilterField(zap.String("account_id", "acc")).Len())
}
