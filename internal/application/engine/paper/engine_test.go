package paper_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/perpbot/internal/application/engine/paper"
	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFeed serves fixed prices and funding rates.
type stubFeed struct {
	prices  map[string]float64
	rates   map[string]float64
	rateErr error
}

func (f *stubFeed) FetchPrice(_ context.Context, instrument string) (float64, error) {
	p, ok := f.prices[instrument]
	if !ok {
		return 0, fmt.Errorf("no price for %s", instrument)
	}
	return p, nil
}

func (f *stubFeed) FetchFundingRate(_ context.Context, instrument string) (float64, error) {
	if f.rateErr != nil {
		return 0, f.rateErr
	}
	return f.rates[instrument], nil
}

// recordingStrategy captures every hook invocation.
type recordingStrategy struct {
	bars    []domain.PriceTick
	trades  []domain.Fill
	funding []domain.FundingRecord
}

func (s *recordingStrategy) Name() string { return "recording" }

func (s *recordingStrategy) OnBar(_ context.Context, tick domain.PriceTick) error {
	s.bars = append(s.bars, tick)
	return nil
}

func (s *recordingStrategy) OnTrade(_ context.Context, fill domain.Fill) error {
	s.trades = append(s.trades, fill)
	return nil
}

func (s *recordingStrategy) OnFundingRate(_ context.Context, rec domain.FundingRecord) error {
	s.funding = append(s.funding, rec)
	return nil
}

func newEngine(t *testing.T, cfg paper.Config, feed *stubFeed) *paper.Engine {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "test-session"
	}
	if len(cfg.Instruments) == 0 {
		cfg.Instruments = []string{"BTCUSDT"}
	}
	return paper.New(cfg, feed, nil)
}

func tick(instrument string, price float64) domain.PriceTick {
	return domain.PriceTick{Instrument: instrument, Price: price, Timestamp: time.Now().UTC()}
}

func marketBuy(qty float64) *domain.PaperOrder {
	return &domain.PaperOrder{
		Instrument: "BTCUSDT",
		Side:       domain.SideBuy,
		Type:       domain.OrderMarket,
		Quantity:   qty,
	}
}

func TestMarketOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 100}}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))

	ok, reason := e.SubmitOrder(ctx, marketBuy(2))
	require.True(t, ok, reason)

	// The queued market order matches on the next observation.
	e.OnTick(ctx, tick("BTCUSDT", 100))

	positions := e.GetPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, 2.0, positions[0].Quantity)
	assert.Equal(t, 100.0, positions[0].AvgEntryPrice)

	balances := e.GetBalances()
	require.Len(t, balances, 1)
	assert.InDelta(t, 9_800, balances[0].Total, 1e-9)

	status := e.GetStatus()
	assert.True(t, status.Running)
	assert.InDelta(t, 10_000, status.Equity, 1e-9)
	assert.Empty(t, status.OpenOrders)
}

func TestOversizedOrderBlocked(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 100}}
	e := newEngine(t, paper.Config{
		InitialBalance: 10_000,
		Limits:         domain.RiskLimits{SingleOrderSizeCap: 1_000},
	}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))

	ok, reason := e.SubmitOrder(ctx, marketBuy(20)) // notional 2000
	assert.False(t, ok)
	assert.Contains(t, reason, "cap")
	assert.Empty(t, e.GetStatus().OpenOrders)
}

func TestMarketOrderBeforeFirstTickRejected(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 100}}
	e := newEngine(t, paper.Config{
		InitialBalance: 10_000,
		Limits:         domain.RiskLimits{SingleOrderSizeCap: 1_000},
	}, feed)

	// No tick yet: the order cannot be sized, so it must not slip past
	// the size cap at notional zero.
	order := marketBuy(500)
	ok, reason := e.SubmitOrder(ctx, order)
	assert.False(t, ok)
	assert.Contains(t, reason, "no mark price")
	assert.Equal(t, domain.StatusRejected, order.Status)

	e.OnTick(ctx, tick("BTCUSDT", 100))

	status := e.GetStatus()
	assert.Empty(t, status.Positions)
	assert.Empty(t, status.OpenOrders)
	assert.InDelta(t, 10_000, status.Balance.Total, 1e-9)
	assert.InDelta(t, 10_000, status.Balance.Available, 1e-9)

	// With a mark price known, the cap applies to the real notional.
	ok, reason = e.SubmitOrder(ctx, marketBuy(500))
	assert.False(t, ok)
	assert.Contains(t, reason, "cap")
}

func TestDrawdownTripBlocksNewOrders(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 100}}
	e := newEngine(t, paper.Config{
		InitialBalance: 10_000,
		Limits:         domain.RiskLimits{MaxDrawdownPct: 0.08},
	}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(10))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))

	// Equity 9000 + 10*15 = 9150, an 8.5% drawdown from 10000.
	e.OnTick(ctx, tick("BTCUSDT", 15))

	status := e.GetStatus()
	assert.True(t, status.Breaker.Tripped)

	ok, reason := e.SubmitOrder(ctx, marketBuy(1))
	assert.False(t, ok)
	assert.Contains(t, reason, "tripped")
}

func TestFundingSettlesOpenPosition(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{
		prices: map[string]float64{"BTCUSDT": 100},
		rates:  map[string]float64{"BTCUSDT": 0.0001},
	}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(2))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))

	// Within the startup tolerance of the 08:00 UTC boundary.
	at := time.Date(2026, 3, 10, 8, 0, 10, 0, time.UTC)
	e.EvaluateFunding(ctx, at)

	// Long pays the positive rate: 2 * 100 * 0.0001 = 0.02.
	balance := e.GetBalances()[0]
	assert.InDelta(t, 9_800-0.02, balance.Total, 1e-9)

	pos := e.GetPositions()[0]
	assert.InDelta(t, -0.02, pos.RealizedPnL, 1e-9)

	// Same boundary does not settle twice.
	e.EvaluateFunding(ctx, at)
	assert.InDelta(t, 9_800-0.02, e.GetBalances()[0].Total, 1e-9)
}

func TestShortReceivesPositiveFunding(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{
		prices: map[string]float64{"BTCUSDT": 100},
		rates:  map[string]float64{"BTCUSDT": 0.0001},
	}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	order := &domain.PaperOrder{
		Instrument: "BTCUSDT",
		Side:       domain.SideSell,
		Type:       domain.OrderMarket,
		Quantity:   2,
	}
	ok, _ := e.SubmitOrder(ctx, order)
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))

	at := time.Date(2026, 3, 10, 16, 0, 5, 0, time.UTC)
	e.EvaluateFunding(ctx, at)

	assert.InDelta(t, 0.02, e.GetPositions()[0].RealizedPnL, 1e-9)
}

func TestFundingWithoutPositionsAdvancesBoundary(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{
		prices: map[string]float64{"BTCUSDT": 100},
		rates:  map[string]float64{"BTCUSDT": 0.0001},
	}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	at := time.Date(2026, 3, 10, 8, 0, 10, 0, time.UTC)
	e.EvaluateFunding(ctx, at)

	// Open a position after the boundary was consumed; re-evaluating the
	// same instant must not settle.
	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(2))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))

	e.EvaluateFunding(ctx, at)
	assert.InDelta(t, 0.0, e.GetPositions()[0].RealizedPnL, 1e-9)
}

func TestFundingFetchErrorDefersSettlement(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{
		prices:  map[string]float64{"BTCUSDT": 100},
		rateErr: fmt.Errorf("exchange down"),
	}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(2))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))

	at := time.Date(2026, 3, 10, 8, 0, 10, 0, time.UTC)
	e.EvaluateFunding(ctx, at)
	assert.InDelta(t, 0.0, e.GetPositions()[0].RealizedPnL, 1e-9)

	// Rate comes back: the still-pending boundary settles.
	feed.rateErr = nil
	feed.rates = map[string]float64{"BTCUSDT": 0.0001}
	e.EvaluateFunding(ctx, at)
	assert.InDelta(t, -0.02, e.GetPositions()[0].RealizedPnL, 1e-9)
}

func TestStopFlattensPositions(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 100}}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(2))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))
	e.OnTick(ctx, tick("BTCUSDT", 110))

	e.Stop(ctx, true)

	status := e.GetStatus()
	assert.False(t, status.Running)
	assert.Empty(t, status.Positions)
	assert.Empty(t, status.OpenOrders)
	// Closed at the last mark: 9800 + 2*110 = 10020.
	assert.InDelta(t, 10_020, status.Balance.Total, 1e-9)
	assert.InDelta(t, 10_020, status.Equity, 1e-9)

	ok, reason := e.SubmitOrder(ctx, marketBuy(1))
	assert.False(t, ok)
	assert.Equal(t, "session stopped", reason)

	// Stop is idempotent.
	e.Stop(ctx, true)
}

func TestStopWithoutFlattenKeepsPosition(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{prices: map[string]float64{"BTCUSDT": 100}}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(2))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 100))

	e.Stop(ctx, false)

	status := e.GetStatus()
	require.Len(t, status.Positions, 1)
	assert.Equal(t, 2.0, status.Positions[0].Quantity)
}

func TestStrategyReceivesBarsAndTrades(t *testing.T) {
	ctx := context.Background()
	feed := &stubFeed{
		prices: map[string]float64{"BTCUSDT": 100},
		rates:  map[string]float64{"BTCUSDT": 0.0001},
	}
	e := newEngine(t, paper.Config{InitialBalance: 10_000}, feed)

	strat := &recordingStrategy{}
	e.SetStrategy(strat)

	e.OnTick(ctx, tick("BTCUSDT", 100))
	ok, _ := e.SubmitOrder(ctx, marketBuy(1))
	require.True(t, ok)
	e.OnTick(ctx, tick("BTCUSDT", 101))

	require.Len(t, strat.bars, 2)
	assert.Equal(t, 101.0, strat.bars[1].Price)
	require.Len(t, strat.trades, 1)
	assert.Equal(t, 1.0, strat.trades[0].Quantity)

	at := time.Date(2026, 3, 10, 16, 0, 5, 0, time.UTC)
	e.EvaluateFunding(ctx, at)
	require.Len(t, strat.funding, 1)
	assert.Equal(t, "BTCUSDT", strat.funding[0].Instrument)
}
