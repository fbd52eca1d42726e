package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// OrderSubmitter is the engine-side surface a strategy trades through.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order *domain.PaperOrder) (bool, string)
}

// Momentum is a minimal trend-following strategy: it buys when the price
// return over the lookback window exceeds the threshold and sells on the
// mirror condition. One signal per direction per instrument; it also
// listens to funding settlements to log carry cost.
type Momentum struct {
	name      string
	submitter OrderSubmitter

	lookback  int
	threshold float64
	orderQty  float64

	prices     map[string][]float64
	lastSignal map[string]domain.Side
}

// NewMomentum builds a momentum strategy from loader params.
func NewMomentum(name string, submitter OrderSubmitter, params map[string]any) (*Momentum, error) {
	m := &Momentum{
		name:       name,
		submitter:  submitter,
		lookback:   20,
		threshold:  0.005,
		orderQty:   0.01,
		prices:     make(map[string][]float64),
		lastSignal: make(map[string]domain.Side),
	}
	if v, ok := params["lookback"].(int); ok && v > 1 {
		m.lookback = v
	}
	if v, ok := params["threshold"].(float64); ok && v > 0 {
		m.threshold = v
	}
	if v, ok := params["order_qty"].(float64); ok && v > 0 {
		m.orderQty = v
	}
	if m.submitter == nil {
		return nil, fmt.Errorf("strategy.NewMomentum: submitter is required")
	}
	return m, nil
}

// Name implements Strategy.
func (m *Momentum) Name() string { return m.name }

// OnBar implements Strategy.
func (m *Momentum) OnBar(ctx context.Context, tick domain.PriceTick) error {
	window := append(m.prices[tick.Instrument], tick.Price)
	if len(window) > m.lookback {
		window = window[len(window)-m.lookback:]
	}
	m.prices[tick.Instrument] = window
	if len(window) < m.lookback {
		return nil
	}

	first := window[0]
	if first <= 0 {
		return nil
	}
	ret := (tick.Price - first) / first

	var side domain.Side
	switch {
	case ret >= m.threshold:
		side = domain.SideBuy
	case ret <= -m.threshold:
		side = domain.SideSell
	default:
		return nil
	}
	if m.lastSignal[tick.Instrument] == side {
		return nil
	}

	order := &domain.PaperOrder{
		Instrument: tick.Instrument,
		Side:       side,
		Type:       domain.OrderMarket,
		Quantity:   m.orderQty,
	}
	ok, reason := m.submitter.SubmitOrder(ctx, order)
	if !ok {
		slog.Warn("strategy: order rejected", "strategy", m.name,
			"instrument", tick.Instrument, "side", side, "reason", reason)
		return nil
	}
	m.lastSignal[tick.Instrument] = side
	slog.Info("strategy: signal", "strategy", m.name,
		"instrument", tick.Instrument, "side", side, "return", ret)
	return nil
}

// OnTrade implements Strategy.
func (m *Momentum) OnTrade(_ context.Context, fill domain.Fill) error {
	slog.Debug("strategy: fill observed", "strategy", m.name,
		"instrument", fill.Instrument, "side", fill.Side, "price", fill.Price)
	return nil
}

// OnFundingRate implements the optional FundingObserver capability.
func (m *Momentum) OnFundingRate(_ context.Context, rec domain.FundingRecord) error {
	slog.Debug("strategy: funding observed", "strategy", m.name,
		"instrument", rec.Instrument, "rate", rec.FundingRate, "payment", rec.Payment)
	return nil
}
