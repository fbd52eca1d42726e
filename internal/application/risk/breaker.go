package risk

import (
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Breaker is the session circuit breaker. It enforces the order size cap,
// the max drawdown from peak equity, and the daily loss limit. Once tripped
// it stays tripped for the rest of the session; there is no auto-recovery,
// a new session gets a fresh breaker.
//
// The breaker is not safe for concurrent use. All calls are sequenced
// through the engine, which is the single writer per session.
type Breaker struct {
	limits domain.RiskLimits

	initialEquity float64
	peakEquity    float64
	currentEquity float64
	dailyPnL      float64
	tripped       bool
	tripReason    string
}

// Status is a read-only snapshot of the breaker.
type Status struct {
	Tripped       bool
	TripReason    string
	InitialEquity float64
	PeakEquity    float64
	CurrentEquity float64
	DrawdownPct   float64
	DailyPnL      float64
	Limits        domain.RiskLimits
}

// NewBreaker creates a breaker for a session starting at initialEquity.
// The supplied limits are clamped to the hard ceilings unconditionally,
// even when the caller explicitly asked for more.
func NewBreaker(limits domain.RiskLimits, initialEquity float64) *Breaker {
	clamped := limits.Clamp()
	if clamped != limits {
		slog.Warn("risk: limits clamped to hard ceilings",
			"requested_drawdown", limits.MaxDrawdownPct,
			"effective_drawdown", clamped.MaxDrawdownPct,
			"requested_order_cap", limits.SingleOrderSizeCap,
			"effective_order_cap", clamped.SingleOrderSizeCap,
		)
	}
	return &Breaker{
		limits:        clamped,
		initialEquity: initialEquity,
		peakEquity:    initialEquity,
		currentEquity: initialEquity,
	}
}

// Limits returns the effective (clamped) limits.
func (b *Breaker) Limits() domain.RiskLimits { return b.limits }

// CheckOrder reports whether an order of the given quote size may be placed.
// Fails closed: a tripped breaker rejects everything.
func (b *Breaker) CheckOrder(size float64) (bool, string) {
	if b.tripped {
		return false, "breaker tripped: " + b.tripReason
	}
	if size > b.limits.SingleOrderSizeCap {
		return false, fmt.Sprintf("order size %.2f exceeds cap %.2f", size, b.limits.SingleOrderSizeCap)
	}
	return true, ""
}

// UpdateEquity records the latest session equity and trips the breaker if
// drawdown from peak reaches the limit.
func (b *Breaker) UpdateEquity(equity float64) (bool, string) {
	if b.tripped {
		return false, b.tripReason
	}
	b.currentEquity = equity
	if equity > b.peakEquity {
		b.peakEquity = equity
	}
	dd := b.drawdown()
	if dd >= b.limits.MaxDrawdownPct {
		b.trip(fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", dd*100, b.limits.MaxDrawdownPct*100))
		return false, b.tripReason
	}
	return true, ""
}

// RecordTradePnL accumulates realized PnL into the daily total and trips
// the breaker once the accumulated loss reaches the daily limit.
func (b *Breaker) RecordTradePnL(pnl float64) (bool, string) {
	if b.tripped {
		return false, b.tripReason
	}
	b.dailyPnL += pnl
	if -b.dailyPnL >= b.limits.DailyLossLimit {
		b.trip(fmt.Sprintf("daily loss %.2f reached limit %.2f", -b.dailyPnL, b.limits.DailyLossLimit))
		return false, b.tripReason
	}
	return true, ""
}

// Status returns a snapshot without side effects.
func (b *Breaker) Status() Status {
	return Status{
		Tripped:       b.tripped,
		TripReason:    b.tripReason,
		InitialEquity: b.initialEquity,
		PeakEquity:    b.peakEquity,
		CurrentEquity: b.currentEquity,
		DrawdownPct:   b.drawdown(),
		DailyPnL:      b.dailyPnL,
		Limits:        b.limits,
	}
}

func (b *Breaker) drawdown() float64 {
	if b.peakEquity <= 0 {
		return 0
	}
	return (b.peakEquity - b.currentEquity) / b.peakEquity
}

func (b *Breaker) trip(reason string) {
	b.tripped = true
	b.tripReason = reason
	slog.Error("risk: circuit breaker tripped", "reason", reason,
		"equity", b.currentEquity, "peak", b.peakEquity, "daily_pnl", b.dailyPnL)
}
