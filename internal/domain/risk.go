package domain

// RiskLimits defines the configurable risk ceilings for one trading session.
type RiskLimits struct {
	MaxDrawdownPct          float64 `yaml:"max_drawdown_pct"`       // fraction of peak equity, e.g. 0.08 = 8%
	SingleOrderSizeCap      float64 `yaml:"single_order_size_cap"`  // max quote notional per order
	DailyLossLimit          float64 `yaml:"daily_loss_limit"`       // max cumulative realized loss per day
	MaxConcurrentStrategies int     `yaml:"max_concurrent_strategies"`
}

// Compiled-in absolute ceilings. Configuration narrows these, never
// widens: every RiskLimits instance that reaches a breaker has been
// clamped element-wise.
var hardLimits = RiskLimits{
	MaxDrawdownPct:          0.20,
	SingleOrderSizeCap:      50_000,
	DailyLossLimit:          10_000,
	MaxConcurrentStrategies: 20,
}

// HardLimits returns a copy of the compiled-in ceilings.
func HardLimits() RiskLimits { return hardLimits }

// Clamp returns the limits reduced element-wise to the hard ceilings.
// Zero or negative values fall back to the ceiling too: an unset limit
// must never mean "unlimited".
func (l RiskLimits) Clamp() RiskLimits {
	out := l
	if out.MaxDrawdownPct <= 0 || out.MaxDrawdownPct > hardLimits.MaxDrawdownPct {
		out.MaxDrawdownPct = hardLimits.MaxDrawdownPct
	}
	if out.SingleOrderSizeCap <= 0 || out.SingleOrderSizeCap > hardLimits.SingleOrderSizeCap {
		out.SingleOrderSizeCap = hardLimits.SingleOrderSizeCap
	}
	if out.DailyLossLimit <= 0 || out.DailyLossLimit > hardLimits.DailyLossLimit {
		out.DailyLossLimit = hardLimits.DailyLossLimit
	}
	if out.MaxConcurrentStrategies <= 0 || out.MaxConcurrentStrategies > hardLimits.MaxConcurrentStrategies {
		out.MaxConcurrentStrategies = hardLimits.MaxConcurrentStrategies
	}
	return out
}
