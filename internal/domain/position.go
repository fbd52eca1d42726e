package domain

// MarginMode controls how margin is allocated to a position.
type MarginMode string

const (
	MarginCross    MarginMode = "CROSS"
	MarginIsolated MarginMode = "ISOLATED"
)

// PaperPosition is the net simulated position in one instrument.
// Quantity is signed: positive long, negative short.
type PaperPosition struct {
	Instrument    string
	Quantity      float64
	AvgEntryPrice float64
	RealizedPnL   float64
	FeesPaid      float64
	Leverage      float64
	MarginMode    MarginMode
}

// IsFlat reports whether the position has no open quantity.
func (p PaperPosition) IsFlat() bool { return p.Quantity == 0 }

// UnrealizedPnL marks the open quantity against the given price.
func (p PaperPosition) UnrealizedPnL(markPrice float64) float64 {
	return (markPrice - p.AvgEntryPrice) * p.Quantity
}

// PaperBalance tracks one asset of the simulated account.
// Available is Total minus whatever is reserved by open orders,
// so Available <= Total always holds.
type PaperBalance struct {
	Asset     string
	Available float64
	Total     float64
}

// PositionSummary is the aggregate snapshot reported to callers.
type PositionSummary struct {
	OpenPositions   int
	TotalRealized   float64
	TotalUnrealized float64
	TotalFees       float64
	Equity          float64
}
