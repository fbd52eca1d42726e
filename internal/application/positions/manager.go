package positions

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Manager owns the balances and positions of one paper session.
// Entry prices use weighted-average-cost accounting; a fill that flips
// the net direction through flat realizes PnL on the closed portion and
// opens the residual at the fill price.
//
// Not safe for concurrent use: the engine event loop is the single writer.
type Manager struct {
	quoteAsset string
	balance    domain.PaperBalance
	positions  map[string]*domain.PaperPosition
	lastMarks  map[string]float64
}

// NewManager creates a manager funded with initialBalance of quoteAsset.
func NewManager(quoteAsset string, initialBalance float64) *Manager {
	return &Manager{
		quoteAsset: quoteAsset,
		balance: domain.PaperBalance{
			Asset:     quoteAsset,
			Available: initialBalance,
			Total:     initialBalance,
		},
		positions: make(map[string]*domain.PaperPosition),
		lastMarks: make(map[string]float64),
	}
}

// Reserve locks notional from the available balance for a pending order.
// Returns false without mutating anything if the balance cannot cover it.
func (m *Manager) Reserve(notional float64) bool {
	if notional < 0 || notional > m.balance.Available {
		return false
	}
	m.balance.Available -= notional
	return true
}

// Release returns a previously reserved notional to the available balance,
// capped so Available never exceeds Total.
func (m *Manager) Release(notional float64) {
	m.balance.Available += notional
	if m.balance.Available > m.balance.Total {
		m.balance.Available = m.balance.Total
	}
}

// ApplyFill updates the instrument position and balance for one fill.
// The balance moves by the full signed notional: a buy debits
// quantity*price (plus fee), a sell credits it. Realized PnL is booked
// on the position for reporting; it is implicit in the balance flow.
// Any notional the order had reserved must be released by the caller
// via Release around this call.
func (m *Manager) ApplyFill(fill domain.Fill) float64 {
	pos, ok := m.positions[fill.Instrument]
	if !ok {
		pos = &domain.PaperPosition{
			Instrument: fill.Instrument,
			Leverage:   1,
			MarginMode: domain.MarginCross,
		}
		m.positions[fill.Instrument] = pos
	}

	signedQty := fill.Quantity * fill.Side.Sign()
	realized := 0.0

	switch {
	case pos.Quantity == 0 || sameSign(pos.Quantity, signedQty):
		// Same-direction add: weighted-average entry.
		newQty := pos.Quantity + signedQty
		if newQty != 0 {
			pos.AvgEntryPrice = (pos.AvgEntryPrice*math.Abs(pos.Quantity) +
				fill.Price*math.Abs(signedQty)) / math.Abs(newQty)
		}
		pos.Quantity = newQty

	case math.Abs(signedQty) <= math.Abs(pos.Quantity):
		// Partial or exact close: realize on the closed quantity at the
		// old average, entry price unchanged for the remainder.
		closed := math.Abs(signedQty)
		realized = (fill.Price - pos.AvgEntryPrice) * closed * sign(pos.Quantity)
		pos.Quantity += signedQty
		if pos.Quantity == 0 {
			pos.AvgEntryPrice = 0
		}

	default:
		// Flip through flat: close the whole old position, open the
		// residual in the new direction at the fill price.
		closed := math.Abs(pos.Quantity)
		realized = (fill.Price - pos.AvgEntryPrice) * closed * sign(pos.Quantity)
		pos.Quantity += signedQty
		pos.AvgEntryPrice = fill.Price
	}

	pos.RealizedPnL += realized
	pos.FeesPaid += fill.Fee
	delta := -signedQty*fill.Price - fill.Fee
	m.balance.Total += delta
	m.balance.Available += delta
	if m.balance.Available > m.balance.Total {
		m.balance.Available = m.balance.Total
	}
	m.lastMarks[fill.Instrument] = fill.Price

	slog.Debug("positions: fill applied",
		"instrument", fill.Instrument, "side", fill.Side, "qty", fill.Quantity,
		"price", fill.Price, "realized", realized, "net_qty", pos.Quantity)
	return realized
}

// ApplyFunding credits or debits the balance by the signed payment and
// books it into the position's realized PnL. The payment sign is computed
// by the caller and applied verbatim.
func (m *Manager) ApplyFunding(instrument string, payment float64) error {
	pos, ok := m.positions[instrument]
	if !ok {
		return fmt.Errorf("positions.ApplyFunding: unknown instrument %q", instrument)
	}
	pos.RealizedPnL += payment
	m.balance.Total += payment
	m.balance.Available += payment
	if m.balance.Available > m.balance.Total {
		m.balance.Available = m.balance.Total
	}
	return nil
}

// MarkPrice records the latest observed price for an instrument.
func (m *Manager) MarkPrice(instrument string, price float64) {
	m.lastMarks[instrument] = price
}

// UnrealizedPnL marks the instrument's open quantity against markPrice.
// Computed on demand, never cached.
func (m *Manager) UnrealizedPnL(instrument string, markPrice float64) float64 {
	pos, ok := m.positions[instrument]
	if !ok {
		return 0
	}
	return pos.UnrealizedPnL(markPrice)
}

// Position returns a copy of the instrument's position and whether it exists.
func (m *Manager) Position(instrument string) (domain.PaperPosition, bool) {
	pos, ok := m.positions[instrument]
	if !ok {
		return domain.PaperPosition{}, false
	}
	return *pos, true
}

// Positions returns copies of all non-flat positions.
func (m *Manager) Positions() []domain.PaperPosition {
	out := make([]domain.PaperPosition, 0, len(m.positions))
	for _, pos := range m.positions {
		if !pos.IsFlat() {
			out = append(out, *pos)
		}
	}
	return out
}

// Balance returns the current quote balance.
func (m *Manager) Balance() domain.PaperBalance { return m.balance }

// Equity is balance total plus the market value of open positions at the
// last observed marks.
func (m *Manager) Equity() float64 {
	eq := m.balance.Total
	for inst, pos := range m.positions {
		if mark, ok := m.lastMarks[inst]; ok {
			eq += pos.Quantity * mark
		}
	}
	return eq
}

// Summary aggregates the session state for external reporting.
func (m *Manager) Summary() domain.PositionSummary {
	s := domain.PositionSummary{Equity: m.Equity()}
	for inst, pos := range m.positions {
		if !pos.IsFlat() {
			s.OpenPositions++
		}
		s.TotalRealized += pos.RealizedPnL
		s.TotalFees += pos.FeesPaid
		if mark, ok := m.lastMarks[inst]; ok {
			s.TotalUnrealized += pos.UnrealizedPnL(mark)
		}
	}
	return s
}

func sameSign(a, b float64) bool { return a > 0 && b > 0 || a < 0 && b < 0 }

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
