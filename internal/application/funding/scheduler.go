package funding

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Perpetual funding settles at fixed UTC hours on the 8-hour convention.
var settlementHours = [3]int{0, 8, 16}

const (
	interval = 8 * time.Hour
	// Settlement is driven by polling, not precise timers. earlyTolerance
	// absorbs poll granularity without double-settling; startupTolerance
	// keeps a fresh scheduler from firing far away from a real boundary.
	earlyTolerance   = 30 * time.Second
	startupTolerance = 60 * time.Second
)

// Scheduler decides when perpetual funding is due and keeps a bounded
// history of settlements. It never touches positions itself: consumers
// register a callback and apply the payment on their side.
type Scheduler struct {
	lastSettlement time.Time
	history        []domain.FundingRecord
	maxHistory     int
	onSettle       func(instrument string, rate, payment float64)
}

// NewScheduler creates a scheduler with no prior settlement recorded.
// maxHistory bounds the retained settlement records; <=0 means a
// default of 500.
func NewScheduler(maxHistory int) *Scheduler {
	if maxHistory <= 0 {
		maxHistory = 500
	}
	return &Scheduler{maxHistory: maxHistory}
}

// OnSettlement registers the callback invoked synchronously from
// RecordSettlement. The callback must not panic; isolating callback
// failures is the caller's job.
func (s *Scheduler) OnSettlement(fn func(instrument string, rate, payment float64)) {
	s.onSettle = fn
}

// NextFundingTime returns the nearest strictly-future settlement time,
// rolling over to 00:00 UTC the next day after the 16:00 settlement.
func (s *Scheduler) NextFundingTime(now time.Time) time.Time {
	now = now.UTC()
	for _, h := range settlementHours {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, time.UTC)
		if candidate.After(now) {
			return candidate
		}
	}
	next := now.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
}

// ShouldSettle reports whether a funding settlement is due at now.
//
// With no prior settlement it only fires within startupTolerance of a
// fixed settlement hour, so a process started at an arbitrary time does
// not settle spuriously. Once a settlement is recorded, it fires again
// after a full interval minus earlyTolerance.
func (s *Scheduler) ShouldSettle(now time.Time) bool {
	now = now.UTC()
	if s.lastSettlement.IsZero() {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		boundaries := make([]time.Time, 0, len(settlementHours)+1)
		for _, h := range settlementHours {
			boundaries = append(boundaries, midnight.Add(time.Duration(h)*time.Hour))
		}
		// The last seconds of the day are within tolerance of the next
		// day's 00:00 boundary.
		boundaries = append(boundaries, midnight.AddDate(0, 0, 1))

		for _, boundary := range boundaries {
			d := now.Sub(boundary)
			if d < 0 {
				d = -d
			}
			if d <= startupTolerance {
				return true
			}
		}
		return false
	}
	return now.Sub(s.lastSettlement) >= interval-earlyTolerance
}

// RecordSettlement records one settled funding payment: updates the last
// settlement time, appends to history (dropping oldest past maxHistory),
// and invokes the registered callback.
func (s *Scheduler) RecordSettlement(instrument string, rate, payment float64, now time.Time) {
	now = now.UTC()
	s.lastSettlement = now
	s.history = append(s.history, domain.FundingRecord{
		Instrument:  instrument,
		FundingRate: rate,
		Payment:     payment,
		Timestamp:   now,
	})
	s.TrimHistory(s.maxHistory)

	if s.onSettle != nil {
		s.onSettle(instrument, rate, payment)
	}
	slog.Info("funding: settlement recorded",
		"instrument", instrument, "rate", rate, "payment", payment, "at", now)
}

// MarkSettled advances the last settlement time without recording a
// payment. Used when a boundary passes with no open positions, so the
// scheduler does not keep reporting the same boundary as due.
func (s *Scheduler) MarkSettled(now time.Time) {
	s.lastSettlement = now.UTC()
}

// TrimHistory keeps only the most recent max entries.
func (s *Scheduler) TrimHistory(max int) {
	if max <= 0 || len(s.history) <= max {
		return
	}
	s.history = append(s.history[:0:0], s.history[len(s.history)-max:]...)
}

// History returns the retained settlement records, oldest first.
func (s *Scheduler) History() []domain.FundingRecord {
	out := make([]domain.FundingRecord, len(s.history))
	copy(out, s.history)
	return out
}

// LastSettlement returns the time of the most recent settlement, zero if none.
func (s *Scheduler) LastSettlement() time.Time { return s.lastSettlement }
