package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// TradeStorage persists the durable trail of a paper session: fills,
// funding settlements, equity snapshots and risk profile changes.
// Persistence is best-effort relative to simulation correctness: the
// engine logs storage errors and keeps its in-memory state authoritative.
type TradeStorage interface {
	RecordTrade(ctx context.Context, sessionID string, fill domain.Fill) error
	RecordSettlement(ctx context.Context, sessionID string, rec domain.FundingRecord) error
	RecordEquity(ctx context.Context, sessionID string, at time.Time, equity float64) error

	TradesBetween(ctx context.Context, instrument string, from, to time.Time) ([]domain.Fill, error)
	SettlementsBetween(ctx context.Context, instrument string, from, to time.Time) ([]domain.FundingRecord, error)

	// JournalProfileChange records who applied which risk profile.
	// Profile updates require a confirming operator identity.
	JournalProfileChange(ctx context.Context, operator, profile string, limits domain.RiskLimits) error

	Close() error
}
