package ports

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// PriceFeed supplies live prices and funding rates from an exchange
// connector. Implementations rate-limit and retry internally; callers
// treat an error as "try again next poll".
type PriceFeed interface {
	FetchPrice(ctx context.Context, instrument string) (float64, error)
	FetchFundingRate(ctx context.Context, instrument string) (float64, error)
}

// TickStream is a push-style price source (WebSocket). Ticks closes when
// the stream shuts down; consumers fall back to polling the PriceFeed.
type TickStream interface {
	Ticks() <-chan domain.PriceTick
	Close() error
}
