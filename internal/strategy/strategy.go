package strategy

import (
	"context"

	"github.com/alejandrodnm/perpbot/internal/domain"
)

// Strategy is the required capability set every strategy implements.
// Optional capabilities (orderbook snapshots, funding rates) are separate
// interfaces checked at dispatch time; a strategy that does not implement
// them simply never sees those events. Strategies are selected at
// construction and injected into the engine: no subclassing, no
// discovery by reflection.
type Strategy interface {
	// Name returns the unique identifier of the strategy.
	Name() string

	// OnBar is called once per price observation on a subscribed instrument.
	OnBar(ctx context.Context, tick domain.PriceTick) error

	// OnTrade is called for every fill the session produces.
	OnTrade(ctx context.Context, fill domain.Fill) error
}

// OrderbookObserver is the optional hook for orderbook snapshots.
type OrderbookObserver interface {
	OnOrderbook(ctx context.Context, instrument string, bid, ask float64) error
}

// FundingObserver is the optional hook for funding settlements.
type FundingObserver interface {
	OnFundingRate(ctx context.Context, rec domain.FundingRecord) error
}

// DispatchOrderbook forwards an orderbook snapshot if the strategy opted in.
func DispatchOrderbook(ctx context.Context, s Strategy, instrument string, bid, ask float64) error {
	if obs, ok := s.(OrderbookObserver); ok {
		return obs.OnOrderbook(ctx, instrument, bid, ask)
	}
	return nil
}

// DispatchFunding forwards a funding settlement if the strategy opted in.
func DispatchFunding(ctx context.Context, s Strategy, rec domain.FundingRecord) error {
	if obs, ok := s.(FundingObserver); ok {
		return obs.OnFundingRate(ctx, rec)
	}
	return nil
}

// Registry holds the available strategies indexed by name.
type Registry map[string]Strategy

// NewRegistry creates an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// Register adds a strategy to the registry.
func (r Registry) Register(s Strategy) {
	r[s.Name()] = s
}

// Get returns the strategy by name.
func (r Registry) Get(name string) (Strategy, bool) {
	s, ok := r[name]
	return s, ok
}
