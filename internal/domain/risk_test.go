package domain_test

import (
	"testing"

	"github.com/alejandrodnm/perpbot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClampKeepsTighterLimits(t *testing.T) {
	in := domain.RiskLimits{
		MaxDrawdownPct:          0.05,
		SingleOrderSizeCap:      1_000,
		DailyLossLimit:          500,
		MaxConcurrentStrategies: 2,
	}
	assert.Equal(t, in, in.Clamp())
}

func TestClampReducesWiderLimits(t *testing.T) {
	in := domain.RiskLimits{
		MaxDrawdownPct:          0.90,
		SingleOrderSizeCap:      1_000_000,
		DailyLossLimit:          999_999,
		MaxConcurrentStrategies: 500,
	}
	assert.Equal(t, domain.HardLimits(), in.Clamp())
}

func TestClampZeroIsNotUnlimited(t *testing.T) {
	assert.Equal(t, domain.HardLimits(), domain.RiskLimits{}.Clamp())

	in := domain.RiskLimits{
		MaxDrawdownPct:          -1,
		SingleOrderSizeCap:      -1,
		DailyLossLimit:          -1,
		MaxConcurrentStrategies: -1,
	}
	assert.Equal(t, domain.HardLimits(), in.Clamp())
}

func TestUnrealizedPnL(t *testing.T) {
	long := domain.PaperPosition{Instrument: "BTCUSDT", Quantity: 2, AvgEntryPrice: 100}
	assert.Equal(t, 20.0, long.UnrealizedPnL(110))
	assert.Equal(t, -20.0, long.UnrealizedPnL(90))

	short := domain.PaperPosition{Instrument: "BTCUSDT", Quantity: -2, AvgEntryPrice: 100}
	assert.Equal(t, -20.0, short.UnrealizedPnL(110))
	assert.Equal(t, 20.0, short.UnrealizedPnL(90))

	assert.False(t, long.IsFlat())
	assert.True(t, domain.PaperPosition{}.IsFlat())
}
