package execution

import (
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

const (
	// DefaultLotSize is the minimum tradable increment
	DefaultLotSize int64 = 100

	// DefaultMinOrderValue keeps orders above the fixed minimum commission
	// (2.5bp with a 5.00 floor breaks even at 20,000).
	DefaultMinOrderValue = 20000.0

	// DefaultIgnoreOrderValue is the gap notional below which an instrument
	// is not traded at all, except for full liquidations
	DefaultIgnoreOrderValue = 10000.0

	// DefaultInterval is the tick interval when none is configured
	DefaultInterval = 20 * time.Second

	// DefaultSettleDelay is the pause after a cancel before resubmitting
	DefaultSettleDelay = 500 * time.Millisecond

	quantityEpsilon = 1e-6
)

// Params holds the tunable constants of the engine
type Params struct {
	LotSize          int64
	MinOrderValue    float64
	IgnoreOrderValue float64
	// PassiveOffset is subtracted from buy prices and added to sell prices
	// before submission. Zero submits at the sized price.
	PassiveOffset   float64
	BookRetry       RetryPolicy
	SettleDelay     time.Duration
	DefaultInterval time.Duration
}

// DefaultParams returns the production defaults
func DefaultParams() Params {
	return Params{
		LotSize:          DefaultLotSize,
		MinOrderValue:    DefaultMinOrderValue,
		IgnoreOrderValue: DefaultIgnoreOrderValue,
		PassiveOffset:    0,
		BookRetry:        DefaultRetryPolicy(),
		SettleDelay:      DefaultSettleDelay,
		DefaultInterval:  DefaultInterval,
	}
}

// Validate checks the parameters are usable
func (p Params) Validate() error {
	if p.LotSize <= 0 {
		return domain.NewConfigurationError("lot size must be positive, got %d", p.LotSize)
	}
	if p.MinOrderValue < 0 {
		return domain.NewConfigurationError("minimum order value must not be negative, got %.2f", p.MinOrderValue)
	}
	if p.IgnoreOrderValue < 0 {
		return domain.NewConfigurationError("ignore order value must not be negative, got %.2f", p.IgnoreOrderValue)
	}
	if p.PassiveOffset < 0 {
		return domain.NewConfigurationError("passive offset must not be negative, got %.4f", p.PassiveOffset)
	}
	if p.BookRetry.MaxAttempts < 1 {
		return domain.NewConfigurationError("book retry attempts must be at least 1, got %d", p.BookRetry.MaxAttempts)
	}
	if p.DefaultInterval <= 0 {
		return domain.NewConfigurationError("default interval must be positive, got %s", p.DefaultInterval)
	}
	return nil
}
