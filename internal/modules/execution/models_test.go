package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconciledOrder_InterimTargetMonotonic(t *testing.T) {
	orders := []*ReconciledOrder{
		{InitialPosition: 0, FinalPosition: 1000},
		{InitialPosition: 2000, FinalPosition: 0},
		{InitialPosition: 300, FinalPosition: 1700},
	}

	for _, o := range orders {
		assert.Equal(t, o.InitialPosition, o.InterimTargetAt(0))
		assert.Equal(t, o.FinalPosition, o.InterimTargetAt(1))

		prev := o.InterimTargetAt(0)
		for i := 1; i <= 100; i++ {
			cur := o.InterimTargetAt(float64(i) / 100)
			if o.Gap() > 0 {
				assert.GreaterOrEqual(t, cur, prev)
				assert.LessOrEqual(t, cur, o.FinalPosition)
			} else {
				assert.LessOrEqual(t, cur, prev)
				assert.GreaterOrEqual(t, cur, o.FinalPosition)
			}
			prev = cur
		}

		// never overshoots, even for out of range fractions
		assert.Equal(t, o.FinalPosition, o.InterimTargetAt(1.5))
		assert.Equal(t, o.InitialPosition, o.InterimTargetAt(-0.5))
	}
}

func TestReconciledOrder_InterimTargetHalfway(t *testing.T) {
	o := &ReconciledOrder{InitialPosition: 0, FinalPosition: 1000}
	assert.Equal(t, 500.0, o.InterimTargetAt(0.5))
}

func TestReconciledOrder_Notional(t *testing.T) {
	buy := &ReconciledOrder{InitialPosition: 0, FinalPosition: 500, ReferencePrice: 10}
	sell := &ReconciledOrder{InitialPosition: 500, FinalPosition: 0, ReferencePrice: 10}

	assert.Equal(t, 5000.0, buy.Notional())
	assert.Equal(t, 5000.0, sell.Notional())
	assert.True(t, sell.IsLiquidation())
	assert.False(t, buy.IsLiquidation())
}

func TestParams_Validate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.LotSize = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.BookRetry.MaxAttempts = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.PassiveOffset = -0.01
	assert.Error(t, p.Validate())
}
