package execution

import (
	"context"
	"errors"
	"math"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// closeBookLevel is the book level the closer prices against
const closeBookLevel = 2

// ActiveCloser pushes every order to its final position once the window has
// ended, pricing one level deeper into the book for a more aggressive fill.
type ActiveCloser struct {
	desk    *orderDesk
	sizer   *Sizer
	adapter domain.BrokerAdapter
	log     zerolog.Logger
}

// Close runs the closing pass over orders in their execution order
func (c *ActiveCloser) Close(ctx context.Context, orders []*ReconciledOrder) error {
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.closeOne(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

func (c *ActiveCloser) closeOne(ctx context.Context, order *ReconciledOrder) error {
	if !order.Mode.IsSupported() {
		return domain.NewValidationError("instrument %s: unsupported execution mode %q", order.Code, order.Mode)
	}

	if !c.desk.ensureReference(ctx, order) {
		c.desk.skip(StageClose, order, order.Direction, SkipNoPrice, "no reference or market price")
		return ctx.Err()
	}
	if !order.IsNoop() && c.desk.belowNotional(order) {
		c.desk.skip(StageClose, order, order.Direction, SkipBelowNotional, "gap value below ignore threshold")
		return nil
	}

	if err := c.desk.cancelStale(ctx, order.Code, order.Direction); err != nil {
		return err
	}

	positions, err := c.adapter.GetPositions(ctx)
	if err != nil {
		c.desk.skip(StageClose, order, order.Direction, SkipDataUnavailable,
			domain.WrapAdapterFailure("get positions", err).Error())
		return nil
	}
	holding := liveHolding(positions, order.Code)

	gap := order.FinalPosition - holding
	if math.Abs(gap) < quantityEpsilon {
		c.desk.skip(StageClose, order, order.Direction, SkipAtTarget, "holding equals final position")
		return nil
	}

	direction := deriveDirection(holding, order.FinalPosition)
	if direction != order.Direction {
		c.log.Warn().
			Str("code", order.Code).
			Str("planned", string(order.Direction)).
			Str("live", string(direction)).
			Float64("holding", holding).
			Float64("final", order.FinalPosition).
			Msg("Holding crossed the target, closing on the opposite side")
	}

	final := order.FinalPosition
	sizing, err := c.sizer.Size(ctx, SizeRequest{
		Code:           order.Code,
		ReferencePrice: order.ReferencePrice,
		Direction:      direction,
		Target:         final,
		Limit:          &final,
		BookLevel:      closeBookLevel,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.desk.skip(StageClose, order, direction, SkipDataUnavailable, err.Error())
		return nil
	}
	if sizing.IsZero() {
		c.desk.skip(StageClose, order, direction, SkipNoVolume, "remaining gap below one lot")
		return nil
	}

	c.desk.submit(ctx, StageClose, order, direction, sizing)
	return nil
}
