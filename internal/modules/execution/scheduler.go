package execution

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// TWAPScheduler drives the per-tick loop until the window end
type TWAPScheduler struct {
	desk     *orderDesk
	sizer    *Sizer
	clock    Clock
	observer Observer
	log      zerolog.Logger
}

// Run ticks every window interval while the clock is before the window end
// and returns the number of ticks executed. Only validation errors and
// context cancellation stop the loop early.
func (s *TWAPScheduler) Run(ctx context.Context, window ExecutionWindow, orders []*ReconciledOrder) (int, error) {
	s.observer.PhaseChanged(PhaseRunning)

	ticks := 0
	for {
		now := s.clock.Now()
		if !now.Before(window.End) {
			break
		}

		ticks++
		fraction := window.Fraction(now)
		if err := s.Tick(ctx, fraction, orders); err != nil {
			return ticks, err
		}
		s.observer.TickCompleted(ticks, fraction, orders)

		s.log.Debug().
			Int("tick", ticks).
			Float64("fraction", fraction).
			Msg("Tick completed")

		wait := nextTick(window, s.clock.Now())
		if wait <= 0 {
			continue
		}
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return ticks, err
		}
	}

	return ticks, nil
}

// Tick processes every order once at the given elapsed fraction
func (s *TWAPScheduler) Tick(ctx context.Context, fraction float64, orders []*ReconciledOrder) error {
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.dispatch(ctx, fraction, order); err != nil {
			return err
		}
	}
	return nil
}

func (s *TWAPScheduler) dispatch(ctx context.Context, fraction float64, order *ReconciledOrder) error {
	switch order.Mode {
	case ModeTWAP:
		return s.twapStep(ctx, fraction, order)
	default:
		return domain.NewValidationError("instrument %s: unsupported execution mode %q", order.Code, order.Mode)
	}
}

func (s *TWAPScheduler) twapStep(ctx context.Context, fraction float64, order *ReconciledOrder) error {
	if order.IsNoop() {
		s.log.Debug().Str("code", order.Code).Msg("Holding already at target")
		return nil
	}

	if !s.desk.ensureReference(ctx, order) {
		s.desk.skip(StageTWAP, order, order.Direction, SkipNoPrice, "no reference or market price")
		return ctx.Err()
	}
	if s.desk.belowNotional(order) {
		s.desk.skip(StageTWAP, order, order.Direction, SkipBelowNotional, "gap value below ignore threshold")
		return nil
	}

	order.InterimTarget = order.InterimTargetAt(fraction)

	if err := s.desk.cancelStale(ctx, order.Code, order.Direction); err != nil {
		return err
	}

	final := order.FinalPosition
	sizing, err := s.sizer.Size(ctx, SizeRequest{
		Code:           order.Code,
		ReferencePrice: order.ReferencePrice,
		Direction:      order.Direction,
		Target:         order.InterimTarget,
		Limit:          &final,
		BookLevel:      1,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.desk.skip(StageTWAP, order, order.Direction, SkipDataUnavailable, err.Error())
		return nil
	}
	if sizing.IsZero() {
		s.desk.skip(StageTWAP, order, order.Direction, SkipNoVolume, "nothing to trade toward interim target")
		return nil
	}

	s.desk.submit(ctx, StageTWAP, order, order.Direction, sizing)
	return nil
}

// nextTick is the sleep before the following tick, capped at the window end
func nextTick(window ExecutionWindow, now time.Time) time.Duration {
	wait := window.Interval
	if remaining := window.End.Sub(now); remaining < wait {
		wait = remaining
	}
	return wait
}
