package execution

import (
	"context"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Controller runs a complete rebalance: reconcile, slice to the deadline,
// then close out the remaining gaps.
type Controller struct {
	adapter domain.BrokerAdapter
	params  Params
	clock   Clock
	log     zerolog.Logger
}

// NewController creates a controller. A nil clock uses the wall clock.
func NewController(adapter domain.BrokerAdapter, params Params, clock Clock, log zerolog.Logger) *Controller {
	if clock == nil {
		clock = RealClock()
	}
	return &Controller{
		adapter: adapter,
		params:  params,
		clock:   clock,
		log:     log.With().Str("component", "controller").Logger(),
	}
}

// Prepare validates the run inputs without touching the broker
func (c *Controller) Prepare(targets []TargetInstruction, cfg WindowConfig) (ExecutionWindow, error) {
	if err := c.params.Validate(); err != nil {
		return ExecutionWindow{}, err
	}
	window, err := cfg.Resolve(c.clock.Now(), c.params.DefaultInterval)
	if err != nil {
		return ExecutionWindow{}, err
	}
	if err := ValidateTargets(targets); err != nil {
		return ExecutionWindow{}, err
	}
	return window, nil
}

// Run executes targets over the configured window and blocks until the
// closing pass has finished. The returned result is non-nil whenever the run
// got past validation, including runs that stopped on an error.
func (c *Controller) Run(ctx context.Context, targets []TargetInstruction, cfg WindowConfig, observer Observer) (*RunResult, error) {
	window, err := c.Prepare(targets, cfg)
	if err != nil {
		return nil, err
	}

	obs := newTally(observer)
	result := &RunResult{Window: window, StartedAt: c.clock.Now()}
	defer func() {
		result.Submitted = obs.submitted
		result.Failed = obs.failed
		result.Skipped = obs.skipped
		result.FinishedAt = c.clock.Now()
	}()

	obs.PhaseChanged(PhaseInit)
	c.log.Info().
		Time("start", window.Start).
		Time("end", window.End).
		Dur("interval", window.Interval).
		Int("targets", len(targets)).
		Msg("Rebalance run starting")

	positions, err := c.adapter.GetPositions(ctx)
	if err != nil {
		return result, domain.WrapAdapterFailure("get positions", err)
	}

	orders, err := Reconcile(positions, targets, c.log)
	if err != nil {
		return result, err
	}
	result.Orders = orders
	obs.OrdersReconciled(orders)

	if err := c.adapter.OpenOrderEntry(ctx); err != nil {
		c.log.Warn().Err(domain.WrapAdapterFailure("open order entry", err)).Msg("Failed to switch to order entry")
	}

	if wait := window.Start.Sub(c.clock.Now()); wait > 0 {
		c.log.Info().Dur("wait", wait).Msg("Waiting for window start")
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return result, err
		}
	}

	books := NewBookReader(c.adapter, c.params.BookRetry, c.clock, obs, c.log)
	sizer := NewSizer(c.adapter, books, c.params, c.log)
	desk := &orderDesk{
		adapter:  c.adapter,
		books:    books,
		params:   c.params,
		clock:    c.clock,
		observer: obs,
		log:      c.log.With().Str("component", "order_desk").Logger(),
	}

	scheduler := &TWAPScheduler{
		desk:     desk,
		sizer:    sizer,
		clock:    c.clock,
		observer: obs,
		log:      c.log.With().Str("component", "twap_scheduler").Logger(),
	}
	ticks, err := scheduler.Run(ctx, window, orders)
	result.Ticks = ticks
	if err != nil {
		return result, err
	}

	obs.PhaseChanged(PhaseFinalizing)
	closer := &ActiveCloser{
		desk:    desk,
		sizer:   sizer,
		adapter: c.adapter,
		log:     c.log.With().Str("component", "active_closer").Logger(),
	}
	if err := closer.Close(ctx, orders); err != nil {
		return result, err
	}

	obs.PhaseChanged(PhaseDone)
	c.log.Info().
		Int("ticks", ticks).
		Int("submitted", obs.submitted).
		Int("failed", obs.failed).
		Int("skipped", obs.skipped).
		Msg("Rebalance run finished")

	return result, nil
}
