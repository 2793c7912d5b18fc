package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/clients/paper"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buyOrder(code string, initial, final, ref float64) *ReconciledOrder {
	return &ReconciledOrder{
		Code: code, InitialPosition: initial, FinalPosition: final, ReferencePrice: ref,
		Direction: domain.DirectionBuy, Mode: ModeTWAP, InterimTarget: initial,
	}
}

func sellOrder(code string, initial, final, ref float64) *ReconciledOrder {
	o := buyOrder(code, initial, final, ref)
	o.Direction = domain.DirectionSell
	return o
}

func TestScheduler_HalfwayTick(t *testing.T) {
	params := DefaultParams()
	params.MinOrderValue = 0
	e := newTestEngine(params)
	e.broker.SetQuote("600000", 10.0, 10.05)

	order := buyOrder("600000", 0, 1000, 10)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	assert.Equal(t, 500.0, order.InterimTarget)
	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(500), subs[0].Volume)
	assert.Equal(t, 10.05, subs[0].Price)
	assert.Equal(t, domain.DirectionBuy, subs[0].Direction)
	assert.Equal(t, 1, order.Submitted)
}

func TestScheduler_HalfwayTickDefaultParams(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetQuote("600000", 10.0, 10.05)

	order := buyOrder("600000", 0, 1000, 10)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	// the 2000-unit minimum exceeds the final position, so the limit is sent
	assert.Equal(t, 500.0, order.InterimTarget)
	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1000), subs[0].Volume)
	assert.Equal(t, 10.05, subs[0].Price)
}

func TestScheduler_PassiveOffset(t *testing.T) {
	params := DefaultParams()
	params.MinOrderValue = 0
	params.PassiveOffset = 0.01
	e := newTestEngine(params)
	e.broker.SetQuote("600000", 10.0, 10.05)
	e.broker.SetPosition("000001", 5000, 20)
	e.broker.SetQuote("000001", 20.0, 20.02)

	orders := []*ReconciledOrder{
		sellOrder("000001", 5000, 1000, 20),
		buyOrder("600000", 0, 1000, 10),
	}
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, orders))

	subs := e.broker.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, 20.01, subs[0].Price, "sells rest above the bid")
	assert.Equal(t, 10.04, subs[1].Price, "buys rest below the ask")
}

func TestScheduler_LiquidationIgnoresNotionalFloor(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetPosition("600000", 2000, 1)
	e.broker.SetQuote("600000", 1.0, 1.01)

	order := sellOrder("600000", 2000, 0, 1)
	require.Less(t, order.Notional(), DefaultIgnoreOrderValue)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, domain.DirectionSell, subs[0].Direction)
	assert.Positive(t, subs[0].Volume)
	assert.Zero(t, subs[0].Volume%100)
}

func TestScheduler_SkipsBelowNotional(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetQuote("600000", 10.0, 10.05)

	order := buyOrder("600000", 0, 500, 10)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	assert.Empty(t, e.broker.Submissions())
	assert.Empty(t, e.broker.Cancellations())
	assert.Equal(t, []SkipReason{SkipBelowNotional}, e.observer.skipReasons("600000"))
	assert.Equal(t, 1, order.Skipped)
}

func TestScheduler_SellsBeforeBuys(t *testing.T) {
	params := DefaultParams()
	params.MinOrderValue = 0
	e := newTestEngine(params)
	e.broker.SetPosition("600519", 1000, 100)
	e.broker.SetQuote("600519", 100, 100.1)
	e.broker.SetQuote("000001", 10, 10.01)

	positions, err := e.broker.GetPositions(context.Background())
	require.NoError(t, err)
	orders, err := Reconcile(positions, []TargetInstruction{
		{Code: "000001", FinalPosition: 5000, ReferencePrice: 10, Mode: ModeTWAP},
		{Code: "600519", FinalPosition: 0, ReferencePrice: 100, Mode: ModeTWAP},
	}, testLogger())
	require.NoError(t, err)

	require.NoError(t, e.scheduler.Tick(context.Background(), 1, orders))

	subs := e.broker.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, "600519", subs[0].Code)
	assert.Equal(t, domain.DirectionSell, subs[0].Direction)
	assert.Equal(t, "000001", subs[1].Code)
}

func TestScheduler_CancelsStaleOrdersEachTick(t *testing.T) {
	params := DefaultParams()
	params.MinOrderValue = 0
	e := newTestEngine(params)
	e.broker.SetQuote("600000", 10.0, 10.05)
	ctx := context.Background()

	order := buyOrder("600000", 0, 2000, 10)
	require.NoError(t, e.scheduler.Tick(ctx, 0.25, []*ReconciledOrder{order}))
	require.NoError(t, e.scheduler.Tick(ctx, 0.5, []*ReconciledOrder{order}))

	cancels := e.broker.Cancellations()
	require.Len(t, cancels, 2)
	assert.Equal(t, paper.Cancellation{Code: "600000", Direction: domain.DirectionBuy, Removed: 0}, cancels[0])
	assert.Equal(t, 1, cancels[1].Removed)

	open, err := e.broker.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "orders do not accumulate across ticks")
	assert.Equal(t, int64(1000), open[0].Volume, "volume re-derived from scratch")
}

func TestScheduler_AdapterFailureDoesNotAbort(t *testing.T) {
	params := DefaultParams()
	params.MinOrderValue = 0
	e := newTestEngine(params)
	e.broker.SetQuote("600000", 10.0, 10.05)
	e.broker.SetQuote("000001", 10.0, 10.05)
	e.broker.SetError(paper.OpSubmit, errors.New("order window closed"))
	e.broker.SetError(paper.OpCancel, errors.New("nothing to cancel"))

	orders := []*ReconciledOrder{buyOrder("000001", 0, 2000, 10), buyOrder("600000", 0, 2000, 10)}
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, orders))

	require.Len(t, e.observer.submissions, 2)
	for _, sub := range e.observer.submissions {
		assert.False(t, sub.Succeeded())
		assert.ErrorIs(t, sub.Err, domain.ErrAdapterFailure)
	}
	assert.Equal(t, 1, orders[0].Failed)
	assert.Equal(t, 1, orders[1].Failed)
}

func TestScheduler_DataUnavailableSkips(t *testing.T) {
	e := newTestEngine(DefaultParams())
	// the sizer cannot read the live holding
	e.broker.SetError(paper.OpGetPositions, errors.New("positions grid not loaded"))
	e.broker.SetQuote("600000", 10.0, 10.05)

	order := buyOrder("600000", 0, 5000, 10)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	assert.Empty(t, e.broker.Submissions())
	assert.Equal(t, []SkipReason{SkipDataUnavailable}, e.observer.skipReasons("600000"))
}

func TestScheduler_ResolvesMissingReferenceFromBook(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetQuote("600000", 25.0, 25.1)

	order := buyOrder("600000", 0, 2000, 0)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	assert.Equal(t, 25.1, order.ReferencePrice)
	assert.Len(t, e.broker.Submissions(), 1)
}

func TestScheduler_NoPriceAnywhereSkips(t *testing.T) {
	e := newTestEngine(DefaultParams())

	order := buyOrder("600000", 0, 2000, 0)
	require.NoError(t, e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order}))

	assert.Empty(t, e.broker.Submissions())
	assert.Equal(t, []SkipReason{SkipNoPrice}, e.observer.skipReasons("600000"))
}

func TestScheduler_UnsupportedModeIsValidationError(t *testing.T) {
	e := newTestEngine(DefaultParams())
	order := buyOrder("600000", 0, 2000, 10)
	order.Mode = "vwap"

	err := e.scheduler.Tick(context.Background(), 0.5, []*ReconciledOrder{order})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestScheduler_RunTicksUntilDeadline(t *testing.T) {
	e := newTestEngine(DefaultParams())
	window := ExecutionWindow{Start: testStart, End: testStart.Add(100 * time.Second), Interval: 10 * time.Second}

	// below the notional floor: no cancels, so only the tick sleep moves the clock
	order := buyOrder("600000", 0, 500, 10)
	ticks, err := e.scheduler.Run(context.Background(), window, []*ReconciledOrder{order})
	require.NoError(t, err)

	assert.Equal(t, 10, ticks)
	require.Len(t, e.observer.ticks, 10)
	for i, fraction := range e.observer.ticks {
		assert.InDelta(t, float64(i)/10, fraction, 1e-9)
	}
	assert.False(t, e.clock.Now().Before(window.End))
	assert.Equal(t, []Phase{PhaseRunning}, e.observer.phases)
}

func TestScheduler_RunStopsOnCancelledContext(t *testing.T) {
	e := newTestEngine(DefaultParams())
	window := ExecutionWindow{Start: testStart, End: testStart.Add(100 * time.Second), Interval: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.scheduler.Run(ctx, window, []*ReconciledOrder{buyOrder("600000", 0, 5000, 10)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.broker.Submissions())
}
