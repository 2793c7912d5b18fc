package execution

import (
	"context"
	"testing"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloser_NoOrderWhenHoldingAtTarget(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetPosition("600000", 1000, 10)
	e.broker.SetQuote("600000", 10.0, 10.05)

	order := buyOrder("600000", 0, 1000, 10)
	require.NoError(t, e.closer.Close(context.Background(), []*ReconciledOrder{order}))

	assert.Empty(t, e.broker.Submissions())
	assert.Equal(t, []SkipReason{SkipAtTarget}, e.observer.skipReasons("600000"))
}

func TestCloser_MatchesUnpaddedHolding(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetPosition("1", 2000, 10)
	e.broker.SetQuote("000001", 10.0, 10.01)

	order := sellOrder("000001", 2000, 0, 10)
	require.NoError(t, e.closer.Close(context.Background(), []*ReconciledOrder{order}))

	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(2000), subs[0].Volume)
	assert.Equal(t, domain.DirectionSell, subs[0].Direction)
	assert.Empty(t, e.observer.skipReasons("000001"))
}

func TestCloser_UsesSecondLevel(t *testing.T) {
	e := newTestEngine(DefaultParams())
	book := domain.EmptyOrderBook("600000")
	book.Bids[0] = domain.PriceLevel{Price: 10.00, Volume: 500}
	book.Bids[1] = domain.PriceLevel{Price: 9.98, Volume: 500}
	book.Asks[0] = domain.PriceLevel{Price: 10.01, Volume: 500}
	book.Asks[1] = domain.PriceLevel{Price: 10.03, Volume: 500}
	e.broker.SetBook(book)
	e.broker.SetPosition("600000", 600, 10)

	order := buyOrder("600000", 0, 3000, 10)
	require.NoError(t, e.closer.Close(context.Background(), []*ReconciledOrder{order}))

	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, 10.03, subs[0].Price)
	assert.Equal(t, int64(2400), subs[0].Volume)
	assert.Equal(t, StageClose, e.observer.submissions[0].Stage)

	cancels := e.broker.Cancellations()
	require.Len(t, cancels, 1)
	assert.Equal(t, domain.DirectionBuy, cancels[0].Direction)
}

func TestCloser_FollowsLiveGapDirection(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetQuote("600000", 10.0, 10.05)
	// planned as a buy, but partial fills overshot the target
	e.broker.SetPosition("600000", 3500, 10)

	order := buyOrder("600000", 0, 3000, 10)
	require.NoError(t, e.closer.Close(context.Background(), []*ReconciledOrder{order}))

	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, domain.DirectionSell, subs[0].Direction)
	assert.Equal(t, int64(500), subs[0].Volume)

	cancels := e.broker.Cancellations()
	require.Len(t, cancels, 1)
	assert.Equal(t, domain.DirectionBuy, cancels[0].Direction, "stale orders rest on the planned side")
}

func TestCloser_SkipsBelowNotional(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetQuote("600000", 10.0, 10.05)

	order := buyOrder("600000", 0, 500, 10)
	require.NoError(t, e.closer.Close(context.Background(), []*ReconciledOrder{order}))

	assert.Empty(t, e.broker.Submissions())
	assert.Empty(t, e.broker.Cancellations())
	assert.Equal(t, []SkipReason{SkipBelowNotional}, e.observer.skipReasons("600000"))
}

func TestCloser_LiquidatesRemainder(t *testing.T) {
	e := newTestEngine(DefaultParams())
	e.broker.SetQuote("600000", 1.0, 1.01)
	e.broker.SetPosition("600000", 700, 1)

	order := sellOrder("600000", 2000, 0, 1)
	require.NoError(t, e.closer.Close(context.Background(), []*ReconciledOrder{order}))

	subs := e.broker.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(700), subs[0].Volume)
	assert.Equal(t, 1.0, subs[0].Price, "second bid level missing, reference price used")
}
