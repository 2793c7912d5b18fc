package execution

import (
	"context"
	"math"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// orderDesk holds the order-path steps shared by the scheduler and the closer
type orderDesk struct {
	adapter  domain.BrokerAdapter
	books    *BookReader
	params   Params
	clock    Clock
	observer Observer
	log      zerolog.Logger
}

// belowNotional reports whether the order gap is too small to trade.
// Full liquidations are never suppressed.
func (d *orderDesk) belowNotional(order *ReconciledOrder) bool {
	if order.IsLiquidation() {
		return false
	}
	return order.Notional() < d.params.IgnoreOrderValue
}

// ensureReference fills a missing reference price from the live book.
// It returns false when no price could be found.
func (d *orderDesk) ensureReference(ctx context.Context, order *ReconciledOrder) bool {
	if domain.IsQuoted(order.ReferencePrice) {
		return true
	}
	book, err := d.books.Fetch(ctx, order.Code)
	if err != nil {
		d.log.Debug().Err(err).Str("code", order.Code).Msg("Book incomplete while resolving reference price")
	}
	price := book.ContraPrice(order.Direction, 1)
	if !domain.IsQuoted(price) {
		return false
	}
	d.log.Info().Str("code", order.Code).Float64("price", price).Msg("Reference price taken from order book")
	order.ReferencePrice = price
	return true
}

// cancelStale withdraws resting orders for code on one side and waits for
// the session to settle. A failed cancel is logged and does not stop the order path.
func (d *orderDesk) cancelStale(ctx context.Context, code string, direction domain.Direction) error {
	if err := d.adapter.Cancel(ctx, code, direction); err != nil {
		d.log.Warn().
			Err(domain.WrapAdapterFailure("cancel", err)).
			Str("code", code).
			Str("direction", string(direction)).
			Msg("Failed to cancel resting orders")
	}
	return d.clock.Sleep(ctx, d.params.SettleDelay)
}

// passivePrice moves price away from the contra side by the configured offset
func (d *orderDesk) passivePrice(direction domain.Direction, price float64) float64 {
	if d.params.PassiveOffset == 0 {
		return price
	}
	if direction == domain.DirectionBuy {
		return price - d.params.PassiveOffset
	}
	return price + d.params.PassiveOffset
}

// submit sends the sized order and reports the attempt. Adapter errors are
// recorded as failed submissions, never returned.
func (d *orderDesk) submit(ctx context.Context, stage Stage, order *ReconciledOrder, direction domain.Direction, sizing Sizing) {
	code := order.Code
	price := roundPrice(d.passivePrice(direction, sizing.Price))
	sub := Submission{
		Code:      code,
		Direction: direction,
		Stage:     stage,
		Price:     price,
		Volume:    sizing.Volume,
	}

	if !domain.IsQuoted(price) {
		d.skip(stage, order, direction, SkipNoPrice, "price not positive after passive offset")
		return
	}

	var err error
	if direction == domain.DirectionBuy {
		err = d.adapter.SubmitBuy(ctx, code, price, sizing.Volume)
	} else {
		err = d.adapter.SubmitSell(ctx, code, price, sizing.Volume)
	}
	sub.At = d.clock.Now()

	if err != nil {
		sub.Err = domain.WrapAdapterFailure("submit "+string(direction), err)
		d.log.Error().
			Err(sub.Err).
			Str("code", code).
			Str("stage", string(stage)).
			Float64("price", price).
			Int64("volume", sizing.Volume).
			Msg("Order submission failed")
		order.Failed++
	} else {
		d.log.Info().
			Str("code", code).
			Str("direction", string(direction)).
			Str("stage", string(stage)).
			Float64("price", price).
			Int64("volume", sizing.Volume).
			Msg("Order submitted")
		order.Submitted++
	}

	d.observer.OrderSubmitted(sub)
}

func (d *orderDesk) skip(stage Stage, order *ReconciledOrder, direction domain.Direction, reason SkipReason, detail string) {
	code := order.Code
	order.Skipped++
	d.log.Info().
		Str("code", code).
		Str("direction", string(direction)).
		Str("stage", string(stage)).
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Order skipped")
	d.observer.OrderSkipped(Skip{
		Code:      code,
		Direction: direction,
		Stage:     stage,
		Reason:    reason,
		Detail:    detail,
		At:        d.clock.Now(),
	})
}

// roundPrice rounds to the exchange tick of 0.001
func roundPrice(price float64) float64 {
	return math.Round(price*1000) / 1000
}
