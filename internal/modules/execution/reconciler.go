package execution

import (
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Reconcile merges current positions with target instructions into one order
// per instrument present on either side. Held instruments without a target
// are closed out (target 0); targets without a holding start from zero.
//
// The direction is buy iff the initial position is below the final one.
// A zero reference price is replaced by the live market price when known.
func Reconcile(positions map[string]domain.Position, targets []TargetInstruction, log zerolog.Logger) ([]*ReconciledOrder, error) {
	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}

	held := domain.NormalizePositions(positions)

	byCode := make(map[string]*ReconciledOrder, len(held)+len(targets))
	for code, pos := range held {
		byCode[code] = &ReconciledOrder{
			Code:            code,
			InitialPosition: pos.Holding,
			Mode:            ModeTWAP,
		}
	}

	for _, t := range targets {
		code := NormalizeCode(t.Code)
		order, ok := byCode[code]
		if !ok {
			order = &ReconciledOrder{Code: code}
			byCode[code] = order
		}
		order.FinalPosition = t.FinalPosition
		order.ReferencePrice = t.ReferencePrice
		order.Mode = normalizeMode(string(t.Mode))
	}

	orders := make([]*ReconciledOrder, 0, len(byCode))
	for code, order := range byCode {
		if order.ReferencePrice == 0 {
			if pos, ok := held[code]; ok && domain.IsQuoted(pos.MarketPrice) {
				log.Info().
					Str("code", code).
					Float64("market_price", pos.MarketPrice).
					Msg("Reference price missing, using market price")
				order.ReferencePrice = pos.MarketPrice
			}
		}
		order.Direction = deriveDirection(order.InitialPosition, order.FinalPosition)
		order.InterimTarget = order.InitialPosition
		orders = append(orders, order)
	}

	SortForExecution(orders)
	return orders, nil
}

// SortForExecution orders sells before buys so that sale proceeds and freed
// positions are available before buying capacity is consumed. Ties are
// broken by instrument code for a stable tick order.
func SortForExecution(orders []*ReconciledOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Direction != orders[j].Direction {
			return orders[i].Direction == domain.DirectionSell
		}
		return orders[i].Code < orders[j].Code
	})
}

// liveHolding returns the holding of code in a raw adapter snapshot, matching
// keys the same way Reconcile does
func liveHolding(positions map[string]domain.Position, code string) float64 {
	if pos, ok := positions[code]; ok {
		return pos.Holding
	}
	return domain.NormalizePositions(positions)[NormalizeCode(code)].Holding
}

func deriveDirection(initial, final float64) domain.Direction {
	if initial < final {
		return domain.DirectionBuy
	}
	return domain.DirectionSell
}
