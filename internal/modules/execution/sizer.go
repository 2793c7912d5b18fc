package execution

import (
	"context"
	"math"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// SizeRequest describes one sizing decision
type SizeRequest struct {
	Code           string
	ReferencePrice float64
	Direction      domain.Direction
	// Target is the position the order should move the holding toward
	Target float64
	// Limit is an optional hard position bound: buys never exceed it and
	// sells never go below it
	Limit *float64
	// BookLevel selects the contra price level, 1 being the top
	BookLevel int
}

// Sizing is the admissible (volume, price) pair. The zero value means skip.
type Sizing struct {
	Volume int64
	Price  float64
}

// IsZero reports whether the sizing yields no order
func (s Sizing) IsZero() bool {
	return s.Volume <= 0 || !domain.IsQuoted(s.Price)
}

// Sizer turns a target position into a lot-aligned order
type Sizer struct {
	adapter domain.BrokerAdapter
	books   *BookReader
	params  Params
	log     zerolog.Logger
}

// NewSizer creates a sizer
func NewSizer(adapter domain.BrokerAdapter, books *BookReader, params Params, log zerolog.Logger) *Sizer {
	return &Sizer{
		adapter: adapter,
		books:   books,
		params:  params,
		log:     log.With().Str("component", "sizer").Logger(),
	}
}

// Size computes the order for req against the live holding and book.
// A zero Sizing with a nil error means there is nothing to trade this tick.
func (s *Sizer) Size(ctx context.Context, req SizeRequest) (Sizing, error) {
	positions, err := s.adapter.GetPositions(ctx)
	if err != nil {
		return Sizing{}, domain.WrapAdapterFailure("get positions", err)
	}
	holding := liveHolding(positions, req.Code)

	gap := req.Target - holding
	if req.Direction == domain.DirectionBuy && gap <= quantityEpsilon {
		return Sizing{}, nil
	}
	if req.Direction == domain.DirectionSell && gap >= -quantityEpsilon {
		return Sizing{}, nil
	}

	lot := s.params.LotSize
	var lotGap int64
	if req.Direction == domain.DirectionBuy {
		lotGap = ceilToLot(gap, lot)
	} else {
		lotGap = floorToLot(-gap, lot)
	}

	price, err := s.price(ctx, req)
	if err != nil {
		return Sizing{}, err
	}

	minVolume := s.minVolume(req.Direction, price)

	var limitVolume *int64
	if req.Limit != nil {
		room := *req.Limit - holding
		if req.Direction == domain.DirectionSell {
			room = -room
		}
		if room <= quantityEpsilon {
			return Sizing{}, nil
		}
		v := int64(math.Floor(room + quantityEpsilon))
		limitVolume = &v
	}

	volume := SelectVolume(lotGap, minVolume, limitVolume)
	if limitVolume != nil && volume > *limitVolume {
		volume = *limitVolume
	}
	volume = volume / lot * lot
	if volume <= 0 {
		return Sizing{}, nil
	}

	s.log.Debug().
		Str("code", req.Code).
		Str("direction", string(req.Direction)).
		Float64("holding", holding).
		Float64("target", req.Target).
		Int64("lot_gap", lotGap).
		Int64("min_volume", minVolume).
		Int64("volume", volume).
		Float64("price", price).
		Msg("Order sized")

	return Sizing{Volume: volume, Price: price}, nil
}

// price reads the contra price at the requested level and falls back to the
// reference price when the book has no quote there
func (s *Sizer) price(ctx context.Context, req SizeRequest) (float64, error) {
	level := req.BookLevel
	if level < 1 {
		level = 1
	}

	book, err := s.books.Fetch(ctx, req.Code)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		s.log.Debug().Err(err).Str("code", req.Code).Msg("Book incomplete, trying reference price")
	}

	price := book.ContraPrice(req.Direction, level)
	if domain.IsQuoted(price) {
		return price, nil
	}
	if domain.IsQuoted(req.ReferencePrice) {
		return req.ReferencePrice, nil
	}
	return 0, domain.NewDataUnavailableError("no usable price for %s at level %d", req.Code, level)
}

// minVolume is the smallest volume whose notional reaches the minimum order value
func (s *Sizer) minVolume(direction domain.Direction, price float64) int64 {
	if s.params.MinOrderValue <= 0 {
		return 0
	}
	raw := s.params.MinOrderValue / price
	if direction == domain.DirectionBuy {
		return ceilToLot(raw, s.params.LotSize)
	}
	return int64(math.Ceil(raw - quantityEpsilon))
}

// SelectVolume picks the order volume from the lot-rounded gap, the minimum
// tradable volume and an optional limit:
//   - no limit: the lot gap
//   - limit below the minimum: the limit
//   - lot gap below the minimum: the minimum
//   - otherwise the lot gap
func SelectVolume(lotGap, minVolume int64, limit *int64) int64 {
	switch {
	case limit == nil:
		return lotGap
	case *limit < minVolume:
		return *limit
	case lotGap < minVolume:
		return minVolume
	default:
		return lotGap
	}
}

func ceilToLot(quantity float64, lot int64) int64 {
	if quantity <= 0 {
		return 0
	}
	lots := math.Ceil(quantity/float64(lot) - quantityEpsilon)
	return int64(lots) * lot
}

func floorToLot(quantity float64, lot int64) int64 {
	if quantity <= 0 {
		return 0
	}
	lots := math.Floor(quantity/float64(lot) + quantityEpsilon)
	return int64(lots) * lot
}
