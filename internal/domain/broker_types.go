package domain

import (
	"math"
	"strings"
)

// Broker-agnostic types for order execution.
// These types abstract away the automation layer that actually drives the
// brokerage client (window handles, clipboard exports, captcha, login).

// BookDepth is the number of price levels reported per side
const BookDepth = 5

// Direction is the trade direction of an order
type Direction string

const (
	// DirectionBuy increases the holding
	DirectionBuy Direction = "buy"
	// DirectionSell decreases the holding
	DirectionSell Direction = "sell"
)

// DirectionFromString parses a direction, accepting either case
func DirectionFromString(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return DirectionBuy, nil
	case "sell":
		return DirectionSell, nil
	}
	return "", NewValidationError("invalid direction %q (must be buy or sell)", s)
}

// IsValid reports whether d is buy or sell
func (d Direction) IsValid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// NormalizeCode trims the code and left-pads purely numeric codes to six
// digits, the exchange convention for listed equities. Position exports of
// the trading client drop leading zeros ("1" for "000001").
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || len(code) >= 6 {
		return code
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return code
		}
	}
	return strings.Repeat("0", 6-len(code)) + code
}

// NormalizePositions re-keys a position map by normalized code. The map key
// wins over Position.Code; entries with neither are dropped.
func NormalizePositions(positions map[string]Position) map[string]Position {
	out := make(map[string]Position, len(positions))
	for code, pos := range positions {
		key := NormalizeCode(code)
		if key == "" {
			key = NormalizeCode(pos.Code)
		}
		if key == "" {
			continue
		}
		out[key] = pos
	}
	return out
}

// Position is a holding snapshot reported by the broker
type Position struct {
	Code             string  `json:"code" msgpack:"code"`
	Holding          float64 `json:"holding" msgpack:"holding"`
	Sellable         float64 `json:"sellable" msgpack:"sellable"`
	CostPrice        float64 `json:"cost_price" msgpack:"cost_price"`
	MarketPrice      float64 `json:"market_price" msgpack:"market_price"`
	UnrealizedProfit float64 `json:"unrealized_profit" msgpack:"unrealized_profit"`
}

// PriceLevel is a single (price, volume) pair of the book.
// Price and Volume are NaN when the broker has no quote at that level.
type PriceLevel struct {
	Price  float64 `json:"price" msgpack:"price"`
	Volume float64 `json:"volume" msgpack:"volume"`
}

// OrderBookSnapshot holds five bid and five ask levels, best first
type OrderBookSnapshot struct {
	Code string                `json:"code" msgpack:"code"`
	Bids [BookDepth]PriceLevel `json:"bids" msgpack:"bids"`
	Asks [BookDepth]PriceLevel `json:"asks" msgpack:"asks"`
}

// EmptyOrderBook returns a snapshot where every level is missing
func EmptyOrderBook(code string) *OrderBookSnapshot {
	book := &OrderBookSnapshot{Code: code}
	for i := 0; i < BookDepth; i++ {
		book.Bids[i] = PriceLevel{Price: math.NaN(), Volume: math.NaN()}
		book.Asks[i] = PriceLevel{Price: math.NaN(), Volume: math.NaN()}
	}
	return book
}

// BidPrice returns the bid price at level (1 = best). Out of range levels are NaN.
func (b *OrderBookSnapshot) BidPrice(level int) float64 {
	if b == nil || level < 1 || level > BookDepth {
		return math.NaN()
	}
	return b.Bids[level-1].Price
}

// AskPrice returns the ask price at level (1 = best). Out of range levels are NaN.
func (b *OrderBookSnapshot) AskPrice(level int) float64 {
	if b == nil || level < 1 || level > BookDepth {
		return math.NaN()
	}
	return b.Asks[level-1].Price
}

// ContraPrice returns the price an order in direction d trades against:
// the ask for buys and the bid for sells.
func (b *OrderBookSnapshot) ContraPrice(d Direction, level int) float64 {
	if d == DirectionBuy {
		return b.AskPrice(level)
	}
	return b.BidPrice(level)
}

// HasTopOfBook reports whether both best bid and best ask are quoted
func (b *OrderBookSnapshot) HasTopOfBook() bool {
	return IsQuoted(b.BidPrice(1)) && IsQuoted(b.AskPrice(1))
}

// IsQuoted reports whether a price is usable (not NaN, not zero)
func IsQuoted(price float64) bool {
	return !math.IsNaN(price) && !math.IsInf(price, 0) && price > 0
}

// AccountBalance is the account summary reported by the broker
type AccountBalance struct {
	Currency    string  `json:"currency" msgpack:"currency"`
	Available   float64 `json:"available" msgpack:"available"`
	Frozen      float64 `json:"frozen" msgpack:"frozen"`
	MarketValue float64 `json:"market_value" msgpack:"market_value"`
	TotalAssets float64 `json:"total_assets" msgpack:"total_assets"`
}

// OpenOrder is a resting order as listed by the broker
type OpenOrder struct {
	OrderID     string    `json:"order_id" msgpack:"order_id"`
	Code        string    `json:"code" msgpack:"code"`
	Direction   Direction `json:"direction" msgpack:"direction"`
	Price       float64   `json:"price" msgpack:"price"`
	Volume      int64     `json:"volume" msgpack:"volume"`
	Filled      int64     `json:"filled" msgpack:"filled"`
	Status      string    `json:"status" msgpack:"status"`
	SubmittedAt string    `json:"submitted_at" msgpack:"submitted_at"`
}
