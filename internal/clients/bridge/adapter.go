package bridge

import (
	"context"
	"math"
	"strconv"

	"github.com/aristath/rebalancer/internal/domain"
)

// RPC method names exposed by the bridge
const (
	MethodGetPositions   = "get_positions"
	MethodGetOrderBook   = "get_order_book"
	MethodSubmitBuy      = "submit_buy"
	MethodSubmitSell     = "submit_sell"
	MethodCancel         = "cancel"
	MethodGetBalance     = "get_balance"
	MethodGetOpenOrders  = "get_open_orders"
	MethodOpenOrderEntry = "open_order_entry"
)

// levelWire is a book level; the bridge sends nil for unquoted levels
type levelWire struct {
	Price  *float64 `msgpack:"price"`
	Volume *float64 `msgpack:"volume"`
}

type bookWire struct {
	Code string      `msgpack:"code"`
	Bids []levelWire `msgpack:"bids"`
	Asks []levelWire `msgpack:"asks"`
}

type orderParams struct {
	Code   string `msgpack:"code"`
	Price  string `msgpack:"price"`
	Volume int64  `msgpack:"volume"`
}

type cancelParams struct {
	Code      string `msgpack:"code"`
	Direction string `msgpack:"direction"`
}

type codeParams struct {
	Code string `msgpack:"code"`
}

var _ domain.BrokerAdapter = (*Client)(nil)

// GetPositions implements domain.BrokerAdapter
func (c *Client) GetPositions(ctx context.Context) (map[string]domain.Position, error) {
	var positions []domain.Position
	if err := c.call(ctx, MethodGetPositions, nil, &positions); err != nil {
		return nil, domain.WrapAdapterFailure(MethodGetPositions, err)
	}

	out := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		out[p.Code] = p
	}
	return out, nil
}

// GetOrderBook implements domain.BrokerAdapter
func (c *Client) GetOrderBook(ctx context.Context, code string) (*domain.OrderBookSnapshot, error) {
	var wire bookWire
	if err := c.call(ctx, MethodGetOrderBook, codeParams{Code: code}, &wire); err != nil {
		return nil, domain.WrapAdapterFailure(MethodGetOrderBook, err)
	}

	book := domain.EmptyOrderBook(code)
	fillLevels(book.Bids[:], wire.Bids)
	fillLevels(book.Asks[:], wire.Asks)
	return book, nil
}

func fillLevels(dst []domain.PriceLevel, src []levelWire) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = domain.PriceLevel{Price: valueOrNaN(src[i].Price), Volume: valueOrNaN(src[i].Volume)}
	}
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// SubmitBuy implements domain.BrokerAdapter
func (c *Client) SubmitBuy(ctx context.Context, code string, price float64, volume int64) error {
	params := orderParams{Code: code, Price: FormatPrice(price), Volume: volume}
	return domain.WrapAdapterFailure(MethodSubmitBuy, c.call(ctx, MethodSubmitBuy, params, nil))
}

// SubmitSell implements domain.BrokerAdapter
func (c *Client) SubmitSell(ctx context.Context, code string, price float64, volume int64) error {
	params := orderParams{Code: code, Price: FormatPrice(price), Volume: volume}
	return domain.WrapAdapterFailure(MethodSubmitSell, c.call(ctx, MethodSubmitSell, params, nil))
}

// Cancel implements domain.BrokerAdapter
func (c *Client) Cancel(ctx context.Context, code string, direction domain.Direction) error {
	params := cancelParams{Code: code, Direction: string(direction)}
	return domain.WrapAdapterFailure(MethodCancel, c.call(ctx, MethodCancel, params, nil))
}

// GetBalance implements domain.BrokerAdapter
func (c *Client) GetBalance(ctx context.Context) (*domain.AccountBalance, error) {
	var balance domain.AccountBalance
	if err := c.call(ctx, MethodGetBalance, nil, &balance); err != nil {
		return nil, domain.WrapAdapterFailure(MethodGetBalance, err)
	}
	return &balance, nil
}

// GetOpenOrders implements domain.BrokerAdapter
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	var orders []domain.OpenOrder
	if err := c.call(ctx, MethodGetOpenOrders, nil, &orders); err != nil {
		return nil, domain.WrapAdapterFailure(MethodGetOpenOrders, err)
	}
	// the bridge reports the ticket's own casing
	for i := range orders {
		d, err := domain.DirectionFromString(string(orders[i].Direction))
		if err != nil {
			return nil, domain.WrapAdapterFailure(MethodGetOpenOrders, err)
		}
		orders[i].Direction = d
	}
	return orders, nil
}

// OpenOrderEntry implements domain.BrokerAdapter
func (c *Client) OpenOrderEntry(ctx context.Context) error {
	return domain.WrapAdapterFailure(MethodOpenOrderEntry, c.call(ctx, MethodOpenOrderEntry, nil, nil))
}

// FormatPrice renders a price with the three decimals the order ticket accepts
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 3, 64)
}
