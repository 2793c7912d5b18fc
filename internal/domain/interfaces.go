package domain

import "context"

// BrokerAdapter defines the semantic operations the execution engine needs
// from a brokerage session. Implementations own the session exclusively;
// callers must not issue concurrent calls against the same adapter.
type BrokerAdapter interface {
	// GetPositions returns current holdings keyed by instrument code
	GetPositions(ctx context.Context) (map[string]Position, error)

	// GetOrderBook returns the five-level book for code.
	// Levels without a quote carry NaN prices.
	GetOrderBook(ctx context.Context, code string) (*OrderBookSnapshot, error)

	// SubmitBuy places a limit buy order. A nil error means the order was sent.
	SubmitBuy(ctx context.Context, code string, price float64, volume int64) error

	// SubmitSell places a limit sell order. A nil error means the order was sent.
	SubmitSell(ctx context.Context, code string, price float64, volume int64) error

	// Cancel withdraws resting orders for code on the given side
	Cancel(ctx context.Context, code string, direction Direction) error

	// GetBalance returns the account summary
	GetBalance(ctx context.Context) (*AccountBalance, error)

	// GetOpenOrders lists resting orders in broker order
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)

	// OpenOrderEntry switches the session to its order-entry view
	OpenOrderEntry(ctx context.Context) error
}
