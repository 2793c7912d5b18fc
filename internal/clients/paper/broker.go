// Package paper provides an in-memory broker for dry runs and tests.
//
// Orders never leave the process. Submitted orders either rest in the open
// order list until cancelled or, with immediate fills enabled, update the
// holding and cash balance at the submitted price.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Operation names accepted by SetError
const (
	OpGetPositions   = "get_positions"
	OpGetOrderBook   = "get_order_book"
	OpSubmit         = "submit"
	OpCancel         = "cancel"
	OpGetBalance     = "get_balance"
	OpGetOpenOrders  = "get_open_orders"
	OpOpenOrderEntry = "open_order_entry"
)

// Cancellation records one Cancel call
type Cancellation struct {
	Code      string
	Direction domain.Direction
	Removed   int
}

// Broker is a thread-safe in-memory implementation of domain.BrokerAdapter
type Broker struct {
	mu sync.Mutex

	positions  map[string]domain.Position
	books      map[string]*domain.OrderBookSnapshot
	bookMisses map[string]int
	errs       map[string]error
	cash       float64
	currency   string

	fillImmediate bool
	open          []domain.OpenOrder
	submissions   []domain.OpenOrder
	cancels       []Cancellation
	entryOpened   int

	log zerolog.Logger
}

// NewBroker creates an empty paper broker holding cash
func NewBroker(cash float64, log zerolog.Logger) *Broker {
	return &Broker{
		positions:  make(map[string]domain.Position),
		books:      make(map[string]*domain.OrderBookSnapshot),
		bookMisses: make(map[string]int),
		errs:       make(map[string]error),
		cash:       cash,
		currency:   "CNY",
		log:        log.With().Str("component", "paper_broker").Logger(),
	}
}

// SetFillImmediate makes every accepted order fill in full at its limit price
func (b *Broker) SetFillImmediate(fill bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillImmediate = fill
}

// SetPosition sets the holding for code. The whole holding is sellable.
func (b *Broker) SetPosition(code string, holding, marketPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[code] = domain.Position{
		Code:        code,
		Holding:     holding,
		Sellable:    holding,
		CostPrice:   marketPrice,
		MarketPrice: marketPrice,
	}
}

// SetBook stores the book returned for book.Code
func (b *Broker) SetBook(book *domain.OrderBookSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *book
	b.books[book.Code] = &copied
}

// SetQuote stores a book with a single level per side
func (b *Broker) SetQuote(code string, bid, ask float64) {
	book := domain.EmptyOrderBook(code)
	book.Bids[0] = domain.PriceLevel{Price: bid, Volume: 10000}
	book.Asks[0] = domain.PriceLevel{Price: ask, Volume: 10000}
	b.SetBook(book)
}

// SetBookMisses makes the next n book reads for code return an empty book
func (b *Broker) SetBookMisses(code string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bookMisses[code] = n
}

// SetError makes operation op fail with err until cleared with a nil err
func (b *Broker) SetError(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, op)
		return
	}
	b.errs[op] = err
}

// Submissions returns every accepted order in submission order
func (b *Broker) Submissions() []domain.OpenOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.OpenOrder, len(b.submissions))
	copy(out, b.submissions)
	return out
}

// Cancellations returns every Cancel call in call order
func (b *Broker) Cancellations() []Cancellation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Cancellation, len(b.cancels))
	copy(out, b.cancels)
	return out
}

// OrderEntryOpened returns how often OpenOrderEntry was called
func (b *Broker) OrderEntryOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entryOpened
}

// GetPositions implements domain.BrokerAdapter
func (b *Broker) GetPositions(ctx context.Context) (map[string]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpGetPositions]; err != nil {
		return nil, err
	}
	out := make(map[string]domain.Position, len(b.positions))
	for code, pos := range b.positions {
		if pos.Holding == 0 {
			continue
		}
		out[code] = pos
	}
	return out, nil
}

// GetOrderBook implements domain.BrokerAdapter
func (b *Broker) GetOrderBook(ctx context.Context, code string) (*domain.OrderBookSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpGetOrderBook]; err != nil {
		return nil, err
	}
	if n := b.bookMisses[code]; n > 0 {
		b.bookMisses[code] = n - 1
		return domain.EmptyOrderBook(code), nil
	}
	book, ok := b.books[code]
	if !ok {
		return domain.EmptyOrderBook(code), nil
	}
	copied := *book
	return &copied, nil
}

// SubmitBuy implements domain.BrokerAdapter
func (b *Broker) SubmitBuy(ctx context.Context, code string, price float64, volume int64) error {
	return b.submit(code, domain.DirectionBuy, price, volume)
}

// SubmitSell implements domain.BrokerAdapter
func (b *Broker) SubmitSell(ctx context.Context, code string, price float64, volume int64) error {
	return b.submit(code, domain.DirectionSell, price, volume)
}

func (b *Broker) submit(code string, direction domain.Direction, price float64, volume int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpSubmit]; err != nil {
		return err
	}
	if volume <= 0 || !domain.IsQuoted(price) {
		return fmt.Errorf("invalid order %s %d @ %.3f", code, volume, price)
	}
	held := b.positions[b.positionKey(code)]
	if direction == domain.DirectionSell && float64(volume) > held.Sellable {
		return fmt.Errorf("insufficient sellable quantity for %s: have %.0f, want %d",
			code, held.Sellable, volume)
	}

	order := domain.OpenOrder{
		OrderID:     uuid.New().String(),
		Code:        code,
		Direction:   direction,
		Price:       price,
		Volume:      volume,
		Status:      "submitted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if b.fillImmediate {
		b.fill(code, direction, price, volume)
		order.Filled = volume
		order.Status = "filled"
	} else {
		b.open = append(b.open, order)
	}
	b.submissions = append(b.submissions, order)

	b.log.Debug().
		Str("order_id", order.OrderID).
		Str("code", code).
		Str("direction", string(direction)).
		Float64("price", price).
		Int64("volume", volume).
		Str("status", order.Status).
		Msg("Paper order accepted")
	return nil
}

// fill applies an execution to the holding and cash balance. Caller holds mu.
func (b *Broker) fill(code string, direction domain.Direction, price float64, volume int64) {
	key := b.positionKey(code)
	pos := b.positions[key]
	pos.Code = key
	qty := float64(volume)
	if direction == domain.DirectionBuy {
		if pos.Holding+qty > 0 {
			pos.CostPrice = (pos.CostPrice*pos.Holding + price*qty) / (pos.Holding + qty)
		}
		pos.Holding += qty
		pos.Sellable += qty
		b.cash -= price * qty
	} else {
		pos.Holding -= qty
		pos.Sellable -= qty
		b.cash += price * qty
	}
	pos.MarketPrice = price
	pos.UnrealizedProfit = (pos.MarketPrice - pos.CostPrice) * pos.Holding
	b.positions[key] = pos
}

// positionKey finds the stored holding an order code refers to. Positions may
// be seeded with unpadded codes, as the client's export reports them.
// Caller holds mu.
func (b *Broker) positionKey(code string) string {
	if _, ok := b.positions[code]; ok {
		return code
	}
	want := domain.NormalizeCode(code)
	for key := range b.positions {
		if domain.NormalizeCode(key) == want {
			return key
		}
	}
	return code
}

// Cancel implements domain.BrokerAdapter
func (b *Broker) Cancel(ctx context.Context, code string, direction domain.Direction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpCancel]; err != nil {
		return err
	}

	kept := b.open[:0]
	removed := 0
	for _, o := range b.open {
		if o.Code == code && o.Direction == direction {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	b.open = kept
	b.cancels = append(b.cancels, Cancellation{Code: code, Direction: direction, Removed: removed})
	return nil
}

// GetBalance implements domain.BrokerAdapter
func (b *Broker) GetBalance(ctx context.Context) (*domain.AccountBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpGetBalance]; err != nil {
		return nil, err
	}

	var frozen float64
	for _, o := range b.open {
		if o.Direction == domain.DirectionBuy {
			frozen += o.Price * float64(o.Volume-o.Filled)
		}
	}
	var marketValue float64
	for _, pos := range b.positions {
		marketValue += pos.Holding * pos.MarketPrice
	}

	return &domain.AccountBalance{
		Currency:    b.currency,
		Available:   b.cash - frozen,
		Frozen:      frozen,
		MarketValue: marketValue,
		TotalAssets: b.cash + marketValue,
	}, nil
}

// GetOpenOrders implements domain.BrokerAdapter
func (b *Broker) GetOpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpGetOpenOrders]; err != nil {
		return nil, err
	}
	out := make([]domain.OpenOrder, len(b.open))
	copy(out, b.open)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SubmittedAt < out[j].SubmittedAt
	})
	return out, nil
}

// OpenOrderEntry implements domain.BrokerAdapter
func (b *Broker) OpenOrderEntry(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[OpOpenOrderEntry]; err != nil {
		return err
	}
	b.entryOpened++
	return nil
}

var _ domain.BrokerAdapter = (*Broker)(nil)
