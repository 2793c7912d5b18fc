package execution

import (
	"context"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds how often a flaky read is repeated
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is three attempts 300ms apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 300 * time.Millisecond}
}

// BookReader fetches order books, retrying while the top of book is missing
type BookReader struct {
	adapter  domain.BrokerAdapter
	policy   RetryPolicy
	clock    Clock
	observer Observer
	log      zerolog.Logger
}

// NewBookReader creates a book reader
func NewBookReader(adapter domain.BrokerAdapter, policy RetryPolicy, clock Clock, observer Observer, log zerolog.Logger) *BookReader {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &BookReader{
		adapter:  adapter,
		policy:   policy,
		clock:    clock,
		observer: observer,
		log:      log.With().Str("component", "book_reader").Logger(),
	}
}

// Fetch returns the book for code. When the best bid or ask is still missing
// after the retry budget, the last snapshot is returned together with an
// ErrDataUnavailable error so callers may fall back to a reference price.
func (r *BookReader) Fetch(ctx context.Context, code string) (*domain.OrderBookSnapshot, error) {
	var (
		book    *domain.OrderBookSnapshot
		lastErr error
	)

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.observer.BookRetried(code, attempt)
			if err := r.clock.Sleep(ctx, r.policy.Delay); err != nil {
				return book, err
			}
		}

		snapshot, err := r.adapter.GetOrderBook(ctx, code)
		if err != nil {
			lastErr = domain.WrapAdapterFailure("get order book", err)
			r.log.Debug().Err(err).Str("code", code).Int("attempt", attempt).Msg("Order book read failed")
			continue
		}
		if snapshot == nil {
			snapshot = domain.EmptyOrderBook(code)
		}
		book = snapshot
		if book.HasTopOfBook() {
			return book, nil
		}
		lastErr = nil
		r.log.Debug().Str("code", code).Int("attempt", attempt).Msg("Top of book missing")
	}

	if book == nil {
		book = domain.EmptyOrderBook(code)
	}
	if lastErr != nil {
		return book, domain.NewDataUnavailableError("order book for %s after %d attempts: %v", code, r.policy.MaxAttempts, lastErr)
	}
	return book, domain.NewDataUnavailableError("top of book for %s missing after %d attempts", code, r.policy.MaxAttempts)
}
