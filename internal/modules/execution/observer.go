package execution

import (
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// Stage identifies which part of a run produced an order decision
type Stage string

const (
	StageTWAP  Stage = "twap"
	StageClose Stage = "close"
)

// SkipReason explains why no order was sent for an instrument
type SkipReason string

const (
	SkipBelowNotional   SkipReason = "below_notional"
	SkipNoVolume        SkipReason = "no_volume"
	SkipNoPrice         SkipReason = "no_price"
	SkipDataUnavailable SkipReason = "data_unavailable"
	SkipAtTarget        SkipReason = "at_target"
)

// Submission records an attempt to send an order to the broker
type Submission struct {
	Code      string
	Direction domain.Direction
	Stage     Stage
	Price     float64
	Volume    int64
	Err       error
	At        time.Time
}

// Succeeded reports whether the adapter accepted the order
func (s Submission) Succeeded() bool {
	return s.Err == nil
}

// Skip records an instrument left untouched for a tick or the closing pass
type Skip struct {
	Code      string
	Direction domain.Direction
	Stage     Stage
	Reason    SkipReason
	Detail    string
	At        time.Time
}

// Observer receives every decision the engine makes.
// Calls happen on the run goroutine and must not block for long.
type Observer interface {
	PhaseChanged(phase Phase)
	OrdersReconciled(orders []*ReconciledOrder)
	TickCompleted(tick int, fraction float64, orders []*ReconciledOrder)
	OrderSubmitted(sub Submission)
	OrderSkipped(skip Skip)
	BookRetried(code string, attempt int)
}

// NopObserver ignores everything
type NopObserver struct{}

func (NopObserver) PhaseChanged(Phase) {}
func (NopObserver) OrdersReconciled([]*ReconciledOrder) {}
func (NopObserver) TickCompleted(int, float64, []*ReconciledOrder) {}
func (NopObserver) OrderSubmitted(Submission) {}
func (NopObserver) OrderSkipped(Skip) {}
func (NopObserver) BookRetried(string, int) {}

// tally counts decisions for the RunResult and forwards them
type tally struct {
	next      Observer
	submitted int
	failed    int
	skipped   int
}

func newTally(next Observer) *tally {
	if next == nil {
		next = NopObserver{}
	}
	return &tally{next: next}
}

func (t *tally) PhaseChanged(phase Phase) { t.next.PhaseChanged(phase) }

func (t *tally) OrdersReconciled(orders []*ReconciledOrder) { t.next.OrdersReconciled(orders) }

func (t *tally) TickCompleted(tick int, fraction float64, orders []*ReconciledOrder) {
	t.next.TickCompleted(tick, fraction, orders)
}

func (t *tally) OrderSubmitted(sub Submission) {
	if sub.Succeeded() {
		t.submitted++
	} else {
		t.failed++
	}
	t.next.OrderSubmitted(sub)
}

func (t *tally) OrderSkipped(skip Skip) {
	t.skipped++
	t.next.OrderSkipped(skip)
}

func (t *tally) BookRetried(code string, attempt int) { t.next.BookRetried(code, attempt) }
