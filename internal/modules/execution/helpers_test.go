package execution

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/clients/paper"
	"github.com/rs/zerolog"
)

var testStart = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

// fakeClock advances only when slept on
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// recordingObserver keeps every callback for assertions
type recordingObserver struct {
	NopObserver
	phases      []Phase
	submissions []Submission
	skips       []Skip
	ticks       []float64
	retries     int
}

func (r *recordingObserver) PhaseChanged(phase Phase) { r.phases = append(r.phases, phase) }

func (r *recordingObserver) OrderSubmitted(sub Submission) { r.submissions = append(r.submissions, sub) }

func (r *recordingObserver) OrderSkipped(skip Skip) { r.skips = append(r.skips, skip) }

func (r *recordingObserver) TickCompleted(_ int, fraction float64, _ []*ReconciledOrder) {
	r.ticks = append(r.ticks, fraction)
}

func (r *recordingObserver) BookRetried(string, int) { r.retries++ }

func (r *recordingObserver) skipReasons(code string) []SkipReason {
	var reasons []SkipReason
	for _, s := range r.skips {
		if s.Code == code {
			reasons = append(reasons, s.Reason)
		}
	}
	return reasons
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newTestBroker() *paper.Broker {
	return paper.NewBroker(10_000_000, testLogger())
}

// engine bundles the per-run components the controller builds
type engine struct {
	broker    *paper.Broker
	clock     *fakeClock
	observer  *recordingObserver
	desk      *orderDesk
	sizer     *Sizer
	scheduler *TWAPScheduler
	closer    *ActiveCloser
}

func newTestEngine(params Params) *engine {
	broker := newTestBroker()
	clock := newFakeClock(testStart)
	obs := &recordingObserver{}
	log := testLogger()

	books := NewBookReader(broker, params.BookRetry, clock, obs, log)
	sizer := NewSizer(broker, books, params, log)
	desk := &orderDesk{
		adapter:  broker,
		books:    books,
		params:   params,
		clock:    clock,
		observer: obs,
		log:      log,
	}
	return &engine{
		broker:    broker,
		clock:     clock,
		observer:  obs,
		desk:      desk,
		sizer:     sizer,
		scheduler: &TWAPScheduler{desk: desk, sizer: sizer, clock: clock, observer: obs, log: log},
		closer:    &ActiveCloser{desk: desk, sizer: sizer, adapter: broker, log: log},
	}
}
