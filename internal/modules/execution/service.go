package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRunInProgress is returned when a run is requested while another is active
var ErrRunInProgress = errors.New("a rebalancing run is already in progress")

// RunRequest is a complete run description as accepted by the API
type RunRequest struct {
	Targets []TargetInstruction `json:"targets"`
	WindowConfig
	// Source tags who started the run: api, cli or schedule
	Source string `json:"-"`
}

// ActiveRun describes the run currently executing
type ActiveRun struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Window    ExecutionWindow `json:"window"`
	StartedAt time.Time       `json:"started_at"`
}

// Service owns the broker session and allows one run at a time.
// Every decision is journaled, published as an event and counted.
type Service struct {
	controller  *Controller
	runs        *ledger.RunRepository
	orders      *ledger.OrderRepository
	submissions *ledger.SubmissionRepository
	events      *events.Manager
	clock       Clock
	log         zerolog.Logger

	mu     sync.Mutex
	active *ActiveRun
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the execution service
func NewService(
	adapter domain.BrokerAdapter,
	params Params,
	clock Clock,
	runs *ledger.RunRepository,
	orders *ledger.OrderRepository,
	submissions *ledger.SubmissionRepository,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	if clock == nil {
		clock = RealClock()
	}
	return &Service{
		controller:  NewController(adapter, params, clock, log),
		runs:        runs,
		orders:      orders,
		submissions: submissions,
		events:      eventManager,
		clock:       clock,
		log:         log.With().Str("service", "execution").Logger(),
	}
}

// Start validates req and launches the run in the background.
// Configuration errors are returned before anything reaches the broker.
func (s *Service) Start(req RunRequest) (string, error) {
	runID, window, err := s.begin(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		_, _ = s.execute(ctx, runID, window, req)
	}()

	return runID, nil
}

// Execute runs req on the calling goroutine and returns its result
func (s *Service) Execute(ctx context.Context, req RunRequest) (string, *RunResult, error) {
	runID, window, err := s.begin(req)
	if err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	result, err := s.execute(ctx, runID, window, req)
	return runID, result, err
}

// Active returns the running run or nil
func (s *Service) Active() *ActiveRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	active := *s.active
	return &active
}

// Wait blocks until background runs have finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels the active run and waits for it to stop or for ctx to expire
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin validates the request, claims the single run slot and journals the run
func (s *Service) begin(req RunRequest) (string, ExecutionWindow, error) {
	window, err := s.controller.Prepare(req.Targets, req.WindowConfig)
	if err != nil {
		return "", ExecutionWindow{}, err
	}
	if req.Source == "" {
		req.Source = "api"
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ExecutionWindow{}, ErrRunInProgress
	}
	runID := uuid.New().String()
	s.active = &ActiveRun{ID: runID, Source: req.Source, Window: window, StartedAt: s.clock.Now()}
	s.mu.Unlock()

	if err := s.runs.Create(ledger.Run{
		ID:          runID,
		Status:      ledger.RunStatusRunning,
		Phase:       string(PhaseInit),
		Source:      req.Source,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Interval:    window.Interval,
		CreatedAt:   s.clock.Now(),
	}); err != nil {
		s.release()
		return "", ExecutionWindow{}, err
	}

	metrics.RunStarted()
	s.events.EmitTyped("execution", &events.RunStartedData{
		RunID:       runID,
		Source:      req.Source,
		Targets:     len(req.Targets),
		WindowStart: window.Start,
		WindowEnd:   window.End,
		IntervalSec: window.Interval.Seconds(),
	})

	return runID, window, nil
}

func (s *Service) execute(ctx context.Context, runID string, window ExecutionWindow, req RunRequest) (*RunResult, error) {
	defer s.release()

	log := s.log.With().Str("run_id", runID).Logger()
	obs := &journalObserver{service: s, runID: runID, log: log}

	// the window was resolved when the run was accepted; pin it so a queued
	// start does not shift the deadline
	cfg := WindowConfig{
		IntervalSeconds: Seconds(window.Interval.Seconds()),
		Start:           &window.Start,
		End:             &window.End,
	}
	result, err := s.controller.Run(ctx, req.Targets, cfg, obs)

	status := ledger.RunStatusCompleted
	errMsg := ""
	if err != nil {
		status = ledger.RunStatusFailed
		errMsg = err.Error()
		log.Error().Err(err).Msg("Rebalancing run failed")
		s.events.EmitError("execution", err, map[string]interface{}{"run_id": runID})
	}

	var summary ledger.RunSummary
	if result != nil {
		summary = ledger.RunSummary{
			Ticks:     result.Ticks,
			Submitted: result.Submitted,
			Failed:    result.Failed,
			Skipped:   result.Skipped,
		}
	}
	if ferr := s.runs.Finish(runID, status, summary, errMsg, s.clock.Now()); ferr != nil {
		log.Error().Err(ferr).Msg("Failed to journal run outcome")
	}

	metrics.RunFinished(string(status))
	s.events.EmitTyped("execution", &events.RunFinishedData{
		RunID:     runID,
		Status:    string(status),
		Ticks:     summary.Ticks,
		Submitted: summary.Submitted,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
		Error:     errMsg,
	})

	return result, err
}

func (s *Service) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.cancel = nil
}

// journalObserver fans engine decisions out to the ledger, the event bus and metrics.
// Journal failures are logged and never interrupt the run.
type journalObserver struct {
	service *Service
	runID   string
	log     zerolog.Logger
}

func (o *journalObserver) PhaseChanged(phase Phase) {
	if err := o.service.runs.UpdatePhase(o.runID, string(phase)); err != nil {
		o.log.Warn().Err(err).Str("phase", string(phase)).Msg("Failed to journal phase")
	}
	o.service.events.EmitTyped("execution", &events.RunPhaseChangedData{RunID: o.runID, Phase: string(phase)})
}

func (o *journalObserver) OrdersReconciled(orders []*ReconciledOrder) {
	if err := o.service.orders.SaveOrders(o.runID, toOrderRecords(orders)); err != nil {
		o.log.Warn().Err(err).Msg("Failed to journal reconciled orders")
	}
}

func (o *journalObserver) TickCompleted(tick int, fraction float64, orders []*ReconciledOrder) {
	metrics.IncTick()
	if err := o.service.orders.UpdateInterim(o.runID, toOrderRecords(orders)); err != nil {
		o.log.Warn().Err(err).Int("tick", tick).Msg("Failed to journal interim targets")
	}
	o.service.events.EmitTyped("execution", &events.TickCompletedData{RunID: o.runID, Tick: tick, Fraction: fraction})
}

func (o *journalObserver) OrderSubmitted(sub Submission) {
	metrics.IncOrder(string(sub.Stage), string(sub.Direction), sub.Succeeded())

	record := ledger.SubmissionRecord{
		RunID:     o.runID,
		Code:      sub.Code,
		Direction: string(sub.Direction),
		Stage:     string(sub.Stage),
		Price:     sub.Price,
		Volume:    sub.Volume,
		Status:    ledger.SubmissionSubmitted,
		CreatedAt: sub.At,
	}
	data := &events.OrderData{
		RunID:     o.runID,
		Code:      sub.Code,
		Direction: string(sub.Direction),
		Stage:     string(sub.Stage),
		Price:     sub.Price,
		Volume:    sub.Volume,
	}
	if !sub.Succeeded() {
		record.Status = ledger.SubmissionFailed
		record.Reason = sub.Err.Error()
		data.Error = sub.Err.Error()
	}

	if _, err := o.service.submissions.Record(record); err != nil {
		o.log.Warn().Err(err).Str("code", sub.Code).Msg("Failed to journal submission")
	}
	o.service.events.EmitTyped("execution", data)
}

func (o *journalObserver) OrderSkipped(skip Skip) {
	metrics.IncSkip(string(skip.Stage), string(skip.Reason))

	reason := string(skip.Reason)
	if skip.Detail != "" {
		reason += ": " + skip.Detail
	}
	if _, err := o.service.submissions.Record(ledger.SubmissionRecord{
		RunID:     o.runID,
		Code:      skip.Code,
		Direction: string(skip.Direction),
		Stage:     string(skip.Stage),
		Status:    ledger.SubmissionSkipped,
		Reason:    reason,
		CreatedAt: skip.At,
	}); err != nil {
		o.log.Warn().Err(err).Str("code", skip.Code).Msg("Failed to journal skip")
	}
	o.service.events.EmitTyped("execution", &events.OrderSkippedData{
		RunID:     o.runID,
		Code:      skip.Code,
		Direction: string(skip.Direction),
		Stage:     string(skip.Stage),
		Reason:    string(skip.Reason),
		Detail:    skip.Detail,
	})
}

func (o *journalObserver) BookRetried(string, int) {
	metrics.IncBookRetry()
}

func toOrderRecords(orders []*ReconciledOrder) []ledger.OrderRecord {
	records := make([]ledger.OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, ledger.OrderRecord{
			Code:            o.Code,
			InitialPosition: o.InitialPosition,
			FinalPosition:   o.FinalPosition,
			ReferencePrice:  o.ReferencePrice,
			Direction:       string(o.Direction),
			Mode:            string(o.Mode),
			InterimTarget:   o.InterimTarget,
		})
	}
	return records
}
