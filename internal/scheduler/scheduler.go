// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of background work
type Job interface {
	Run() error
	Name() string
}

// Entry describes a registered job for status reporting
type Entry struct {
	Job      string     `json:"job"`
	Schedule string     `json:"schedule"`
	Next     *time.Time `json:"next,omitempty"`
	Prev     *time.Time `json:"prev,omitempty"`
	Failures int        `json:"failures"`
	LastErr  string     `json:"last_error,omitempty"`
}

type registration struct {
	id       cron.EntryID
	job      string
	schedule string
	failures int
	lastErr  string
}

// Scheduler fires jobs on six-field cron schedules (leading seconds).
// A job still running when its next slot comes up is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	regs []*registration
}

// New creates a stopped scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers job under schedule, e.g. "0 0 10 * * 1-5" or "@every 30s"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	reg := &registration{job: job.Name(), schedule: schedule}

	id, err := s.cron.AddFunc(schedule, func() { s.fire(reg, job) })
	if err != nil {
		return err
	}

	s.mu.Lock()
	reg.id = id
	s.regs = append(s.regs, reg)
	s.mu.Unlock()

	s.log.Info().Str("job", reg.job).Str("schedule", schedule).Msg("Job registered")
	return nil
}

func (s *Scheduler) fire(reg *registration, job Job) {
	start := time.Now()
	err := job.Run()

	s.mu.Lock()
	if err != nil {
		reg.failures++
		reg.lastErr = err.Error()
	} else {
		reg.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", reg.job).Msg("Job failed")
		return
	}
	s.log.Debug().Str("job", reg.job).Dur("took", time.Since(start)).Msg("Job completed")
}

// Start begins firing registered jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Strs("jobs", s.names()).Msg("Scheduler started")
}

// Stop halts the schedule and waits for jobs already running
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Entries lists registered jobs in registration order. Next and Prev are
// only known once the scheduler has started.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.regs))
	for _, reg := range s.regs {
		e := Entry{
			Job:      reg.job,
			Schedule: reg.schedule,
			Failures: reg.failures,
			LastErr:  reg.lastErr,
		}
		ce := s.cron.Entry(reg.id)
		if !ce.Next.IsZero() {
			next := ce.Next
			e.Next = &next
		}
		if !ce.Prev.IsZero() {
			prev := ce.Prev
			e.Prev = &prev
		}
		out = append(out, e)
	}
	return out
}

func (s *Scheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.regs))
	for i, reg := range s.regs {
		names[i] = reg.job
	}
	return names
}
