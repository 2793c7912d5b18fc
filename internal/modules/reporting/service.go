// Package reporting summarises journaled runs per instrument.
package reporting

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// InstrumentReport is the per-instrument outcome of a run
type InstrumentReport struct {
	Code            string         `json:"code"`
	Direction       string         `json:"direction"`
	InitialPosition float64        `json:"initial_position"`
	FinalPosition   float64        `json:"final_position"`
	InterimTarget   float64        `json:"interim_target"`
	Submitted       int            `json:"submitted"`
	SubmittedVolume int64          `json:"submitted_volume"`
	Failed          int            `json:"failed"`
	Skipped         int            `json:"skipped"`
	MeanPrice       float64        `json:"mean_price"`
	PriceStdDev     float64        `json:"price_std_dev"`
	SkipReasons     map[string]int `json:"skip_reasons,omitempty"`
}

// RunReport is the full report for one run
type RunReport struct {
	Run         ledger.Run         `json:"run"`
	Instruments []InstrumentReport `json:"instruments"`
	Notional    float64            `json:"submitted_notional"`
}

// Service builds run reports from the ledger
type Service struct {
	runs        *ledger.RunRepository
	orders      *ledger.OrderRepository
	submissions *ledger.SubmissionRepository
	log         zerolog.Logger
}

// NewService creates a new reporting service
func NewService(
	runs *ledger.RunRepository,
	orders *ledger.OrderRepository,
	submissions *ledger.SubmissionRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		runs:        runs,
		orders:      orders,
		submissions: submissions,
		log:         log.With().Str("service", "reporting").Logger(),
	}
}

// Build returns the report for a run, or nil when the run does not exist
func (s *Service) Build(runID string) (*RunReport, error) {
	run, err := s.runs.GetByID(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, nil
	}

	orders, err := s.orders.GetByRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	records, err := s.submissions.GetByRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}

	report := Summarize(*run, orders, records)
	s.log.Debug().
		Str("run_id", runID).
		Int("instruments", len(report.Instruments)).
		Msg("Built run report")
	return report, nil
}

// Summarize folds journaled orders and submissions into a report. Instruments
// with submissions but no journaled order still get a row.
func Summarize(run ledger.Run, orders []ledger.OrderRecord, records []ledger.SubmissionRecord) *RunReport {
	rows := make(map[string]*InstrumentReport, len(orders))
	for _, o := range orders {
		rows[o.Code] = &InstrumentReport{
			Code:            o.Code,
			Direction:       o.Direction,
			InitialPosition: o.InitialPosition,
			FinalPosition:   o.FinalPosition,
			InterimTarget:   o.InterimTarget,
		}
	}

	prices := make(map[string][]float64)
	volumes := make(map[string][]float64)
	report := &RunReport{Run: run}

	for _, rec := range records {
		row, ok := rows[rec.Code]
		if !ok {
			row = &InstrumentReport{Code: rec.Code, Direction: rec.Direction}
			rows[rec.Code] = row
		}
		switch rec.Status {
		case ledger.SubmissionSubmitted:
			row.Submitted++
			row.SubmittedVolume += rec.Volume
			prices[rec.Code] = append(prices[rec.Code], rec.Price)
			volumes[rec.Code] = append(volumes[rec.Code], float64(rec.Volume))
			report.Notional += rec.Price * float64(rec.Volume)
		case ledger.SubmissionFailed:
			row.Failed++
		case ledger.SubmissionSkipped:
			row.Skipped++
			if row.SkipReasons == nil {
				row.SkipReasons = make(map[string]int)
			}
			row.SkipReasons[skipReason(rec.Reason)]++
		}
	}

	for code, row := range rows {
		row.MeanPrice, row.PriceStdDev = weightedPrice(prices[code], volumes[code])
		report.Instruments = append(report.Instruments, *row)
	}
	sort.Slice(report.Instruments, func(i, j int) bool {
		return report.Instruments[i].Code < report.Instruments[j].Code
	})
	if report.Instruments == nil {
		report.Instruments = []InstrumentReport{}
	}
	return report
}

// weightedPrice returns the volume-weighted mean and standard deviation.
// A single submission has no spread.
func weightedPrice(prices, volumes []float64) (float64, float64) {
	if len(prices) == 0 {
		return 0, 0
	}
	mean, std := stat.MeanStdDev(prices, volumes)
	if math.IsNaN(mean) {
		mean = 0
	}
	if math.IsNaN(std) || math.IsInf(std, 0) {
		std = 0
	}
	return mean, std
}

// skipReason strips the free-form detail journaled after the reason code
func skipReason(reason string) string {
	if i := strings.Index(reason, ":"); i >= 0 {
		return strings.TrimSpace(reason[:i])
	}
	return reason
}
