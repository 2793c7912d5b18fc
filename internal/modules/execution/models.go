package execution

import (
	"math"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// ExecutionMode names the slicing algorithm applied to an instrument
type ExecutionMode string

const (
	// ModeTWAP slices the gap linearly over the window
	ModeTWAP ExecutionMode = "twap"
)

// IsSupported reports whether the engine can execute mode
func (m ExecutionMode) IsSupported() bool {
	return m == ModeTWAP
}

// TargetInstruction is the caller's desired end state for one instrument
type TargetInstruction struct {
	Code           string        `json:"code"`
	FinalPosition  float64       `json:"final_position"`
	ReferencePrice float64       `json:"reference_price"`
	Mode           ExecutionMode `json:"mode"`
}

// ReconciledOrder merges the holding at run start with the target.
// Identity fields are fixed at construction; InterimTarget and the counters
// are updated by the scheduler every tick.
type ReconciledOrder struct {
	Code            string           `json:"code"`
	InitialPosition float64          `json:"initial_position"`
	FinalPosition   float64          `json:"final_position"`
	ReferencePrice  float64          `json:"reference_price"`
	Direction       domain.Direction `json:"direction"`
	Mode            ExecutionMode    `json:"mode"`

	InterimTarget float64 `json:"interim_target"`
	Submitted     int     `json:"submitted"`
	Failed        int     `json:"failed"`
	Skipped       int     `json:"skipped"`
}

// Gap returns final minus initial position
func (o *ReconciledOrder) Gap() float64 {
	return o.FinalPosition - o.InitialPosition
}

// IsNoop reports whether the holding already equals the target
func (o *ReconciledOrder) IsNoop() bool {
	return math.Abs(o.Gap()) < quantityEpsilon
}

// IsLiquidation reports whether the order closes the position entirely
func (o *ReconciledOrder) IsLiquidation() bool {
	return o.FinalPosition == 0
}

// Notional returns the absolute gap value at the reference price
func (o *ReconciledOrder) Notional() float64 {
	return math.Abs(o.Gap()) * o.ReferencePrice
}

// InterimTargetAt returns the proportional target for an elapsed fraction.
// The fraction is clamped to [0, 1] so the target never overshoots.
func (o *ReconciledOrder) InterimTargetAt(fraction float64) float64 {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return o.InitialPosition + o.Gap()*fraction
}

// Phase is the state of a run
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseRunning    Phase = "running"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
)

// RunResult summarises a completed run
type RunResult struct {
	Window     ExecutionWindow    `json:"window"`
	Orders     []*ReconciledOrder `json:"orders"`
	Ticks      int                `json:"ticks"`
	Submitted  int                `json:"submitted"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}
