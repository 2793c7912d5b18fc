package execution

import (
	"math"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// WindowConfig is the caller-facing run configuration.
// Exactly one of DurationSeconds and End must be set.
type WindowConfig struct {
	IntervalSeconds *float64   `json:"interval,omitempty"`
	Start           *time.Time `json:"datetime_start,omitempty"`
	DurationSeconds *float64   `json:"timedelta_tot,omitempty"`
	End             *time.Time `json:"datetime_end,omitempty"`
}

// ExecutionWindow is a resolved, validated window
type ExecutionWindow struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Interval time.Duration `json:"interval"`
}

// Resolve validates the configuration and fills in defaults:
// start defaults to now and interval to defaultInterval.
func (c WindowConfig) Resolve(now time.Time, defaultInterval time.Duration) (ExecutionWindow, error) {
	if c.DurationSeconds == nil && c.End == nil {
		return ExecutionWindow{}, domain.NewConfigurationError("either timedelta_tot or datetime_end must be configured")
	}
	if c.DurationSeconds != nil && c.End != nil {
		return ExecutionWindow{}, domain.NewConfigurationError("timedelta_tot and datetime_end are mutually exclusive")
	}

	interval := defaultInterval
	if c.IntervalSeconds != nil {
		if !isPositiveFinite(*c.IntervalSeconds) {
			return ExecutionWindow{}, domain.NewConfigurationError("interval must be positive, got %v", *c.IntervalSeconds)
		}
		interval = secondsToDuration(*c.IntervalSeconds)
	}
	if interval <= 0 {
		return ExecutionWindow{}, domain.NewConfigurationError("interval must be positive")
	}

	start := now
	if c.Start != nil {
		start = *c.Start
	}

	var end time.Time
	if c.DurationSeconds != nil {
		if !isPositiveFinite(*c.DurationSeconds) {
			return ExecutionWindow{}, domain.NewConfigurationError("timedelta_tot must be positive, got %v", *c.DurationSeconds)
		}
		end = start.Add(secondsToDuration(*c.DurationSeconds))
	} else {
		end = *c.End
	}

	if !end.After(start) {
		return ExecutionWindow{}, domain.NewConfigurationError("window end %s is not after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	return ExecutionWindow{Start: start, End: end, Interval: interval}, nil
}

// Total returns the window length
func (w ExecutionWindow) Total() time.Duration {
	return w.End.Sub(w.Start)
}

// Fraction returns the elapsed share of the window at now, clamped to [0, 1]
func (w ExecutionWindow) Fraction(now time.Time) float64 {
	total := w.Total()
	if total <= 0 {
		return 1
	}
	fraction := float64(now.Sub(w.Start)) / float64(total)
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}

// Seconds is a helper for building WindowConfig literals
func Seconds(v float64) *float64 {
	return &v
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
