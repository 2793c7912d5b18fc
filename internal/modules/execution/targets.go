package execution

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
)

// targetColumns is the number of value columns after the instrument code
const targetColumns = 3

// ParseTargets reads target instructions from CSV:
//
//	code,final_position,reference_price,mode
//
// A header row is allowed. Every record must carry the code plus exactly
// three columns; anything else is a configuration error.
func ParseTargets(r io.Reader) ([]TargetInstruction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	targets := make([]TargetInstruction, 0)
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, domain.NewConfigurationError("failed to read targets: %v", err)
		}
		if len(record) != targetColumns+1 {
			return nil, domain.NewConfigurationError("targets line %d: expected %d columns after the instrument code, got %d",
				line, targetColumns, len(record)-1)
		}
		if line == 1 && isHeaderRecord(record) {
			continue
		}

		target, err := parseTargetRecord(record)
		if err != nil {
			return nil, domain.NewConfigurationError("targets line %d: %v", line, err)
		}
		targets = append(targets, target)
	}

	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func parseTargetRecord(record []string) (TargetInstruction, error) {
	code := NormalizeCode(record[0])
	if code == "" {
		return TargetInstruction{}, errors.New("empty instrument code")
	}

	final, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return TargetInstruction{}, errors.New("invalid final position " + strconv.Quote(record[1]))
	}

	var ref float64
	if raw := strings.TrimSpace(record[2]); raw != "" {
		ref, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return TargetInstruction{}, errors.New("invalid reference price " + strconv.Quote(record[2]))
		}
	}

	return TargetInstruction{
		Code:           code,
		FinalPosition:  final,
		ReferencePrice: ref,
		Mode:           normalizeMode(record[3]),
	}, nil
}

// isHeaderRecord treats a first row whose position column is not numeric as a header
func isHeaderRecord(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err != nil
}

// ValidateTargets rejects instructions the engine cannot execute
func ValidateTargets(targets []TargetInstruction) error {
	if len(targets) == 0 {
		return domain.NewConfigurationError("no target instructions")
	}
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		code := NormalizeCode(t.Code)
		if code == "" {
			return domain.NewConfigurationError("target %d: empty instrument code", i+1)
		}
		if seen[code] {
			return domain.NewConfigurationError("target %s: duplicate instrument code", code)
		}
		seen[code] = true

		if math.IsNaN(t.FinalPosition) || math.IsInf(t.FinalPosition, 0) || t.FinalPosition < 0 {
			return domain.NewConfigurationError("target %s: final position must be a non-negative number, got %v", code, t.FinalPosition)
		}
		if math.IsNaN(t.ReferencePrice) || math.IsInf(t.ReferencePrice, 0) || t.ReferencePrice < 0 {
			return domain.NewConfigurationError("target %s: reference price must be a non-negative number, got %v", code, t.ReferencePrice)
		}
		mode := normalizeMode(string(t.Mode))
		if !mode.IsSupported() {
			return domain.NewConfigurationError("target %s: unsupported execution mode %q", code, t.Mode)
		}
	}
	return nil
}

// NormalizeCode trims the code and left-pads purely numeric codes to six
// digits. See domain.NormalizeCode.
func NormalizeCode(code string) string {
	return domain.NormalizeCode(code)
}

func normalizeMode(mode string) ExecutionMode {
	m := ExecutionMode(strings.ToLower(strings.TrimSpace(mode)))
	if m == "" {
		return ModeTWAP
	}
	return m
}
