// Package main runs a single rebalance in the foreground and prints its report.
//
// Usage:
//
//	rebalance -targets targets.csv -duration 1h [-interval 20s] [-start 2024-03-04T09:30:00+08:00] [-paper]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/pkg/logger"
	"github.com/rs/zerolog"
)

type options struct {
	targets  string
	duration time.Duration
	end      string
	start    string
	interval time.Duration
	paper    bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("rebalance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.targets, "targets", "", "CSV file of code,final_position,reference_price,mode")
	fs.DurationVar(&opts.duration, "duration", 0, "total execution time (mutually exclusive with -end)")
	fs.StringVar(&opts.end, "end", "", "window end, RFC3339")
	fs.StringVar(&opts.start, "start", "", "window start, RFC3339 (default now)")
	fs.DurationVar(&opts.interval, "interval", 0, "time between ticks (default from DEFAULT_INTERVAL)")
	fs.BoolVar(&opts.paper, "paper", false, "use the in-memory paper broker")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.targets == "" {
		return opts, errors.New("-targets is required")
	}
	return opts, nil
}

// buildRequest turns flags and the parsed targets into a run request.
// Window consistency is checked by the engine.
func buildRequest(opts options, targets []execution.TargetInstruction) (execution.RunRequest, error) {
	req := execution.RunRequest{Targets: targets, Source: "cli"}

	if opts.duration > 0 {
		req.DurationSeconds = execution.Seconds(opts.duration.Seconds())
	}
	if opts.interval > 0 {
		req.IntervalSeconds = execution.Seconds(opts.interval.Seconds())
	}
	if opts.start != "" {
		t, err := time.Parse(time.RFC3339, opts.start)
		if err != nil {
			return req, fmt.Errorf("invalid -start: %w", err)
		}
		req.Start = &t
	}
	if opts.end != "" {
		t, err := time.Parse(time.RFC3339, opts.end)
		if err != nil {
			return req, fmt.Errorf("invalid -end: %w", err)
		}
		req.End = &t
	}
	return req, nil
}

func loadTargets(path string) ([]execution.TargetInstruction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets: %w", err)
	}
	defer f.Close()
	return execution.ParseTargets(f)
}

func run(ctx context.Context, opts options, cfg *config.Config, stdout io.Writer, log zerolog.Logger) error {
	if opts.paper {
		cfg.BrokerMode = config.BrokerModePaper
	}

	targets, err := loadTargets(opts.targets)
	if err != nil {
		return err
	}
	req, err := buildRequest(opts, targets)
	if err != nil {
		return err
	}

	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	defer container.Close(context.Background())

	runID, result, runErr := container.ExecutionService.Execute(ctx, req)
	if runID == "" {
		// rejected before anything was journaled
		return runErr
	}

	if result != nil {
		log.Info().
			Str("run_id", runID).
			Int("ticks", result.Ticks).
			Int("submitted", result.Submitted).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("Run finished")
	}

	report, err := container.ReportingService.Build(runID)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return runErr
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, cfg, os.Stdout, log); err != nil {
		log.Error().Err(err).Msg("Rebalance failed")
		os.Exit(1)
	}
}
