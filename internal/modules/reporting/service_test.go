package reporting

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupService(t *testing.T) (*Service, *ledger.RunRepository, *ledger.OrderRepository, *ledger.SubmissionRepository) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	schema, err := database.Schema("ledger")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	runs := ledger.NewRunRepository(db, zerolog.Nop())
	orders := ledger.NewOrderRepository(db, zerolog.Nop())
	subs := ledger.NewSubmissionRepository(db, zerolog.Nop())
	return NewService(runs, orders, subs, zerolog.Nop()), runs, orders, subs
}

func TestBuild_MissingRun(t *testing.T) {
	svc, _, _, _ := setupService(t)

	report, err := svc.Build("nope")
	assert.NoError(t, err)
	assert.Nil(t, report)
}

func TestBuild_AggregatesPerInstrument(t *testing.T) {
	svc, runs, orders, subs := setupService(t)
	start := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	require.NoError(t, runs.Create(ledger.Run{
		ID:          "run-1",
		Phase:       "done",
		WindowStart: start,
		WindowEnd:   start.Add(time.Hour),
		Interval:    20 * time.Second,
		CreatedAt:   start,
	}))
	require.NoError(t, orders.SaveOrders("run-1", []ledger.OrderRecord{
		{Code: "600000", FinalPosition: 1000, ReferencePrice: 10, Direction: "buy", Mode: "twap", InterimTarget: 1000},
		{Code: "000001", InitialPosition: 500, ReferencePrice: 20, Direction: "sell", Mode: "twap"},
	}))

	for _, rec := range []ledger.SubmissionRecord{
		{Code: "600000", Direction: "buy", Stage: "twap", Price: 10, Volume: 100, Status: ledger.SubmissionSubmitted},
		{Code: "600000", Direction: "buy", Stage: "twap", Price: 11, Volume: 100, Status: ledger.SubmissionSubmitted},
		{Code: "600000", Direction: "buy", Stage: "twap", Status: ledger.SubmissionSkipped, Reason: "no_volume"},
		{Code: "600000", Direction: "buy", Stage: "twap", Status: ledger.SubmissionSkipped, Reason: "below_notional: gap 3 under 5000"},
		{Code: "000001", Direction: "sell", Stage: "close", Price: 19.9, Volume: 500, Status: ledger.SubmissionFailed, Reason: "timeout"},
	} {
		rec.RunID = "run-1"
		_, err := subs.Record(rec)
		require.NoError(t, err)
	}

	report, err := svc.Build("run-1")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "run-1", report.Run.ID)
	require.Len(t, report.Instruments, 2)

	sell := report.Instruments[0]
	assert.Equal(t, "000001", sell.Code)
	assert.Equal(t, 1, sell.Failed)
	assert.Zero(t, sell.Submitted)
	assert.Zero(t, sell.MeanPrice)

	buy := report.Instruments[1]
	assert.Equal(t, "600000", buy.Code)
	assert.Equal(t, 2, buy.Submitted)
	assert.Equal(t, int64(200), buy.SubmittedVolume)
	assert.Equal(t, 2, buy.Skipped)
	assert.Equal(t, map[string]int{"no_volume": 1, "below_notional": 1}, buy.SkipReasons)
	assert.InDelta(t, 10.5, buy.MeanPrice, 1e-9)
	assert.InDelta(t, math.Sqrt(50.0/199.0), buy.PriceStdDev, 1e-9)
	assert.Equal(t, 1000.0, buy.InterimTarget)

	assert.InDelta(t, 2100.0, report.Notional, 1e-9)
}

func TestSummarize_SubmissionWithoutOrderRow(t *testing.T) {
	report := Summarize(ledger.Run{ID: "r"}, nil, []ledger.SubmissionRecord{
		{Code: "AAA", Direction: "sell", Price: 5, Volume: 1, Status: ledger.SubmissionSubmitted},
	})

	require.Len(t, report.Instruments, 1)
	assert.Equal(t, "AAA", report.Instruments[0].Code)
	assert.Equal(t, 5.0, report.Instruments[0].MeanPrice)
	assert.Zero(t, report.Instruments[0].PriceStdDev, "a single unit has no spread")
}

func TestSummarize_EmptyRun(t *testing.T) {
	report := Summarize(ledger.Run{ID: "r"}, nil, nil)
	assert.NotNil(t, report.Instruments)
	assert.Empty(t, report.Instruments)
	assert.Zero(t, report.Notional)
}
