package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Run() error {
	j.runs++
	return j.err
}

func (j *stubJob) Name() string { return j.name }

func TestScheduler_Entries(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("0 0 3 * * *", &stubJob{name: "backup"}))
	require.NoError(t, s.AddJob("@every 1h", &stubJob{name: "wal_checkpoint"}))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "backup", entries[0].Job)
	assert.Equal(t, "0 0 3 * * *", entries[0].Schedule)
	assert.Equal(t, "wal_checkpoint", entries[1].Job)
	assert.Nil(t, entries[0].Next, "not started")

	s.Start()
	t.Cleanup(s.Stop)

	for _, e := range s.Entries() {
		assert.NotNil(t, e.Next, e.Job)
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.AddJob("not a schedule", &stubJob{name: "backup"}))
	assert.Empty(t, s.Entries())
}

func TestScheduler_RecordsFailures(t *testing.T) {
	s := New(zerolog.Nop())
	job := &stubJob{name: "rebalance", err: errors.New("targets file missing")}
	require.NoError(t, s.AddJob("0 0 10 * * 1-5", job))

	reg := s.regs[0]
	s.fire(reg, job)
	s.fire(reg, job)

	entry := s.Entries()[0]
	assert.Equal(t, 2, job.runs)
	assert.Equal(t, 2, entry.Failures)
	assert.Equal(t, "targets file missing", entry.LastErr)

	job.err = nil
	s.fire(reg, job)
	entry = s.Entries()[0]
	assert.Equal(t, 2, entry.Failures)
	assert.Empty(t, entry.LastErr)
}
