package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStarter struct {
	requests []execution.RunRequest
	err      error
}

func (f *fakeStarter) Start(req execution.RunRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "run-1", nil
}

type fakeBackuper struct {
	calls int
	err   error
}

func (f *fakeBackuper) Backup(ctx context.Context) (*reliability.BackupResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &reliability.BackupResult{Archive: "ledger-backup.tar.gz"}, nil
}

func writeTargets(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "targets.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRebalanceJob_StartsRun(t *testing.T) {
	starter := &fakeStarter{}
	path := writeTargets(t, "code,final,ref,mode\n600000,1000,10.5,twap\n1,0,,\n")
	job := NewRebalanceJob(starter, path, 90*time.Minute, zerolog.Nop())

	require.NoError(t, job.Run())
	require.Len(t, starter.requests, 1)

	req := starter.requests[0]
	assert.Equal(t, "schedule", req.Source)
	require.Len(t, req.Targets, 2)
	require.NotNil(t, req.DurationSeconds)
	assert.Equal(t, 5400.0, *req.DurationSeconds)
	assert.Nil(t, req.End)
}

func TestRebalanceJob_SkipsWhenRunActive(t *testing.T) {
	starter := &fakeStarter{err: execution.ErrRunInProgress}
	job := NewRebalanceJob(starter, writeTargets(t, "600000,1000,10,twap\n"), time.Hour, zerolog.Nop())

	assert.NoError(t, job.Run())
}

func TestRebalanceJob_Errors(t *testing.T) {
	missing := NewRebalanceJob(&fakeStarter{}, filepath.Join(t.TempDir(), "nope.csv"), time.Hour, zerolog.Nop())
	assert.Error(t, missing.Run())

	invalid := NewRebalanceJob(&fakeStarter{}, writeTargets(t, "600000,1000\n"), time.Hour, zerolog.Nop())
	assert.Error(t, invalid.Run())

	failing := NewRebalanceJob(&fakeStarter{err: errors.New("ledger unavailable")}, writeTargets(t, "600000,1000,10,twap\n"), time.Hour, zerolog.Nop())
	assert.Error(t, failing.Run())
}

func TestBackupJob(t *testing.T) {
	backups := &fakeBackuper{}
	job := NewBackupJob(backups, zerolog.Nop())
	assert.Equal(t, "backup", job.Name())

	require.NoError(t, job.Run())
	assert.Equal(t, 1, backups.calls)

	backups.err = errors.New("bucket missing")
	assert.Error(t, job.Run())
}
