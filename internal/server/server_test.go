package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/di"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func setupTestServer(t *testing.T) (*Server, *di.Container, *httptest.Server) {
	defaults := execution.DefaultParams()
	cfg := &config.Config{
		DataDir:    t.TempDir(),
		Port:       8001,
		DevMode:    true,
		BrokerMode: config.BrokerModePaper,
		PaperCash:  100000,
		Execution: config.ExecutionConfig{
			LotSize:           defaults.LotSize,
			MinOrderValue:     defaults.MinOrderValue,
			IgnoreOrderValue:  defaults.IgnoreOrderValue,
			BookRetryAttempts: defaults.BookRetry.MaxAttempts,
			BookRetryDelay:    defaults.BookRetry.Delay,
			SettleDelay:       defaults.SettleDelay,
			DefaultInterval:   defaults.DefaultInterval,
		},
		Backup: config.BackupConfig{Cron: "0 0 3 * * *", Prefix: "rebalancer"},
	}

	container, jobs, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, di.ScheduleJobs(sched, jobs, cfg))

	srv := New(Config{
		Log:       zerolog.Nop(),
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Container: container,
		Scheduler: sched,
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		container.Close(context.Background())
	})
	return srv, container, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, _, ts := setupTestServer(t)

	var body map[string]interface{}
	status := getJSON(t, ts.URL+"/health", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "rebalancer", body["service"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSystemStatus(t *testing.T) {
	_, _, ts := setupTestServer(t)

	var body SystemStatusResponse
	status := getJSON(t, ts.URL+"/api/system/status", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body.Status)
	assert.Nil(t, body.ActiveRun)
	require.NotNil(t, body.Ledger)
	assert.Positive(t, body.Ledger.PageSize)
	assert.False(t, body.Backups.UploadEnabled)
	assert.NotNil(t, body.Backups.Local)

	require.Len(t, body.Jobs, 3)
	assert.Equal(t, "backup", body.Jobs[0].Job)
	assert.Equal(t, "0 0 3 * * *", body.Jobs[0].Schedule)
}

func TestManualBackup(t *testing.T) {
	_, _, ts := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/system/backup", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, result["uploaded"])
	assert.Contains(t, result["archive"], "ledger-backup-")

	var list map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/system/backups", &list))
	assert.Len(t, list["backups"], 1)
}

func TestRoutesMounted(t *testing.T) {
	_, _, ts := setupTestServer(t)

	var runs map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/runs", &runs))
	assert.EqualValues(t, 0, runs["count"])

	var active map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/runs/active", &active))
	assert.Nil(t, active["active"])

	var positions map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/broker/positions", &positions))
}

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/stream" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestEventsStream(t *testing.T) {
	_, container, ts := setupTestServer(t)

	conn := dialStream(t, ts, "")
	require.Eventually(t, func() bool { return container.EventBus.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	container.EventManager.EmitTyped("execution", &events.RunStartedData{RunID: "run-1", Source: "api", Targets: 2})

	event := readEvent(t, conn)
	assert.Equal(t, "RUN_STARTED", event["type"])
	assert.Equal(t, "execution", event["module"])
	data, ok := event["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "run-1", data["run_id"])
}

func TestEventsStream_TypesFilter(t *testing.T) {
	_, container, ts := setupTestServer(t)

	conn := dialStream(t, ts, "?types=run_finished")
	require.Eventually(t, func() bool { return container.EventBus.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	container.EventManager.EmitTyped("execution", &events.RunStartedData{RunID: "run-1"})
	container.EventManager.EmitTyped("execution", &events.RunFinishedData{RunID: "run-1", Status: "completed"})

	event := readEvent(t, conn)
	assert.Equal(t, "RUN_FINISHED", event["type"])
}

func TestEventsStream_UnsubscribesOnClose(t *testing.T) {
	_, container, ts := setupTestServer(t)

	conn := dialStream(t, ts, "")
	require.Eventually(t, func() bool { return container.EventBus.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return container.EventBus.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestParseTypesFilter(t *testing.T) {
	assert.Nil(t, parseTypesFilter(""))
	assert.Nil(t, parseTypesFilter("  "))

	got := parseTypesFilter("run_started, ORDER_SUBMITTED,,")
	assert.Len(t, got, 2)
	assert.True(t, got[events.RunStarted])
	assert.True(t, got[events.OrderSubmitted])
}
