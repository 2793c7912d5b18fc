package server

import (
	"context"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatusResponse represents the system status
type SystemStatusResponse struct {
	Status      string               `json:"status"`
	UptimeHours float64              `json:"uptime_hours"`
	GoRoutines  int                  `json:"goroutines"`
	CPUPercent  float64              `json:"cpu_percent"`
	RAMPercent  float64              `json:"ram_percent"`
	DiskFreeGB  float64              `json:"disk_free_gb"`
	ActiveRun   *execution.ActiveRun `json:"active_run"`
	Ledger      *database.Stats      `json:"ledger,omitempty"`
	Stream      StreamStatus         `json:"event_stream"`
	Backups     BackupStatus         `json:"backups"`
	Jobs        []scheduler.Entry    `json:"jobs"`
	LastUpdated string               `json:"last_updated"`
}

// StreamStatus reports event bus load
type StreamStatus struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// BackupStatus reports where backups go and what is kept locally
type BackupStatus struct {
	UploadEnabled bool     `json:"upload_enabled"`
	Local         []string `json:"local"`
}

// SystemHandlers handles system-wide monitoring and operations
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	ledgerDB    *database.DB
	runs        *execution.Service
	backups     *reliability.BackupService
	eventBus    *events.Bus
	jobs        *scheduler.Scheduler
	startupTime time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	ledgerDB *database.DB,
	runs *execution.Service,
	backups *reliability.BackupService,
	eventBus *events.Bus,
	jobs *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("service", "system").Logger(),
		dataDir:     dataDir,
		ledgerDB:    ledgerDB,
		runs:        runs,
		backups:     backups,
		eventBus:    eventBus,
		jobs:        jobs,
		startupTime: time.Now(),
	}
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:      "healthy",
		UptimeHours: time.Since(h.startupTime).Hours(),
		GoRoutines:  runtime.NumGoroutine(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
		DiskFreeGB:  h.getDiskFreeGB(),
		ActiveRun:   h.runs.Active(),
		Stream: StreamStatus{
			Subscribers: h.eventBus.Subscribers(),
			Dropped:     h.eventBus.Dropped(),
		},
		Backups: BackupStatus{
			UploadEnabled: h.backups.UploadEnabled(),
			Local:         []string{},
		},
		Jobs:        []scheduler.Entry{},
		LastUpdated: time.Now().Format(time.RFC3339),
	}
	if h.jobs != nil {
		response.Jobs = h.jobs.Entries()
	}

	stats, err := h.ledgerDB.GetStats()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get ledger statistics")
		response.Status = "degraded"
	} else {
		response.Ledger = stats
	}

	if local, err := h.backups.ListLocal(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to list local backups")
	} else if local != nil {
		response.Backups.Local = baseNames(local)
	}

	writeJSON(w, h.log, http.StatusOK, response)
}

// HandleBackup handles POST /api/system/backup
func (h *SystemHandlers) HandleBackup(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := h.backups.Backup(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		writeError(w, h.log, http.StatusInternalServerError, "Backup failed: "+err.Error())
		return
	}

	writeJSON(w, h.log, http.StatusOK, result)
}

// HandleListBackups handles GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	local, err := h.backups.ListLocal()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list local backups")
		writeError(w, h.log, http.StatusInternalServerError, "Failed to list backups")
		return
	}

	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"backups":        baseNames(local),
		"upload_enabled": h.backups.UploadEnabled(),
	})
}

// getSystemStats calculates CPU and RAM usage percentages.
// The 100ms sample keeps the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

func (h *SystemHandlers) getDiskFreeGB() float64 {
	usage, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
		return 0
	}
	return float64(usage.Free) / (1024 * 1024 * 1024)
}

func baseNames(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names
}
