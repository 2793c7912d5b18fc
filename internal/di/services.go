// Package di provides service initialization functions.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/clients/bridge"
	"github.com/aristath/rebalancer/internal/clients/paper"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/modules/execution"
	"github.com/aristath/rebalancer/internal/modules/reporting"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the broker session, the event system and all services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// ==========================================
	// Broker
	// ==========================================
	switch cfg.BrokerMode {
	case config.BrokerModePaper:
		container.Broker = paper.NewBroker(cfg.PaperCash, log)
		log.Warn().Float64("cash", cfg.PaperCash).Msg("Using paper broker, orders will not reach the market")
	default:
		client := bridge.NewClient(bridge.Config{
			BaseURL:  cfg.Bridge.URL,
			MinDelay: cfg.Bridge.MinDelay,
			Timeout:  cfg.Bridge.Timeout,
		}, log)
		container.BridgeClient = client
		container.Broker = client
		log.Info().Str("url", cfg.Bridge.URL).Msg("Using desktop bridge broker")
	}

	// ==========================================
	// Events
	// ==========================================
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// ==========================================
	// Execution and reporting
	// ==========================================
	container.ExecutionService = execution.NewService(
		container.Broker,
		cfg.ExecutionParams(),
		nil, // wall clock
		container.RunRepo,
		container.OrderRepo,
		container.SubmissionRepo,
		container.EventManager,
		log,
	)
	container.ReportingService = reporting.NewService(
		container.RunRepo,
		container.OrderRepo,
		container.SubmissionRepo,
		log,
	)

	// ==========================================
	// Backups
	// ==========================================
	var uploader reliability.Uploader
	if cfg.Backup.Enabled() {
		s3Uploader, err := reliability.NewS3Uploader(context.Background(), reliability.S3Config{
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			Endpoint:  cfg.Backup.Endpoint,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup uploader: %w", err)
		}
		uploader = s3Uploader
	} else {
		log.Info().Msg("No backup bucket configured, ledger archives stay local")
	}
	container.BackupService = reliability.NewBackupService(
		container.LedgerDB,
		uploader,
		cfg.BackupStagingDir(),
		cfg.Backup.Prefix,
		container.EventManager,
		log,
	)

	return nil
}
