package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.Models()...)
}

// EnsureQueueIndexes adds the partial indexes gorm tags cannot express. They
// only apply to Postgres.
func EnsureQueueIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	// at most one job per project may be waiting or executing
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_video_job_project_in_flight
		ON video_job (project_id)
		WHERE status IN ('queued', 'processing', 'running');
	`).Error; err != nil {
		return fmt.Errorf("create idx_video_job_project_in_flight: %w", err)
	}
	// at most one job may hold the executor
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_video_job_single_busy
		ON video_job ((true))
		WHERE status IN ('processing', 'running');
	`).Error; err != nil {
		return fmt.Errorf("create idx_video_job_single_busy: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_video_job_queue_order
		ON video_job (queue_position)
		WHERE status = 'queued';
	`).Error; err != nil {
		return fmt.Errorf("create idx_video_job_queue_order: %w", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureQueueIndexes(s.db); err != nil {
		s.log.Error("Queue index migration failed", "error", err)
		return err
	}
	return nil
}
