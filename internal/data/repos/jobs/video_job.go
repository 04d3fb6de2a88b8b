package jobs

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type VideoJobRepo interface {
	Create(dbc dbctx.Context, job *types.VideoJob) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoJob, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoJob, error)
	GetByHandle(dbc dbctx.Context, handle string) (*types.VideoJob, error)
	GetActiveByProject(dbc dbctx.Context, projectID uuid.UUID) (*types.VideoJob, error)
	GetLatestByProject(dbc dbctx.Context, projectID uuid.UUID) (*types.VideoJob, error)
	GetLatestCompletedByProject(dbc dbctx.Context, projectID uuid.UUID, kind string) (*types.VideoJob, error)
	ListQueued(dbc dbctx.Context) ([]*types.VideoJob, error)
	ListByStatus(dbc dbctx.Context, statuses []string) ([]*types.VideoJob, error)
	ListStaleProcessing(dbc dbctx.Context, startedBefore time.Time) ([]*types.VideoJob, error)
	MaxQueuePosition(dbc dbctx.Context) (int, error)
	CountByStatus(dbc dbctx.Context, statuses []string) (int64, error)
	CountGroupedByStatus(dbc dbctx.Context) (map[string]int64, error)
	ClaimHead(dbc dbctx.Context, now time.Time) (*types.VideoJob, error)
	CloseGap(dbc dbctx.Context, position int) error
	OpenHead(dbc dbctx.Context) error
	Renumber(dbc dbctx.Context) error
}

type videoJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoJobRepo(db *gorm.DB, baseLog *logger.Logger) VideoJobRepo {
	return &videoJobRepo{
		db:  db,
		log: baseLog.With("repo", "VideoJobRepo"),
	}
}

func (r *videoJobRepo) Create(dbc dbctx.Context, job *types.VideoJob) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return transaction.WithContext(dbc.Ctx).Create(job).Error
}

func (r *videoJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.VideoJob
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LockByID row-locks the job for the remainder of the caller's transaction.
func (r *videoJobRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.VideoJob
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *videoJobRepo) GetByHandle(dbc dbctx.Context, handle string) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if handle == "" {
		return nil, nil
	}
	var job types.VideoJob
	err := transaction.WithContext(dbc.Ctx).
		Where("execution_handle = ?", handle).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *videoJobRepo) GetActiveByProject(dbc dbctx.Context, projectID uuid.UUID) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.VideoJob
	err := transaction.WithContext(dbc.Ctx).
		Where("project_id = ? AND status IN ?", projectID, jobstatus.InFlightStatuses).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *videoJobRepo) GetLatestByProject(dbc dbctx.Context, projectID uuid.UUID) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.VideoJob
	err := transaction.WithContext(dbc.Ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *videoJobRepo) GetLatestCompletedByProject(dbc dbctx.Context, projectID uuid.UUID, kind string) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.VideoJob
	err := transaction.WithContext(dbc.Ctx).
		Where("project_id = ? AND kind = ? AND status = ?", projectID, kind, jobstatus.StatusCompleted).
		Order("end_time DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *videoJobRepo) ListQueued(dbc dbctx.Context) ([]*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VideoJob
	if err := transaction.WithContext(dbc.Ctx).
		Where("status = ?", jobstatus.StatusQueued).
		Order("queue_position ASC").
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoJobRepo) ListByStatus(dbc dbctx.Context, statuses []string) ([]*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VideoJob
	if len(statuses) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaleProcessing returns claimed jobs that never received an execution
// handle and were claimed before the cutoff.
func (r *videoJobRepo) ListStaleProcessing(dbc dbctx.Context, startedBefore time.Time) ([]*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VideoJob
	if err := transaction.WithContext(dbc.Ctx).
		Where("status = ? AND execution_handle IS NULL AND start_time IS NOT NULL AND start_time < ?",
			jobstatus.StatusProcessing, startedBefore).
		Order("start_time ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *videoJobRepo) MaxQueuePosition(dbc dbctx.Context) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var maxPos sql.NullInt64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJob{}).
		Where("status = ?", jobstatus.StatusQueued).
		Select("MAX(queue_position)").
		Row().
		Scan(&maxPos); err != nil {
		return 0, err
	}
	return int(maxPos.Int64), nil
}

func (r *videoJobRepo) CountByStatus(dbc dbctx.Context, statuses []string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if len(statuses) == 0 {
		return 0, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJob{}).
		Where("status IN ?", statuses).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *videoJobRepo) CountGroupedByStatus(dbc dbctx.Context) (map[string]int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}

// ClaimHead moves the lowest-position queued job to processing and closes the
// gap it leaves. Returns nil when the queue is empty.
func (r *videoJobRepo) ClaimHead(dbc dbctx.Context, now time.Time) (*types.VideoJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var claimed *types.VideoJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.VideoJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", jobstatus.StatusQueued).
			Order("queue_position ASC").
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		res := txx.Model(&types.VideoJob{}).
			Where("id = ? AND status = ?", job.ID, jobstatus.StatusQueued).
			Updates(map[string]interface{}{
				"status":           jobstatus.StatusProcessing,
				"queue_position":   nil,
				"execution_handle": nil,
				"error":            nil,
				"start_time":       now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if job.QueuePosition != nil {
			if err := r.CloseGap(dbctx.Context{Ctx: dbc.Ctx, Tx: txx}, *job.QueuePosition); err != nil {
				return err
			}
		}
		job.Status = jobstatus.StatusProcessing
		job.QueuePosition = nil
		job.ExecutionHandle = nil
		job.Error = nil
		job.StartTime = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CloseGap shifts every queued job behind position one slot forward.
func (r *videoJobRepo) CloseGap(dbc dbctx.Context, position int) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJob{}).
		Where("status = ? AND queue_position > ?", jobstatus.StatusQueued, position).
		UpdateColumn("queue_position", gorm.Expr("queue_position - 1")).Error
}

// OpenHead shifts every queued job one slot back so position 1 is free.
func (r *videoJobRepo) OpenHead(dbc dbctx.Context) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.VideoJob{}).
		Where("status = ?", jobstatus.StatusQueued).
		UpdateColumn("queue_position", gorm.Expr("queue_position + 1")).Error
}

// Renumber rewrites queued positions as 1..n in their current order.
func (r *videoJobRepo) Renumber(dbc dbctx.Context) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	queued, err := r.ListQueued(dbctx.Context{Ctx: dbc.Ctx, Tx: transaction})
	if err != nil {
		return err
	}
	for i, job := range queued {
		want := i + 1
		if job.QueuePosition != nil && *job.QueuePosition == want {
			continue
		}
		if err := transaction.WithContext(dbc.Ctx).
			Model(&types.VideoJob{}).
			Where("id = ?", job.ID).
			UpdateColumn("queue_position", want).Error; err != nil {
			return err
		}
	}
	return nil
}
