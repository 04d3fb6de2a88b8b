package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type CancelResult struct {
	Job                      *types.VideoJob `json:"job"`
	ReservationUnitsReleased int             `json:"reservation_units_released"`
}

// CancellationService withdraws queued jobs before dispatch.
type CancellationService interface {
	Cancel(ctx context.Context, ownerUserID, jobID uuid.UUID) (*CancelResult, error)
}

type cancellationService struct {
	db     *gorm.DB
	log    *logger.Logger
	jobs   repos.VideoJobRepo
	queue  domainagg.VideoQueueAggregate
	notify VideoJobNotifier
}

func NewCancellationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.VideoJobRepo,
	queue domainagg.VideoQueueAggregate,
	notify VideoJobNotifier,
) CancellationService {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &cancellationService{
		db:     db,
		log:    baseLog.With("service", "CancellationService"),
		jobs:   jobs,
		queue:  queue,
		notify: notify,
	}
}

func (s *cancellationService) Cancel(ctx context.Context, ownerUserID, jobID uuid.UUID) (*CancelResult, error) {
	res, err := s.queue.Cancel(ctx, domainagg.CancelInput{
		JobID:       jobID,
		OwnerUserID: ownerUserID,
		At:          time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	observability.Current().ObserveLedgerPosting(domainledger.EntryCancellation, 0)
	s.log.Info("video job cancelled", "job_id", jobID, "owner_user_id", ownerUserID, "released_units", res.ReservationUnitsReleased)

	s.notify.JobChanged(ctx, res.Job)
	s.notify.BalanceChanged(ctx, ownerUserID)
	if queued, err := s.jobs.ListQueued(dbctx.Context{Ctx: ctx}); err != nil {
		s.log.Warn("list queue after cancel failed", "error", err)
	} else {
		s.notify.QueueMoved(ctx, queued)
	}

	return &CancelResult{Job: res.Job, ReservationUnitsReleased: res.ReservationUnitsReleased}, nil
}
