package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/realtime"
	"github.com/yungbote/videoqueue-backend/internal/realtime/bus"
)

// VideoJobNotifier pushes job lifecycle events to the owning user's channel.
// Publishing is best effort; a failed publish never fails the caller.
type VideoJobNotifier interface {
	JobChanged(ctx context.Context, job *types.VideoJob)
	ClipProduced(ctx context.Context, job *types.VideoJob, unitKey, url string)
	QueueMoved(ctx context.Context, queued []*types.VideoJob)
	BalanceChanged(ctx context.Context, ownerUserID uuid.UUID)
}

type videoJobNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

func NewVideoJobNotifier(baseLog *logger.Logger, b bus.Bus) VideoJobNotifier {
	return &videoJobNotifier{log: baseLog.With("service", "VideoJobNotifier"), bus: b}
}

var statusEvents = map[string]realtime.SSEEvent{
	jobstatus.StatusQueued:     realtime.SSEEventVideoJobQueued,
	jobstatus.StatusProcessing: realtime.SSEEventVideoJobProcessing,
	jobstatus.StatusRunning:    realtime.SSEEventVideoJobRunning,
	jobstatus.StatusCompleted:  realtime.SSEEventVideoJobCompleted,
	jobstatus.StatusError:      realtime.SSEEventVideoJobError,
	jobstatus.StatusCancelled:  realtime.SSEEventVideoJobCancelled,
}

func (n *videoJobNotifier) JobChanged(ctx context.Context, job *types.VideoJob) {
	if job == nil {
		return
	}
	event, ok := statusEvents[job.Status]
	if !ok {
		return
	}
	data := jobEventData(job)
	n.publish(ctx, realtime.SSEMessage{Channel: realtime.UserChannel(job.OwnerUserID), Event: event, Data: data})
}

func (n *videoJobNotifier) ClipProduced(ctx context.Context, job *types.VideoJob, unitKey, url string) {
	if job == nil {
		return
	}
	data := jobEventData(job)
	data.UnitKey = unitKey
	data.URL = url
	n.publish(ctx, realtime.SSEMessage{Channel: realtime.UserChannel(job.OwnerUserID), Event: realtime.SSEEventVideoJobClip, Data: data})
}

// QueueMoved tells every owner of a still queued job its new position.
func (n *videoJobNotifier) QueueMoved(ctx context.Context, queued []*types.VideoJob) {
	for _, job := range queued {
		if job == nil {
			continue
		}
		n.publish(ctx, realtime.SSEMessage{
			Channel: realtime.UserChannel(job.OwnerUserID),
			Event:   realtime.SSEEventQueueMoved,
			Data:    jobEventData(job),
		})
	}
}

func (n *videoJobNotifier) BalanceChanged(ctx context.Context, ownerUserID uuid.UUID) {
	if ownerUserID == uuid.Nil {
		return
	}
	n.publish(ctx, realtime.SSEMessage{
		Channel: realtime.UserChannel(ownerUserID),
		Event:   realtime.SSEEventBalanceChanged,
		Data:    map[string]any{"owner_user_id": ownerUserID, "at": time.Now().UTC()},
	})
}

func (n *videoJobNotifier) publish(ctx context.Context, msg realtime.SSEMessage) {
	if n == nil || n.bus == nil {
		return
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("publish job event failed", "event", msg.Event, "error", err)
	}
}

func jobEventData(job *types.VideoJob) realtime.JobEventData {
	data := realtime.JobEventData{
		JobID:         job.ID,
		ProjectID:     job.ProjectID,
		Kind:          job.Kind,
		Status:        job.Status,
		QueuePosition: job.QueuePosition,
		At:            job.UpdatedAt,
	}
	if job.Error != nil {
		data.Error = *job.Error
	}
	if data.At.IsZero() {
		data.At = time.Now().UTC()
	}
	return data
}

type nopNotifier struct{}

func NopVideoJobNotifier() VideoJobNotifier { return nopNotifier{} }

func (nopNotifier) JobChanged(context.Context, *types.VideoJob)                    {}
func (nopNotifier) ClipProduced(context.Context, *types.VideoJob, string, string) {}
func (nopNotifier) QueueMoved(context.Context, []*types.VideoJob)                  {}
func (nopNotifier) BalanceChanged(context.Context, uuid.UUID)                      {}
