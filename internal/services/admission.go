package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

type SubmitInput struct {
	OwnerUserID uuid.UUID
	ProjectID   uuid.UUID
	Kind        string
}

type SubmitResult struct {
	JobID         uuid.UUID `json:"job_id"`
	Kind          string    `json:"kind"`
	RequiredUnits int       `json:"required_units"`
	QueuePosition int       `json:"queue_position"`
	Available     int       `json:"available"`
}

// AdmissionService decides whether a submission may enter the queue.
type AdmissionService interface {
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
}

type admissionService struct {
	db       *gorm.DB
	log      *logger.Logger
	projects repos.VideoProjectRepo
	jobs     repos.VideoJobRepo
	clips    repos.VideoJobClipRepo
	queue    domainagg.VideoQueueAggregate
	notify   VideoJobNotifier
	limiter  *UserRateLimiter
}

func NewAdmissionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	projects repos.VideoProjectRepo,
	jobs repos.VideoJobRepo,
	clips repos.VideoJobClipRepo,
	queue domainagg.VideoQueueAggregate,
	notify VideoJobNotifier,
	limiter *UserRateLimiter,
) AdmissionService {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &admissionService{
		db:       db,
		log:      baseLog.With("service", "AdmissionService"),
		projects: projects,
		jobs:     jobs,
		clips:    clips,
		queue:    queue,
		notify:   notify,
		limiter:  limiter,
	}
}

func (s *admissionService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	const op = "Services.Admission.Submit"
	ctx, span := observability.Tracer().Start(ctx, "admission.submit")
	defer span.End()

	kind, ok := jobstatus.ParseKind(strings.TrimSpace(in.Kind))
	span.SetAttributes(attribute.String("video_job.kind", string(kind)), attribute.String("project_id", in.ProjectID.String()))
	if !ok {
		return nil, s.reject(string(kind), domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unknown job kind %q", in.Kind), nil))
	}
	if in.OwnerUserID == uuid.Nil || in.ProjectID == uuid.Nil {
		return nil, s.reject(string(kind), domainagg.NewError(domainagg.CodeValidation, op, "missing owner or project id", nil))
	}
	if !s.limiter.Allow(in.OwnerUserID) {
		return nil, s.reject(string(kind), domainagg.NewError(domainagg.CodeRateLimited, op, "too many submissions, try again shortly", nil))
	}

	dbc := dbctx.Context{Ctx: ctx}
	project, err := s.projects.GetByID(dbc, in.ProjectID)
	if err != nil {
		return nil, s.reject(string(kind), domainagg.Wrap(domainagg.CodeInternal, op, err))
	}
	if project == nil || project.OwnerUserID != in.OwnerUserID {
		return nil, s.reject(string(kind), domainagg.NewError(domainagg.CodeNotFound, op, "video project not found", nil))
	}

	var (
		payload  jobstatus.Payload
		required int
	)
	switch kind {
	case jobstatus.KindMerge:
		urls, sourceID, err := s.mergeSources(dbc, project.ID)
		if err != nil {
			return nil, s.reject(string(kind), err)
		}
		payload = jobstatus.MergePayload{ContentPath: project.ContentPath, SourceJobID: sourceID, ClipURLs: urls}
		required = 1
	default:
		keys, err := LeafUnitKeys(project.Structure)
		if err != nil {
			return nil, s.reject(string(kind), domainagg.NewError(domainagg.CodeInvalidContent, op, "content structure could not be read", err))
		}
		if len(keys) == 0 {
			return nil, s.reject(string(kind), domainagg.NewError(domainagg.CodeInvalidContent, op, "content structure declares no video units", nil))
		}
		payload = jobstatus.GeneratePayload{ContentPath: project.ContentPath, UnitKeys: keys}
		required = len(keys)
	}
	encoded, err := jobstatus.EncodePayload(payload)
	if err != nil {
		return nil, s.reject(string(kind), domainagg.Wrap(domainagg.CodeInternal, op, err))
	}

	res, err := s.queue.Admit(ctx, domainagg.AdmitInput{
		OwnerUserID:   in.OwnerUserID,
		ProjectID:     project.ID,
		Kind:          string(kind),
		RequiredUnits: required,
		Payload:       encoded,
		AdmittedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, s.reject(string(kind), err)
	}
	observability.Current().IncAdmission(string(kind), "admitted")
	s.log.Info("video job admitted",
		"job_id", res.JobID,
		"project_id", project.ID,
		"owner_user_id", in.OwnerUserID,
		"kind", kind,
		"required_units", res.RequiredUnits,
		"queue_position", res.QueuePosition,
	)

	if job, err := s.jobs.GetByID(dbc, res.JobID); err == nil && job != nil {
		s.notify.JobChanged(ctx, job)
	}
	s.notify.BalanceChanged(ctx, in.OwnerUserID)

	return &SubmitResult{
		JobID:         res.JobID,
		Kind:          string(kind),
		RequiredUnits: res.RequiredUnits,
		QueuePosition: res.QueuePosition,
		Available:     res.Available,
	}, nil
}

// mergeSources collects the clips of the latest completed generation for the
// project in production order.
func (s *admissionService) mergeSources(dbc dbctx.Context, projectID uuid.UUID) ([]string, uuid.UUID, error) {
	const op = "Services.Admission.Submit"
	source, err := s.jobs.GetLatestCompletedByProject(dbc, projectID, string(jobstatus.KindGenerate))
	if err != nil {
		return nil, uuid.Nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if source == nil {
		return nil, uuid.Nil, domainagg.NewError(domainagg.CodeInvalidContent, op, "no completed video generation to merge", nil)
	}
	clips, err := s.clips.ListByJob(dbc, source.ID)
	if err != nil {
		return nil, uuid.Nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	urls := make([]string, 0, len(clips))
	for _, c := range clips {
		if u := strings.TrimSpace(c.URL); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, uuid.Nil, domainagg.NewError(domainagg.CodeInvalidContent, op, "completed generation has no clips to merge", nil)
	}
	return urls, source.ID, nil
}

func (s *admissionService) reject(kind string, err error) error {
	code := domainagg.CodeOf(err)
	if code == "" {
		code = domainagg.CodeInternal
	}
	observability.Current().IncAdmission(kind, string(code))
	if code == domainagg.CodeInternal || code == domainagg.CodeRetryable {
		s.log.Error("video job admission failed", "kind", kind, "error", err)
	} else {
		s.log.Debug("video job rejected", "kind", kind, "code", code, "error", err)
	}
	return err
}
