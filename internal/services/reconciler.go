package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	"github.com/yungbote/videoqueue-backend/internal/executor"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

const (
	TriggerPoll     = "poll"
	TriggerCallback = "callback"
)

// JobView is what a status request returns for one job.
type JobView struct {
	Job         *types.VideoJob       `json:"job"`
	Clips       []*types.VideoJobClip `json:"clips"`
	QueuedAhead *int                  `json:"queued_ahead,omitempty"`
}

// ClipCallback is one per-unit completion pushed by the executor. Either
// JobID or Handle identifies the job.
type ClipCallback struct {
	JobID      uuid.UUID `json:"job_id"`
	Handle     string    `json:"execution_id"`
	UnitKey    string    `json:"unit_key"`
	Seq        int       `json:"seq"`
	URL        string    `json:"url"`
	ProducedAt time.Time `json:"produced_at"`
}

// FinalCallback is the executor's terminal notification.
type FinalCallback struct {
	JobID         uuid.UUID               `json:"job_id"`
	Handle        string                  `json:"execution_id"`
	Outcome       string                  `json:"outcome"`
	FinalOutput   string                  `json:"final_output"`
	ProducedUnits []executor.ProducedUnit `json:"produced_units"`
	Error         string                  `json:"error"`
}

type ClipCallbackResult struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	Inserted bool      `json:"inserted"`
	Debited  bool      `json:"debited"`
}

// Reconciler folds the executor's view of a job back into durable state.
// Status polls and inbound callbacks share one idempotent apply path.
type Reconciler interface {
	Reconcile(ctx context.Context, jobID uuid.UUID) (*JobView, error)
	ViewForOwner(ctx context.Context, ownerUserID, jobID uuid.UUID) (*JobView, error)
	LatestForProject(ctx context.Context, ownerUserID, projectID uuid.UUID) (*JobView, error)
	HandleClipCallback(ctx context.Context, in ClipCallback) (*ClipCallbackResult, error)
	HandleFinalCallback(ctx context.Context, in FinalCallback) (*JobView, error)
}

type reconciler struct {
	db     *gorm.DB
	log    *logger.Logger
	jobs   repos.VideoJobRepo
	clips  repos.VideoJobClipRepo
	queue  domainagg.VideoQueueAggregate
	exec   executor.Executor
	notify VideoJobNotifier
}

func NewReconciler(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.VideoJobRepo,
	clips repos.VideoJobClipRepo,
	queue domainagg.VideoQueueAggregate,
	exec executor.Executor,
	notify VideoJobNotifier,
) Reconciler {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &reconciler{
		db:     db,
		log:    baseLog.With("service", "Reconciler"),
		jobs:   jobs,
		clips:  clips,
		queue:  queue,
		exec:   exec,
		notify: notify,
	}
}

func (r *reconciler) ViewForOwner(ctx context.Context, ownerUserID, jobID uuid.UUID) (*JobView, error) {
	const op = "Services.Reconciler.ViewForOwner"
	job, err := r.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if job == nil || job.OwnerUserID != ownerUserID {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
	}
	return r.reconcileJob(ctx, job)
}

func (r *reconciler) LatestForProject(ctx context.Context, ownerUserID, projectID uuid.UUID) (*JobView, error) {
	const op = "Services.Reconciler.LatestForProject"
	job, err := r.jobs.GetLatestByProject(dbctx.Context{Ctx: ctx}, projectID)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if job == nil || job.OwnerUserID != ownerUserID {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "no video job for this project", nil)
	}
	return r.reconcileJob(ctx, job)
}

func (r *reconciler) Reconcile(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	const op = "Services.Reconciler.Reconcile"
	job, err := r.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if job == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
	}
	return r.reconcileJob(ctx, job)
}

func (r *reconciler) reconcileJob(ctx context.Context, job *types.VideoJob) (*JobView, error) {
	ctx, span := observability.Tracer().Start(ctx, "reconciler.poll")
	defer span.End()
	span.SetAttributes(attribute.String("video_job.id", job.ID.String()), attribute.String("video_job.status", job.Status))

	// terminal and pre-dispatch jobs never reach the executor
	if jobstatus.IsTerminal(job.Status) || job.ExecutionHandle == nil || r.exec == nil {
		return r.view(ctx, job)
	}
	if job.Status != jobstatus.StatusRunning {
		return r.view(ctx, job)
	}

	report, err := r.exec.Status(ctx, *job.ExecutionHandle)
	if err != nil {
		// the job stays running; the next status request retries
		observability.Current().IncReconcile(TriggerPoll, "executor_error")
		r.log.Warn("executor status check failed", "job_id", job.ID, "handle", *job.ExecutionHandle, "error", err)
		return r.view(ctx, job)
	}
	updated, err := r.apply(ctx, job, report, TriggerPoll)
	if err != nil {
		observability.Current().IncReconcile(TriggerPoll, "store_error")
		r.log.Error("apply executor status failed", "job_id", job.ID, "error", err)
		return r.view(ctx, job)
	}
	return r.view(ctx, updated)
}

// apply maps one executor report onto the aggregate. Settling a job that is
// already terminal is a no-op inside the aggregate, so repeats are harmless.
func (r *reconciler) apply(ctx context.Context, job *types.VideoJob, report *executor.StatusReport, trigger string) (*types.VideoJob, error) {
	now := time.Now().UTC()
	clips := clipInputs(report.ProducedUnits)

	if !report.NotFound && (!report.Finished || report.Outcome == executor.OutcomeRunning) {
		if err := r.queue.RefreshClips(ctx, job.ID, clips); err != nil {
			return nil, err
		}
		observability.Current().IncReconcile(trigger, "running")
		return job, nil
	}

	in := domainagg.SettleInput{JobID: job.ID, Clips: clips, At: now}
	switch {
	case report.NotFound:
		in.Outcome = domainagg.OutcomeFailed
		in.Message = "execution not found"
	case report.Outcome == executor.OutcomeSucceeded:
		in.Outcome = domainagg.OutcomeSucceeded
		in.FinalOutputURL = report.FinalOutput
	default:
		in.Outcome = domainagg.OutcomeFailed
		in.Message = report.ErrorDetail
	}

	res, err := r.queue.Settle(ctx, in)
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		observability.Current().IncReconcile(trigger, "noop")
		return res.Job, nil
	}
	observability.Current().IncReconcile(trigger, string(in.Outcome))
	r.log.Info("video job settled",
		"job_id", job.ID,
		"trigger", trigger,
		"outcome", in.Outcome,
		"released_units", res.ReleasedUnits,
	)
	r.notify.JobChanged(ctx, res.Job)
	r.notify.BalanceChanged(ctx, job.OwnerUserID)
	return res.Job, nil
}

func (r *reconciler) HandleClipCallback(ctx context.Context, in ClipCallback) (*ClipCallbackResult, error) {
	const op = "Services.Reconciler.HandleClipCallback"
	ctx, span := observability.Tracer().Start(ctx, "reconciler.clip_callback")
	defer span.End()

	job, err := r.resolve(ctx, op, in.JobID, in.Handle)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("video_job.id", job.ID.String()), attribute.String("unit_key", in.UnitKey))

	res, err := r.queue.RecordClip(ctx, domainagg.RecordClipInput{
		JobID:      job.ID,
		Clip:       domainagg.ClipInput{UnitKey: in.UnitKey, Seq: in.Seq, URL: in.URL},
		ProducedAt: in.ProducedAt,
	})
	if err != nil {
		observability.Current().IncReconcile(TriggerCallback, "store_error")
		return nil, err
	}
	out := &ClipCallbackResult{JobID: job.ID, Status: job.Status, Inserted: res.Inserted, Debited: res.Debited}
	if res.Job != nil {
		out.Status = res.Job.Status
	}
	if res.Inserted {
		r.notify.ClipProduced(ctx, res.Job, strings.TrimSpace(in.UnitKey), strings.TrimSpace(in.URL))
	}
	if res.Debited {
		observability.Current().ObserveLedgerPosting("usage", -1)
		r.notify.BalanceChanged(ctx, job.OwnerUserID)
	}
	outcome := "duplicate"
	if res.Inserted || res.Debited {
		outcome = "clip"
	}
	observability.Current().IncReconcile(TriggerCallback, outcome)
	return out, nil
}

func (r *reconciler) HandleFinalCallback(ctx context.Context, in FinalCallback) (*JobView, error) {
	const op = "Services.Reconciler.HandleFinalCallback"
	ctx, span := observability.Tracer().Start(ctx, "reconciler.final_callback")
	defer span.End()

	job, err := r.resolve(ctx, op, in.JobID, in.Handle)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("video_job.id", job.ID.String()), attribute.String("outcome", in.Outcome))
	if jobstatus.IsTerminal(job.Status) {
		observability.Current().IncReconcile(TriggerCallback, "noop")
		return r.view(ctx, job)
	}

	outcome, err := finalOutcome(op, in)
	if err != nil {
		return nil, err
	}
	report := &executor.StatusReport{
		Finished:      true,
		Outcome:       outcome,
		ProducedUnits: in.ProducedUnits,
		FinalOutput:   strings.TrimSpace(in.FinalOutput),
		ErrorDetail:   strings.TrimSpace(in.Error),
	}
	updated, err := r.apply(ctx, job, report, TriggerCallback)
	if err != nil {
		observability.Current().IncReconcile(TriggerCallback, "store_error")
		return nil, err
	}
	return r.view(ctx, updated)
}

// finalOutcome reads the outcome of a final callback. A callback without an
// outcome is a success when it delivers the final output and a failure when it
// carries an error; one with neither says nothing and is rejected.
func finalOutcome(op string, in FinalCallback) (executor.Outcome, error) {
	raw := strings.ToLower(strings.TrimSpace(in.Outcome))
	if raw != "" {
		return executor.NormalizeOutcome(raw, true), nil
	}
	switch {
	case strings.TrimSpace(in.FinalOutput) != "":
		return executor.OutcomeSucceeded, nil
	case strings.TrimSpace(in.Error) != "":
		return executor.OutcomeFailed, nil
	}
	return "", domainagg.NewError(domainagg.CodeValidation, op, "final callback carries no outcome, final output or error", nil)
}

func (r *reconciler) resolve(ctx context.Context, op string, jobID uuid.UUID, handle string) (*types.VideoJob, error) {
	dbc := dbctx.Context{Ctx: ctx}
	var (
		job *types.VideoJob
		err error
	)
	switch {
	case jobID != uuid.Nil:
		job, err = r.jobs.GetByID(dbc, jobID)
	case strings.TrimSpace(handle) != "":
		job, err = r.jobs.GetByHandle(dbc, strings.TrimSpace(handle))
	default:
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "callback names neither job_id nor execution_id", nil)
	}
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if job == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
	}
	return job, nil
}

func (r *reconciler) view(ctx context.Context, job *types.VideoJob) (*JobView, error) {
	const op = "Services.Reconciler.View"
	dbc := dbctx.Context{Ctx: ctx}
	clips, err := r.clips.ListByJob(dbc, job.ID)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if clips == nil {
		clips = []*types.VideoJobClip{}
	}
	v := &JobView{Job: job, Clips: clips}
	if job.Status == jobstatus.StatusQueued && job.QueuePosition != nil {
		ahead := *job.QueuePosition - 1
		if ahead < 0 {
			ahead = 0
		}
		v.QueuedAhead = &ahead
	}
	return v, nil
}

func clipInputs(units []executor.ProducedUnit) []domainagg.ClipInput {
	if len(units) == 0 {
		return nil
	}
	out := make([]domainagg.ClipInput, 0, len(units))
	for _, u := range units {
		if strings.TrimSpace(u.UnitKey) == "" {
			continue
		}
		out = append(out, domainagg.ClipInput{UnitKey: u.UnitKey, Seq: u.Seq, URL: u.URL})
	}
	return out
}
