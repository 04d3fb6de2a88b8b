package aggregates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
)

type VideoQueueAggregateDeps struct {
	Base BaseDeps

	Jobs         repos.VideoJobRepo
	Clips        repos.VideoJobClipRepo
	Reservations repos.TokenReservationRepo
	Entries      repos.TokenLedgerEntryRepo
	Balances     repos.TokenBalanceRepo
}

type videoQueueAggregate struct {
	deps VideoQueueAggregateDeps
}

func NewVideoQueueAggregate(deps VideoQueueAggregateDeps) domainagg.VideoQueueAggregate {
	deps.Base = deps.Base.withDefaults()
	return &videoQueueAggregate{deps: deps}
}

func (a *videoQueueAggregate) Contract() domainagg.Contract {
	return domainagg.VideoQueueAggregateContract
}

func (a *videoQueueAggregate) configured() bool {
	return a.deps.Jobs != nil && a.deps.Clips != nil && a.deps.Reservations != nil &&
		a.deps.Entries != nil && a.deps.Balances != nil
}

func (a *videoQueueAggregate) Admit(ctx context.Context, in domainagg.AdmitInput) (domainagg.AdmitResult, error) {
	const op = "Jobs.VideoQueue.Admit"
	var out domainagg.AdmitResult

	if in.OwnerUserID == uuid.Nil || in.ProjectID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing owner or project id", nil)
	}
	kind, ok := jobstatus.ParseKind(in.Kind)
	if !ok {
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unknown job kind %q", in.Kind), nil)
	}
	if in.RequiredUnits <= 0 {
		return out, domainagg.NewError(domainagg.CodeInvalidContent, op, "content has no work units", nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	admittedAt := in.AdmittedAt.UTC()
	if in.AdmittedAt.IsZero() {
		admittedAt = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if err := lockQueue(dbc); err != nil {
			return err
		}
		active, err := a.deps.Jobs.GetActiveByProject(dbc, in.ProjectID)
		if err != nil {
			return err
		}
		if active != nil {
			return domainagg.NewError(domainagg.CodeConflict, op,
				fmt.Sprintf("a video job for this project is already in the system (status: %s)", active.Status), nil)
		}

		balance, err := a.deps.Balances.LockForUpdate(dbc, in.OwnerUserID)
		if err != nil {
			return err
		}
		reserved, err := outstandingHolds(dbc, a.deps.Reservations, a.deps.Entries, in.OwnerUserID)
		if err != nil {
			return err
		}
		available := balance - reserved
		if available < in.RequiredUnits {
			return domainagg.NewError(domainagg.CodeInsufficientResources, op,
				fmt.Sprintf("insufficient tokens: %d required, %d available", in.RequiredUnits, available), nil)
		}

		maxPos, err := a.deps.Jobs.MaxQueuePosition(dbc)
		if err != nil {
			return err
		}
		pos := maxPos + 1
		job := &types.VideoJob{
			ID:            uuid.New(),
			OwnerUserID:   in.OwnerUserID,
			ProjectID:     in.ProjectID,
			Kind:          string(kind),
			Status:        jobstatus.StatusQueued,
			RequiredUnits: in.RequiredUnits,
			QueuePosition: &pos,
			Payload:       in.Payload,
			CreatedAt:     admittedAt,
			UpdatedAt:     admittedAt,
		}
		if len(job.Payload) == 0 {
			job.Payload = []byte("{}")
		}
		if err := a.deps.Jobs.Create(dbc, job); err != nil {
			return err
		}
		if err := a.deps.Reservations.Create(dbc, &types.TokenReservation{
			OwnerUserID: in.OwnerUserID,
			JobID:       job.ID,
			Amount:      -in.RequiredUnits,
			Kind:        domainledger.KindReserved,
			CreatedAt:   admittedAt,
		}); err != nil {
			return err
		}

		out = domainagg.AdmitResult{
			JobID:         job.ID,
			RequiredUnits: in.RequiredUnits,
			QueuePosition: pos,
			Available:     available - in.RequiredUnits,
		}
		return nil
	})
	return out, err
}

func (a *videoQueueAggregate) ClaimNext(ctx context.Context, now time.Time) (domainagg.ClaimResult, error) {
	const op = "Jobs.VideoQueue.ClaimNext"
	var out domainagg.ClaimResult
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if err := lockQueue(dbc); err != nil {
			return err
		}
		busy, err := a.deps.Jobs.CountByStatus(dbc, jobstatus.BusyStatuses)
		if err != nil {
			return err
		}
		if busy > 0 {
			out.Busy = true
			return nil
		}
		job, err := a.deps.Jobs.ClaimHead(dbc, now)
		if err != nil {
			return err
		}
		out.Job = job
		return nil
	})
	return out, err
}

func (a *videoQueueAggregate) MarkRunning(ctx context.Context, in domainagg.MarkRunningInput) (domainagg.TransitionResult, error) {
	const op = "Jobs.VideoQueue.MarkRunning"
	var out domainagg.TransitionResult
	handle := strings.TrimSpace(in.Handle)
	if in.JobID == uuid.Nil || handle == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing job id or execution handle", nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	at := nowOr(in.At)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		job, err := a.deps.Jobs.LockByID(dbc, in.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
		}
		if job.Status != jobstatus.StatusProcessing {
			out.Job = job
			return nil
		}
		ok, err := a.deps.Base.CASGuard.TransitionJob(dbc, job.ID, []string{jobstatus.StatusProcessing}, map[string]interface{}{
			"status":           jobstatus.StatusRunning,
			"execution_handle": handle,
			"queue_position":   nil,
			"updated_at":       at,
		})
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "video job left processing during handle attach"); err != nil {
			return err
		}
		out.Applied = true
		out.Job, err = a.deps.Jobs.GetByID(dbc, job.ID)
		return err
	})
	return out, err
}

func (a *videoQueueAggregate) FailDispatch(ctx context.Context, in domainagg.FailDispatchInput) (domainagg.TransitionResult, error) {
	const op = "Jobs.VideoQueue.FailDispatch"
	var out domainagg.TransitionResult
	if in.JobID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing job id", nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		msg = "dispatch failed"
	}
	at := nowOr(in.At)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		job, err := a.deps.Jobs.LockByID(dbc, in.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
		}
		if job.Status != jobstatus.StatusProcessing {
			out.Job = job
			return nil
		}
		ok, err := a.deps.Base.CASGuard.TransitionJob(dbc, job.ID, []string{jobstatus.StatusProcessing}, map[string]interface{}{
			"status":         jobstatus.StatusError,
			"error":          msg,
			"queue_position": nil,
			"start_time":     nil,
			"end_time":       at,
			"updated_at":     at,
		})
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "video job left processing during dispatch failure"); err != nil {
			return err
		}
		released, err := a.release(dbc, job.ID)
		if err != nil {
			return err
		}
		out.Applied = true
		out.ReleasedUnits = released
		out.Job, err = a.deps.Jobs.GetByID(dbc, job.ID)
		return err
	})
	return out, err
}

func (a *videoQueueAggregate) Settle(ctx context.Context, in domainagg.SettleInput) (domainagg.TransitionResult, error) {
	const op = "Jobs.VideoQueue.Settle"
	var out domainagg.TransitionResult
	if in.JobID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing job id", nil)
	}
	if in.Outcome != domainagg.OutcomeSucceeded && in.Outcome != domainagg.OutcomeFailed {
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unknown outcome %q", in.Outcome), nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	at := nowOr(in.At)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		job, err := a.deps.Jobs.LockByID(dbc, in.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
		}
		if jobstatus.IsTerminal(job.Status) {
			out.Job = job
			return nil
		}
		if err := RequireStatusAllowed(job.Status, jobstatus.StatusRunning); err != nil {
			return err
		}

		if err := a.storeClips(dbc, job.ID, in.Clips, at); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"end_time":   at,
			"updated_at": at,
		}
		if in.Outcome == domainagg.OutcomeSucceeded {
			updates["status"] = jobstatus.StatusCompleted
			updates["error"] = nil
			if url := strings.TrimSpace(in.FinalOutputURL); url != "" {
				updates["final_output_url"] = url
			}
		} else {
			msg := strings.TrimSpace(in.Message)
			if msg == "" {
				msg = "Unknown workflow error"
			}
			updates["status"] = jobstatus.StatusError
			updates["error"] = msg
		}
		ok, err := a.deps.Base.CASGuard.TransitionJob(dbc, job.ID, []string{jobstatus.StatusRunning}, updates)
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "video job left running during settlement"); err != nil {
			return err
		}
		released, err := a.release(dbc, job.ID)
		if err != nil {
			return err
		}
		out.Applied = true
		out.ReleasedUnits = released
		out.Job, err = a.deps.Jobs.GetByID(dbc, job.ID)
		return err
	})
	return out, err
}

// RefreshClips is the non-terminal half of Settle: it records produced units a
// status poll reported for a running job without debiting.
func (a *videoQueueAggregate) RefreshClips(ctx context.Context, jobID uuid.UUID, clips []domainagg.ClipInput) error {
	const op = "Jobs.VideoQueue.RefreshClips"
	if jobID == uuid.Nil || len(clips) == 0 {
		return nil
	}
	at := time.Now().UTC()
	return executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		job, err := a.deps.Jobs.LockByID(dbc, jobID)
		if err != nil {
			return err
		}
		if job == nil || job.Status != jobstatus.StatusRunning {
			return nil
		}
		return a.storeClips(dbc, jobID, clips, at)
	})
}

func (a *videoQueueAggregate) RecordClip(ctx context.Context, in domainagg.RecordClipInput) (domainagg.RecordClipResult, error) {
	const op = "Jobs.VideoQueue.RecordClip"
	var out domainagg.RecordClipResult
	unitKey := strings.TrimSpace(in.Clip.UnitKey)
	if in.JobID == uuid.Nil || unitKey == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing job id or unit key", nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	at := nowOr(in.ProducedAt)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		job, err := a.deps.Jobs.LockByID(dbc, in.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
		}
		out.Job = job
		if job.Status != jobstatus.StatusProcessing && job.Status != jobstatus.StatusRunning {
			return nil
		}

		inserted, err := a.deps.Clips.Insert(dbc, &types.VideoJobClip{
			JobID:      job.ID,
			UnitKey:    unitKey,
			Seq:        in.Clip.Seq,
			URL:        strings.TrimSpace(in.Clip.URL),
			ProducedAt: at,
		})
		if err != nil {
			return err
		}
		out.Inserted = inserted

		sums, err := a.deps.Entries.SumChangeByJobs(dbc, []uuid.UUID{job.ID}, domainledger.EntryUsage)
		if err != nil {
			return err
		}
		if -sums[job.ID] >= job.RequiredUnits {
			return nil
		}
		jobID := job.ID
		key := usageDedupeKey(job.ID, unitKey)
		posted, err := a.deps.Entries.Append(dbc, &types.TokenLedgerEntry{
			OwnerUserID: job.OwnerUserID,
			Date:        at,
			Change:      -1,
			Reason:      fmt.Sprintf("video clip %s produced", unitKey),
			Kind:        domainledger.EntryUsage,
			JobID:       &jobID,
			UnitKey:     &unitKey,
			DedupeKey:   &key,
		})
		if err != nil {
			return err
		}
		if !posted {
			return nil
		}
		if err := a.deps.Balances.Add(dbc, job.OwnerUserID, -1); err != nil {
			return err
		}
		out.Debited = true
		return nil
	})
	return out, err
}

func (a *videoQueueAggregate) Cancel(ctx context.Context, in domainagg.CancelInput) (domainagg.CancelResult, error) {
	const op = "Jobs.VideoQueue.Cancel"
	var out domainagg.CancelResult
	if in.JobID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing job id", nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	at := nowOr(in.At)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if err := lockQueue(dbc); err != nil {
			return err
		}
		job, err := a.deps.Jobs.LockByID(dbc, in.JobID)
		if err != nil {
			return err
		}
		if job == nil || (in.OwnerUserID != uuid.Nil && job.OwnerUserID != in.OwnerUserID) {
			return domainagg.NewError(domainagg.CodeNotFound, op, "video job not found", nil)
		}
		if job.Status != jobstatus.StatusQueued {
			return domainagg.NewError(domainagg.CodeInvalidState, op, cancelRefusal(job.Status), nil)
		}

		ok, err := a.deps.Base.CASGuard.TransitionJob(dbc, job.ID, []string{jobstatus.StatusQueued}, map[string]interface{}{
			"status":         jobstatus.StatusCancelled,
			"queue_position": nil,
			"end_time":       at,
			"updated_at":     at,
		})
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "video job left the queue during cancellation"); err != nil {
			return err
		}
		released, err := a.release(dbc, job.ID)
		if err != nil {
			return err
		}
		jobID := job.ID
		key := "cancellation:" + job.ID.String()
		if _, err := a.deps.Entries.Append(dbc, &types.TokenLedgerEntry{
			OwnerUserID: job.OwnerUserID,
			Date:        at,
			Change:      0,
			Reason:      fmt.Sprintf("video job cancelled, %d reserved tokens released", released),
			Kind:        domainledger.EntryCancellation,
			JobID:       &jobID,
			DedupeKey:   &key,
		}); err != nil {
			return err
		}
		if err := a.deps.Jobs.Renumber(dbc); err != nil {
			return err
		}
		out.ReservationUnitsReleased = released
		out.Job, err = a.deps.Jobs.GetByID(dbc, job.ID)
		return err
	})
	return out, err
}

func (a *videoQueueAggregate) RecoverStale(ctx context.Context, in domainagg.RecoverStaleInput) (domainagg.RecoverStaleResult, error) {
	const op = "Jobs.VideoQueue.RecoverStale"
	var out domainagg.RecoverStaleResult
	if in.ClaimedBefore.IsZero() {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing claim cutoff", nil)
	}
	if !a.configured() {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "video queue aggregate repos not configured", nil)
	}
	at := nowOr(in.At)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if err := lockQueue(dbc); err != nil {
			return err
		}
		stale, err := a.deps.Jobs.ListStaleProcessing(dbc, in.ClaimedBefore.UTC())
		if err != nil {
			return err
		}
		for _, job := range stale {
			if job.StartTime != nil && job.StartTime.After(in.RequeueAfter) {
				if err := a.deps.Jobs.OpenHead(dbc); err != nil {
					return err
				}
				ok, err := a.deps.Base.CASGuard.TransitionJob(dbc, job.ID, []string{jobstatus.StatusProcessing}, map[string]interface{}{
					"status":         jobstatus.StatusQueued,
					"queue_position": 1,
					"start_time":     nil,
					"updated_at":     at,
				})
				if err != nil {
					return err
				}
				if ok {
					out.Requeued = append(out.Requeued, job.ID)
				}
				continue
			}
			ok, err := a.deps.Base.CASGuard.TransitionJob(dbc, job.ID, []string{jobstatus.StatusProcessing}, map[string]interface{}{
				"status":     jobstatus.StatusError,
				"error":      "dispatch was interrupted before the executor accepted the job",
				"start_time": nil,
				"end_time":   at,
				"updated_at": at,
			})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if _, err := a.release(dbc, job.ID); err != nil {
				return err
			}
			out.Failed = append(out.Failed, job.ID)
		}
		return a.deps.Jobs.Renumber(dbc)
	})
	return out, err
}

// release deletes the job's reservation. Only the call that actually removes
// the row reports units, so repeated settlement releases nothing.
func (a *videoQueueAggregate) release(dbc dbctx.Context, jobID uuid.UUID) (int, error) {
	res, err := a.deps.Reservations.GetByJob(dbc, jobID)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	deleted, err := a.deps.Reservations.DeleteByJob(dbc, jobID)
	if err != nil {
		return 0, err
	}
	if !deleted {
		return 0, nil
	}
	return res.Held(), nil
}

func (a *videoQueueAggregate) storeClips(dbc dbctx.Context, jobID uuid.UUID, clips []domainagg.ClipInput, at time.Time) error {
	for _, c := range clips {
		key := strings.TrimSpace(c.UnitKey)
		if key == "" {
			continue
		}
		url := strings.TrimSpace(c.URL)
		inserted, err := a.deps.Clips.Insert(dbc, &types.VideoJobClip{
			JobID:      jobID,
			UnitKey:    key,
			Seq:        c.Seq,
			URL:        url,
			ProducedAt: at,
		})
		if err != nil {
			return err
		}
		if !inserted && url != "" {
			if err := a.deps.Clips.UpdateURL(dbc, jobID, key, url); err != nil {
				return err
			}
		}
	}
	return nil
}

func usageDedupeKey(jobID uuid.UUID, unitKey string) string {
	return "usage:" + jobID.String() + ":" + unitKey
}

func cancelRefusal(status string) string {
	switch status {
	case jobstatus.StatusProcessing, jobstatus.StatusRunning:
		return fmt.Sprintf("video job is already %s and cannot be cancelled", status)
	default:
		return fmt.Sprintf("only queued video jobs can be cancelled (status: %s)", status)
	}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
