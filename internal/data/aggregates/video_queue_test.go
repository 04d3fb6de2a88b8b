package aggregates_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/aggregates"
	aggtestutil "github.com/yungbote/videoqueue-backend/internal/data/aggregates/testutil"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	"github.com/yungbote/videoqueue-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
)

type fixture struct {
	db     *gorm.DB
	repos  fixtureRepos
	queue  domainagg.VideoQueueAggregate
	ledger domainagg.TokenLedgerAggregate
	hooks  *aggtestutil.HooksRecorder
}

type fixtureRepos struct {
	jobs         repos.VideoJobRepo
	clips        repos.VideoJobClipRepo
	reservations repos.TokenReservationRepo
	entries      repos.TokenLedgerEntryRepo
	balances     repos.TokenBalanceRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := fixtureRepos{
		jobs:         repos.NewVideoJobRepo(db, log),
		clips:        repos.NewVideoJobClipRepo(db, log),
		reservations: repos.NewTokenReservationRepo(db, log),
		entries:      repos.NewTokenLedgerEntryRepo(db, log),
		balances:     repos.NewTokenBalanceRepo(db, log),
	}
	hooks := &aggtestutil.HooksRecorder{}
	base := aggregates.BaseDeps{DB: db, Log: log, Hooks: hooks}
	return &fixture{
		db:    db,
		repos: r,
		hooks: hooks,
		queue: aggregates.NewVideoQueueAggregate(aggregates.VideoQueueAggregateDeps{
			Base:         base,
			Jobs:         r.jobs,
			Clips:        r.clips,
			Reservations: r.reservations,
			Entries:      r.entries,
			Balances:     r.balances,
		}),
		ledger: aggregates.NewTokenLedgerAggregate(aggregates.TokenLedgerAggregateDeps{
			Base:         base,
			Reservations: r.reservations,
			Entries:      r.entries,
			Balances:     r.balances,
		}),
	}
}

func (f *fixture) dbc() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func (f *fixture) credit(t *testing.T, owner uuid.UUID, n int) {
	t.Helper()
	if _, err := f.ledger.Credit(context.Background(), domainagg.CreditInput{
		OwnerUserID: owner, Change: n, Kind: domainledger.EntryPurchase, Reason: "test purchase",
	}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func (f *fixture) admit(t *testing.T, owner uuid.UUID, units int) domainagg.AdmitResult {
	t.Helper()
	res, err := f.queue.Admit(context.Background(), domainagg.AdmitInput{
		OwnerUserID:   owner,
		ProjectID:     uuid.New(),
		Kind:          string(jobstatus.KindGenerate),
		RequiredUnits: units,
	})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return res
}

func (f *fixture) snapshot(t *testing.T, owner uuid.UUID) domainagg.BalanceSnapshot {
	t.Helper()
	s, err := f.ledger.Snapshot(context.Background(), owner)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if s.Available < 0 {
		t.Fatalf("conservation violated: %+v", s)
	}
	return s
}

func (f *fixture) assertDenseQueue(t *testing.T) {
	t.Helper()
	queued, err := f.repos.jobs.ListQueued(f.dbc())
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	for i, j := range queued {
		if j.QueuePosition == nil || *j.QueuePosition != i+1 {
			t.Fatalf("queue not dense at index %d: %+v", i, j.QueuePosition)
		}
	}
}

func (f *fixture) dispatch(t *testing.T, handle string) *types.VideoJob {
	t.Helper()
	claim, err := f.queue.ClaimNext(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claim.Job == nil {
		t.Fatalf("ClaimNext: expected a job (busy=%v)", claim.Busy)
	}
	res, err := f.queue.MarkRunning(context.Background(), domainagg.MarkRunningInput{JobID: claim.Job.ID, Handle: handle})
	if err != nil || !res.Applied {
		t.Fatalf("MarkRunning: applied=%v err=%v", res.Applied, err)
	}
	return res.Job
}

func TestAdmitReservesAndRejectsInsufficient(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)

	first := f.admit(t, owner, 3)
	if first.QueuePosition != 1 || first.RequiredUnits != 3 {
		t.Fatalf("first admit: %+v", first)
	}
	if s := f.snapshot(t, owner); s.Balance != 5 || s.Reserved != 3 || s.Available != 2 {
		t.Fatalf("after admit: %+v", s)
	}

	_, err := f.queue.Admit(context.Background(), domainagg.AdmitInput{
		OwnerUserID: owner, ProjectID: uuid.New(), Kind: "generate", RequiredUnits: 3,
	})
	if !domainagg.IsCode(err, domainagg.CodeInsufficientResources) {
		t.Fatalf("expected insufficient_resources, got %v", err)
	}
	msg := domainagg.MessageOf(err)
	if !strings.Contains(msg, "3") || !strings.Contains(msg, "2") {
		t.Fatalf("message must mention required and available: %q", msg)
	}
	f.assertDenseQueue(t)
}

func TestAdmitConflictsOnInFlightProject(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 10)
	projectID := uuid.New()

	in := domainagg.AdmitInput{OwnerUserID: owner, ProjectID: projectID, Kind: "generate", RequiredUnits: 2}
	if _, err := f.queue.Admit(context.Background(), in); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	_, err := f.queue.Admit(context.Background(), in)
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !strings.Contains(domainagg.MessageOf(err), "already in the system") {
		t.Fatalf("conflict message: %q", domainagg.MessageOf(err))
	}
	statuses := f.hooks.StatusesFor("Jobs.VideoQueue.Admit")
	if len(statuses) != 2 || statuses[0] != "success" || statuses[1] != "conflict" {
		t.Fatalf("admit hook statuses: %v", statuses)
	}
	if len(f.hooks.Conflicts) != 1 {
		t.Fatalf("conflict hooks: %v", f.hooks.Conflicts)
	}

	_, err = f.queue.Admit(context.Background(), domainagg.AdmitInput{OwnerUserID: owner, ProjectID: uuid.New(), Kind: "generate"})
	if !domainagg.IsCode(err, domainagg.CodeInvalidContent) {
		t.Fatalf("expected invalid_content for zero units, got %v", err)
	}
}

func TestCancelRenumbersAndReleases(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 10)

	a := f.admit(t, owner, 2)
	b := f.admit(t, owner, 3)
	if a.QueuePosition != 1 || b.QueuePosition != 2 {
		t.Fatalf("positions: a=%d b=%d", a.QueuePosition, b.QueuePosition)
	}

	res, err := f.queue.Cancel(context.Background(), domainagg.CancelInput{JobID: a.JobID, OwnerUserID: owner})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.ReservationUnitsReleased != 2 || res.Job.Status != jobstatus.StatusCancelled || res.Job.QueuePosition != nil {
		t.Fatalf("cancel result: %+v job=%+v", res, res.Job)
	}
	moved, err := f.repos.jobs.GetByID(f.dbc(), b.JobID)
	if err != nil || moved.QueuePosition == nil || *moved.QueuePosition != 1 {
		t.Fatalf("job b should move to position 1: err=%v job=%+v", err, moved)
	}
	if r, _ := f.repos.reservations.GetByJob(f.dbc(), a.JobID); r != nil {
		t.Fatalf("reservation for cancelled job still present")
	}
	if s := f.snapshot(t, owner); s.Balance != 10 || s.Reserved != 3 {
		t.Fatalf("after cancel: %+v", s)
	}
	entries, _ := f.repos.entries.ListByJob(f.dbc(), a.JobID)
	if len(entries) != 1 || entries[0].Change != 0 || entries[0].Kind != domainledger.EntryCancellation {
		t.Fatalf("expected one zero-amount cancellation entry, got %+v", entries)
	}

	_, err = f.queue.Cancel(context.Background(), domainagg.CancelInput{JobID: a.JobID, OwnerUserID: owner})
	if !domainagg.IsCode(err, domainagg.CodeInvalidState) || !strings.Contains(domainagg.MessageOf(err), "cancelled") {
		t.Fatalf("second cancel: %v", err)
	}
	_, err = f.queue.Cancel(context.Background(), domainagg.CancelInput{JobID: uuid.New(), OwnerUserID: owner})
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("cancel unknown: %v", err)
	}
	f.assertDenseQueue(t)
}

func TestCancelRunningJobIsInvalidState(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)
	a := f.admit(t, owner, 2)
	f.dispatch(t, "exec-1")

	_, err := f.queue.Cancel(context.Background(), domainagg.CancelInput{JobID: a.JobID, OwnerUserID: owner})
	if !domainagg.IsCode(err, domainagg.CodeInvalidState) {
		t.Fatalf("expected invalid_state, got %v", err)
	}
	if !strings.Contains(domainagg.MessageOf(err), "running") {
		t.Fatalf("message should state current status: %q", domainagg.MessageOf(err))
	}
}

func TestClaimNextSingleInFlight(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 10)
	first := f.admit(t, owner, 1)
	second := f.admit(t, owner, 1)

	job := f.dispatch(t, "exec-abc")
	if job.ID != first.JobID || job.Status != jobstatus.StatusRunning || job.QueuePosition != nil {
		t.Fatalf("dispatched job: %+v", job)
	}
	if job.ExecutionHandle == nil || *job.ExecutionHandle != "exec-abc" {
		t.Fatalf("handle: %v", job.ExecutionHandle)
	}

	claim, err := f.queue.ClaimNext(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ClaimNext while busy: %v", err)
	}
	if !claim.Busy || claim.Job != nil {
		t.Fatalf("expected busy with no claim, got %+v", claim)
	}
	busy, _ := f.repos.jobs.CountByStatus(f.dbc(), jobstatus.BusyStatuses)
	if busy != 1 {
		t.Fatalf("in-flight count: %d", busy)
	}
	left, _ := f.repos.jobs.GetByID(f.dbc(), second.JobID)
	if left.Status != jobstatus.StatusQueued || *left.QueuePosition != 1 {
		t.Fatalf("second job should be head of queue: %+v", left)
	}
	f.assertDenseQueue(t)
}

func TestFailDispatchReleasesOnce(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 4)
	a := f.admit(t, owner, 4)

	claim, err := f.queue.ClaimNext(context.Background(), time.Now())
	if err != nil || claim.Job == nil {
		t.Fatalf("ClaimNext: %v %+v", err, claim)
	}
	res, err := f.queue.FailDispatch(context.Background(), domainagg.FailDispatchInput{JobID: a.JobID, Message: "executor returned 503"})
	if err != nil || !res.Applied || res.ReleasedUnits != 4 {
		t.Fatalf("FailDispatch: %+v err=%v", res, err)
	}
	if res.Job.Status != jobstatus.StatusError || res.Job.StartTime != nil || res.Job.ExecutionHandle != nil {
		t.Fatalf("failed job state: %+v", res.Job)
	}
	again, err := f.queue.FailDispatch(context.Background(), domainagg.FailDispatchInput{JobID: a.JobID, Message: "x"})
	if err != nil || again.Applied || again.ReleasedUnits != 0 {
		t.Fatalf("repeat FailDispatch: %+v err=%v", again, err)
	}
	if s := f.snapshot(t, owner); s.Reserved != 0 || s.Available != 4 {
		t.Fatalf("after failure: %+v", s)
	}
}

func TestSettleNotFoundIsIdempotent(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 3)
	a := f.admit(t, owner, 3)
	f.dispatch(t, "exec-404")

	in := domainagg.SettleInput{JobID: a.JobID, Outcome: domainagg.OutcomeFailed, Message: "execution not found"}
	res, err := f.queue.Settle(context.Background(), in)
	if err != nil || !res.Applied || res.ReleasedUnits != 3 {
		t.Fatalf("Settle: %+v err=%v", res, err)
	}
	if res.Job.Status != jobstatus.StatusError || res.Job.Error == nil || !strings.Contains(*res.Job.Error, "not found") {
		t.Fatalf("settled job: %+v", res.Job)
	}
	again, err := f.queue.Settle(context.Background(), in)
	if err != nil || again.Applied || again.ReleasedUnits != 0 || again.Job.Status != jobstatus.StatusError {
		t.Fatalf("repeat Settle: %+v err=%v", again, err)
	}
	if r, _ := f.repos.reservations.GetByJob(f.dbc(), a.JobID); r != nil {
		t.Fatalf("reservation should be gone")
	}
}

func TestRecordClipDebitsOncePerUnit(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)
	a := f.admit(t, owner, 2)
	f.dispatch(t, "exec-clips")

	in := domainagg.RecordClipInput{JobID: a.JobID, Clip: domainagg.ClipInput{UnitKey: "1.1", Seq: 1, URL: "https://cdn/1.mp4"}}
	first, err := f.queue.RecordClip(context.Background(), in)
	if err != nil || !first.Inserted || !first.Debited {
		t.Fatalf("first RecordClip: %+v err=%v", first, err)
	}
	dup, err := f.queue.RecordClip(context.Background(), in)
	if err != nil || dup.Inserted || dup.Debited {
		t.Fatalf("duplicate RecordClip: %+v err=%v", dup, err)
	}
	n, _ := f.repos.clips.CountByJob(f.dbc(), a.JobID)
	if n != 1 {
		t.Fatalf("clips: %d", n)
	}
	entries, _ := f.repos.entries.ListByJob(f.dbc(), a.JobID)
	if len(entries) != 1 || entries[0].Change != -1 || entries[0].Kind != domainledger.EntryUsage {
		t.Fatalf("usage entries: %+v", entries)
	}
	// one unit debited, one still held
	if s := f.snapshot(t, owner); s.Balance != 4 || s.Reserved != 1 || s.Available != 3 {
		t.Fatalf("mid-run snapshot: %+v", s)
	}

	res, err := f.queue.Settle(context.Background(), domainagg.SettleInput{
		JobID:          a.JobID,
		Outcome:        domainagg.OutcomeSucceeded,
		Clips:          []domainagg.ClipInput{{UnitKey: "1.1", Seq: 1}, {UnitKey: "1.2", Seq: 2, URL: "https://cdn/2.mp4"}},
		FinalOutputURL: "https://cdn/final.mp4",
	})
	if err != nil || !res.Applied || res.Job.Status != jobstatus.StatusCompleted {
		t.Fatalf("Settle success: %+v err=%v", res, err)
	}
	if res.Job.FinalOutputURL == nil || *res.Job.FinalOutputURL != "https://cdn/final.mp4" {
		t.Fatalf("final output: %v", res.Job.FinalOutputURL)
	}
	if s := f.snapshot(t, owner); s.Balance != 4 || s.Reserved != 0 || s.Available != 4 {
		t.Fatalf("after settle: %+v", s)
	}
	late, err := f.queue.RecordClip(context.Background(), domainagg.RecordClipInput{JobID: a.JobID, Clip: domainagg.ClipInput{UnitKey: "1.2"}})
	if err != nil || late.Inserted || late.Debited {
		t.Fatalf("clip after completion must be a no-op: %+v err=%v", late, err)
	}
}

func TestRecordClipCapsDebitsAtRequiredUnits(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)
	a := f.admit(t, owner, 1)
	f.dispatch(t, "exec-cap")

	for _, key := range []string{"1.1", "1.2", "1.3"} {
		if _, err := f.queue.RecordClip(context.Background(), domainagg.RecordClipInput{JobID: a.JobID, Clip: domainagg.ClipInput{UnitKey: key}}); err != nil {
			t.Fatalf("RecordClip %s: %v", key, err)
		}
	}
	total, _ := f.repos.entries.SumChangeByJobs(f.dbc(), []uuid.UUID{a.JobID}, domainledger.EntryUsage)
	if total[a.JobID] != -1 {
		t.Fatalf("debits must not exceed required units: %d", total[a.JobID])
	}
}

func TestRecoverStaleRequeuesRecentAndFailsOld(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 10)
	recent := f.admit(t, owner, 1)
	waiting := f.admit(t, owner, 1)

	claimedAt := time.Now().Add(-2 * time.Minute)
	if claim, err := f.queue.ClaimNext(context.Background(), claimedAt); err != nil || claim.Job == nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	res, err := f.queue.RecoverStale(context.Background(), domainagg.RecoverStaleInput{
		ClaimedBefore: time.Now().Add(-time.Minute),
		RequeueAfter:  time.Now().Add(-10 * time.Minute),
	})
	if err != nil || len(res.Requeued) != 1 || res.Requeued[0] != recent.JobID {
		t.Fatalf("RecoverStale requeue: %+v err=%v", res, err)
	}
	head, _ := f.repos.jobs.GetByID(f.dbc(), recent.JobID)
	tail, _ := f.repos.jobs.GetByID(f.dbc(), waiting.JobID)
	if *head.QueuePosition != 1 || *tail.QueuePosition != 2 || head.StartTime != nil {
		t.Fatalf("requeued order: head=%+v tail=%+v", head, tail)
	}
	f.assertDenseQueue(t)

	if claim, err := f.queue.ClaimNext(context.Background(), time.Now().Add(-time.Hour)); err != nil || claim.Job == nil || claim.Job.ID != recent.JobID {
		t.Fatalf("reclaim: %v", err)
	}
	res, err = f.queue.RecoverStale(context.Background(), domainagg.RecoverStaleInput{
		ClaimedBefore: time.Now().Add(-time.Minute),
		RequeueAfter:  time.Now().Add(-10 * time.Minute),
	})
	if err != nil || len(res.Failed) != 1 || res.Failed[0] != recent.JobID {
		t.Fatalf("RecoverStale fail: %+v err=%v", res, err)
	}
	if r, _ := f.repos.reservations.GetByJob(f.dbc(), recent.JobID); r != nil {
		t.Fatalf("reservation should be released for failed recovery")
	}
}

func TestAdmitLeavesNoStateWhenReservationInsertFails(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)

	jobInserts := 0
	err := f.db.Callback().Create().Before("gorm:create").Register("test:fail_reservation", func(tx *gorm.DB) {
		switch tx.Statement.Table {
		case "video_job":
			jobInserts++
		case "token_reservation":
			tx.AddError(errors.New("reservation insert failed"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = f.queue.Admit(context.Background(), domainagg.AdmitInput{
		OwnerUserID: owner, ProjectID: uuid.New(), Kind: "generate", RequiredUnits: 2,
	})
	if err == nil || !strings.Contains(err.Error(), "reservation insert failed") {
		t.Fatalf("expected reservation failure, got %v", err)
	}
	if jobInserts != 1 {
		t.Fatalf("job insert should run before the reservation insert: %d", jobInserts)
	}
	queued, err := f.repos.jobs.ListQueued(f.dbc())
	if err != nil || len(queued) != 0 {
		t.Fatalf("no job may survive a failed admission: err=%v got=%d", err, len(queued))
	}
	var jobs int64
	if err := f.db.Model(&types.VideoJob{}).Count(&jobs).Error; err != nil || jobs != 0 {
		t.Fatalf("video_job rows: err=%v got=%d", err, jobs)
	}
	if s := f.snapshot(t, owner); s.Reserved != 0 || s.Balance != 5 {
		t.Fatalf("no reservation may remain: %+v", s)
	}
}

func TestTransitionJobFollowsStateMachine(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)
	res := f.admit(t, owner, 1)
	guard := aggregates.NewCASGuard(f.db)
	dbc := f.dbc()

	// queued -> completed skips dispatch
	ok, err := guard.TransitionJob(dbc, res.JobID, []string{jobstatus.StatusQueued}, map[string]any{"status": jobstatus.StatusCompleted})
	if ok || !domainagg.IsCode(aggregates.MapError("test", err), domainagg.CodeInvalidState) {
		t.Fatalf("illegal transition: ok=%v err=%v", ok, err)
	}
	if _, err := guard.TransitionJob(dbc, res.JobID, []string{jobstatus.StatusQueued}, map[string]any{}); !domainagg.IsCode(aggregates.MapError("test", err), domainagg.CodeValidation) {
		t.Fatalf("missing target status: %v", err)
	}

	ok, err = guard.TransitionJob(dbc, res.JobID, []string{jobstatus.StatusQueued}, map[string]any{
		"status":         jobstatus.StatusCancelled,
		"queue_position": nil,
	})
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	// a cancelled job is no longer queued, so the guard matches nothing
	ok, err = guard.TransitionJob(dbc, res.JobID, []string{jobstatus.StatusQueued}, map[string]any{"status": jobstatus.StatusProcessing})
	if err != nil || ok {
		t.Fatalf("resurrect cancelled: ok=%v err=%v", ok, err)
	}
	job, err := f.repos.jobs.GetByID(dbc, res.JobID)
	if err != nil || job == nil || job.Status != jobstatus.StatusCancelled {
		t.Fatalf("job after transitions: %+v err=%v", job, err)
	}
}

func TestCreditRejectsDebitBelowHolds(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)
	f.admit(t, owner, 4)

	_, err := f.ledger.Credit(context.Background(), domainagg.CreditInput{
		OwnerUserID: owner, Change: -2, Kind: domainledger.EntryAdminAdjustment, Reason: "chargeback",
	})
	if !domainagg.IsCode(err, domainagg.CodeInsufficientResources) {
		t.Fatalf("expected insufficient_resources, got %v", err)
	}
	res, err := f.ledger.Credit(context.Background(), domainagg.CreditInput{
		OwnerUserID: owner, Change: 3, Kind: domainledger.EntryPurchase, DedupeKey: "order-1",
	})
	if err != nil || !res.Posted || res.Balance != 8 {
		t.Fatalf("purchase: %+v err=%v", res, err)
	}
	res, err = f.ledger.Credit(context.Background(), domainagg.CreditInput{
		OwnerUserID: owner, Change: 3, Kind: domainledger.EntryPurchase, DedupeKey: "order-1",
	})
	if err != nil || res.Posted || res.Balance != 8 {
		t.Fatalf("duplicate purchase: %+v err=%v", res, err)
	}
}

func TestAdmitRetriesLockedTransaction(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	f.credit(t, owner, 5)

	runner := &aggtestutil.InjectedTxRunner{FailBegin: errors.New("database is locked")}
	hooks := &aggtestutil.HooksRecorder{}
	queue := aggregates.NewVideoQueueAggregate(aggregates.VideoQueueAggregateDeps{
		Base:         aggregates.BaseDeps{DB: f.db, Runner: runner, Hooks: hooks},
		Jobs:         f.repos.jobs,
		Clips:        f.repos.clips,
		Reservations: f.repos.reservations,
		Entries:      f.repos.entries,
		Balances:     f.repos.balances,
	})
	_, err := queue.Admit(context.Background(), domainagg.AdmitInput{
		OwnerUserID: owner, ProjectID: uuid.New(), Kind: string(jobstatus.KindGenerate), RequiredUnits: 2,
	})
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("expected retryable after exhausting attempts, got %v", err)
	}
	if runner.BeginCalls != 3 || len(hooks.Retries) != 2 {
		t.Fatalf("attempts=%d retries=%v", runner.BeginCalls, hooks.Retries)
	}
	if len(hooks.Operations) != 1 || hooks.Operations[0].Status != string(domainagg.CodeRetryable) {
		t.Fatalf("operations: %+v", hooks.Operations)
	}
}
