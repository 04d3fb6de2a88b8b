package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	"github.com/yungbote/videoqueue-backend/internal/data/repos/testutil"
	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/executor"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
)

type fakeExecutor struct {
	mu          sync.Mutex
	report      *executor.StatusReport
	err         error
	statusCalls int
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Start(context.Context, executor.StartRequest) (string, error) {
	return "exec-abc", nil
}

func (f *fakeExecutor) Status(context.Context, string) (*executor.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.report
	return &r, nil
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
	clips    []string
	balances int
	moved    int
}

func (n *recordingNotifier) JobChanged(_ context.Context, job *types.VideoJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, job.Status)
}

func (n *recordingNotifier) ClipProduced(_ context.Context, _ *types.VideoJob, unitKey, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clips = append(n.clips, unitKey)
}

func (n *recordingNotifier) QueueMoved(_ context.Context, queued []*types.VideoJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.moved += len(queued)
}

func (n *recordingNotifier) BalanceChanged(context.Context, uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances++
}

type fixture struct {
	db     *gorm.DB
	jobs   repos.VideoJobRepo
	clips  repos.VideoJobClipRepo
	resv   repos.TokenReservationRepo
	ledger domainagg.TokenLedgerAggregate
	queue  domainagg.VideoQueueAggregate
	exec   *fakeExecutor
	notify *recordingNotifier

	admission    AdmissionService
	reconciler   Reconciler
	cancellation CancellationService
	ledgerSvc    LedgerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobs := repos.NewVideoJobRepo(db, log)
	clips := repos.NewVideoJobClipRepo(db, log)
	resv := repos.NewTokenReservationRepo(db, log)
	entries := repos.NewTokenLedgerEntryRepo(db, log)
	balances := repos.NewTokenBalanceRepo(db, log)
	projects := repos.NewVideoProjectRepo(db, log)

	base := aggregates.BaseDeps{DB: db, Log: log}
	queue := aggregates.NewVideoQueueAggregate(aggregates.VideoQueueAggregateDeps{
		Base: base, Jobs: jobs, Clips: clips, Reservations: resv, Entries: entries, Balances: balances,
	})
	ledger := aggregates.NewTokenLedgerAggregate(aggregates.TokenLedgerAggregateDeps{
		Base: base, Reservations: resv, Entries: entries, Balances: balances,
	})
	exec := &fakeExecutor{report: &executor.StatusReport{Outcome: executor.OutcomeRunning}}
	notify := &recordingNotifier{}

	return &fixture{
		db:           db,
		jobs:         jobs,
		clips:        clips,
		resv:         resv,
		ledger:       ledger,
		queue:        queue,
		exec:         exec,
		notify:       notify,
		admission:    NewAdmissionService(db, log, projects, jobs, clips, queue, notify, nil),
		reconciler:   NewReconciler(db, log, jobs, clips, queue, exec, notify),
		cancellation: NewCancellationService(db, log, jobs, queue, notify),
		ledgerSvc:    NewLedgerService(db, log, entries, ledger, notify),
	}
}

func (f *fixture) credit(t *testing.T, owner uuid.UUID, n int) {
	t.Helper()
	if _, err := f.ledgerSvc.Credit(context.Background(), CreditRequest{
		OwnerUserID: owner, Amount: n, Kind: domainledger.EntryPurchase, Reason: "test purchase",
	}); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func (f *fixture) project(t *testing.T, owner uuid.UUID, units int) *types.VideoProject {
	t.Helper()
	return testutil.SeedProject(t, context.Background(), f.db, owner, testutil.Structure(units))
}

func (f *fixture) submit(t *testing.T, owner, projectID uuid.UUID, kind string) *SubmitResult {
	t.Helper()
	res, err := f.admission.Submit(context.Background(), SubmitInput{OwnerUserID: owner, ProjectID: projectID, Kind: kind})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

// dispatch claims the queue head and records handle as its execution.
func (f *fixture) dispatch(t *testing.T, handle string) *types.VideoJob {
	t.Helper()
	ctx := context.Background()
	claim, err := f.queue.ClaimNext(ctx, time.Now().UTC())
	if err != nil || claim.Job == nil {
		t.Fatalf("ClaimNext: job=%v err=%v", claim.Job, err)
	}
	res, err := f.queue.MarkRunning(ctx, domainagg.MarkRunningInput{JobID: claim.Job.ID, Handle: handle})
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	return res.Job
}

func (f *fixture) job(t *testing.T, id uuid.UUID) *types.VideoJob {
	t.Helper()
	job, err := f.jobs.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil || job == nil {
		t.Fatalf("GetByID: job=%v err=%v", job, err)
	}
	return job
}

func (f *fixture) reservation(t *testing.T, jobID uuid.UUID) *types.TokenReservation {
	t.Helper()
	r, err := f.resv.GetByJob(dbctx.Context{Ctx: context.Background()}, jobID)
	if err != nil {
		t.Fatalf("GetByJob: %v", err)
	}
	return r
}

func (f *fixture) balance(t *testing.T, owner uuid.UUID) *BalanceView {
	t.Helper()
	b, err := f.ledgerSvc.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}
