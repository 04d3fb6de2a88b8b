package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/videoqueue-backend/internal/data/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/data/repos"
	"github.com/yungbote/videoqueue-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	domainledger "github.com/yungbote/videoqueue-backend/internal/domain/ledger"
	"github.com/yungbote/videoqueue-backend/internal/executor"
	httpH "github.com/yungbote/videoqueue-backend/internal/http/handlers"
	httpMW "github.com/yungbote/videoqueue-backend/internal/http/middleware"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

const testCallbackSecret = "cb-secret"

type stubExecutor struct{}

func (stubExecutor) Name() string { return "stub" }

func (stubExecutor) Start(context.Context, executor.StartRequest) (string, error) {
	return "exec-1", nil
}

func (stubExecutor) Status(context.Context, string) (*executor.StatusReport, error) {
	return &executor.StatusReport{Outcome: executor.OutcomeRunning}, nil
}

type apiFixture struct {
	t      *testing.T
	engine *gin.Engine
	auth   services.AuthService
	queue  domainagg.VideoQueueAggregate
	ledger services.LedgerService
	seed   func(owner uuid.UUID, units int) uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
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
	ledgerAgg := aggregates.NewTokenLedgerAggregate(aggregates.TokenLedgerAggregateDeps{
		Base: base, Reservations: resv, Entries: entries, Balances: balances,
	})

	notify := services.NopVideoJobNotifier()
	auth := services.NewAuthService(log, "jwt-secret", time.Hour)
	admission := services.NewAdmissionService(db, log, projects, jobs, clips, queue, notify, nil)
	reconciler := services.NewReconciler(db, log, jobs, clips, queue, stubExecutor{}, notify)
	cancellation := services.NewCancellationService(db, log, jobs, queue, notify)
	ledger := services.NewLedgerService(db, log, entries, ledgerAgg, notify)

	engine := NewRouter(RouterConfig{
		Log:             log,
		CallbackSecret:  testCallbackSecret,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, auth),
		VideoJobHandler: httpH.NewVideoJobHandler(log, admission, reconciler, cancellation),
		TokenHandler:    httpH.NewTokenHandler(ledger),
		CallbackHandler: httpH.NewCallbackHandler(log, reconciler),
		HealthHandler:   httpH.NewHealthHandler(db),
	})
	return &apiFixture{
		t:      t,
		engine: engine,
		auth:   auth,
		queue:  queue,
		ledger: ledger,
		seed: func(owner uuid.UUID, units int) uuid.UUID {
			return testutil.SeedProject(t, context.Background(), db, owner, testutil.Structure(units)).ID
		},
	}
}

func (f *apiFixture) user(balance int) (uuid.UUID, string) {
	f.t.Helper()
	id := uuid.New()
	if balance > 0 {
		if _, err := f.ledger.Credit(context.Background(), services.CreditRequest{
			OwnerUserID: id, Amount: balance, Kind: domainledger.EntryPurchase, Reason: "test",
		}); err != nil {
			f.t.Fatalf("Credit: %v", err)
		}
	}
	token, err := f.auth.IssueToken(id)
	if err != nil {
		f.t.Fatalf("IssueToken: %v", err)
	}
	return id, token
}

func (f *apiFixture) do(method, path, token string, body any, out any) int {
	f.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if len(raw) > 0 && token == "" {
		req.Header.Set(httpMW.HeaderCallbackSignature, httpMW.SignCallback(testCallbackSecret, raw))
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			f.t.Fatalf("decode %s %s: %v body=%s", method, path, err, rec.Body.String())
		}
	}
	return rec.Code
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

type balanceBody struct {
	Balance   int `json:"balance"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

type viewBody struct {
	Job struct {
		ID             uuid.UUID `json:"id"`
		Status         string    `json:"status"`
		QueuePosition  *int      `json:"queue_position"`
		FinalOutputURL *string   `json:"final_output_url"`
	} `json:"job"`
	Clips       []json.RawMessage `json:"clips"`
	QueuedAhead *int              `json:"queued_ahead"`
}

func TestHealthcheck(t *testing.T) {
	f := newAPIFixture(t)
	if code := f.do(nethttp.MethodGet, "/healthcheck", "", nil, nil); code != nethttp.StatusOK {
		t.Fatalf("healthcheck: %d", code)
	}
	if code := f.do(nethttp.MethodGet, "/readyz", "", nil, nil); code != nethttp.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
}

func TestSubmitRunCallbackLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	owner, token := f.user(6)
	project := f.seed(owner, 2)

	var submitted struct {
		Job services.SubmitResult `json:"job"`
	}
	if code := f.do(nethttp.MethodPost, "/api/projects/"+project.String()+"/video-jobs", token, map[string]string{"kind": "generate"}, &submitted); code != nethttp.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	if submitted.Job.RequiredUnits != 2 || submitted.Job.QueuePosition != 1 {
		t.Fatalf("submit result: %+v", submitted.Job)
	}
	jobID := submitted.Job.JobID

	var bal balanceBody
	f.do(nethttp.MethodGet, "/api/tokens/balance", token, nil, &bal)
	if bal.Balance != 6 || bal.Reserved != 2 || bal.Available != 4 {
		t.Fatalf("balance after submit: %+v", bal)
	}

	var view viewBody
	f.do(nethttp.MethodGet, "/api/video-jobs/"+jobID.String(), token, nil, &view)
	if view.Job.Status != "queued" || view.QueuedAhead == nil || *view.QueuedAhead != 0 {
		t.Fatalf("queued view: %+v", view)
	}

	ctx := context.Background()
	claim, err := f.queue.ClaimNext(ctx, time.Now().UTC())
	if err != nil || claim.Job == nil {
		t.Fatalf("ClaimNext: %+v %v", claim, err)
	}
	if _, err := f.queue.MarkRunning(ctx, domainagg.MarkRunningInput{JobID: jobID, Handle: "exec-1", At: time.Now().UTC()}); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	clip := services.ClipCallback{Handle: "exec-1", UnitKey: "u1", Seq: 1, URL: "https://cdn/u1.mp4"}
	var clipRes services.ClipCallbackResult
	if code := f.do(nethttp.MethodPost, "/internal/executor/callbacks/clip", "", clip, &clipRes); code != nethttp.StatusOK {
		t.Fatalf("clip callback: %d", code)
	}
	if !clipRes.Inserted || !clipRes.Debited {
		t.Fatalf("clip result: %+v", clipRes)
	}
	// redelivery is a no-op
	f.do(nethttp.MethodPost, "/internal/executor/callbacks/clip", "", clip, &clipRes)
	if clipRes.Inserted || clipRes.Debited {
		t.Fatalf("duplicate clip: %+v", clipRes)
	}
	f.do(nethttp.MethodGet, "/api/tokens/balance", token, nil, &bal)
	if bal.Balance != 5 || bal.Reserved != 1 || bal.Available != 4 {
		t.Fatalf("balance after clip: %+v", bal)
	}

	final := services.FinalCallback{
		JobID:       jobID,
		Outcome:     "succeeded",
		FinalOutput: "https://cdn/final.mp4",
		ProducedUnits: []executor.ProducedUnit{
			{UnitKey: "u1", Seq: 1, URL: "https://cdn/u1.mp4"},
			{UnitKey: "u2", Seq: 2, URL: "https://cdn/u2.mp4"},
		},
	}
	if code := f.do(nethttp.MethodPost, "/internal/executor/callbacks/final", "", final, &view); code != nethttp.StatusOK {
		t.Fatalf("final callback: %d", code)
	}
	if view.Job.Status != "completed" || view.Job.FinalOutputURL == nil || len(view.Clips) != 2 {
		t.Fatalf("completed view: %+v", view)
	}
	f.do(nethttp.MethodGet, "/api/tokens/balance", token, nil, &bal)
	// the rest of the hold is discarded, never debited
	if bal.Balance != 5 || bal.Reserved != 0 || bal.Available != 5 {
		t.Fatalf("balance after completion: %+v", bal)
	}

	var latest viewBody
	f.do(nethttp.MethodGet, "/api/projects/"+project.String()+"/video-job", token, nil, &latest)
	if latest.Job.ID != jobID {
		t.Fatalf("latest for project: %+v", latest)
	}

	var history struct {
		Entries []*domainledger.TokenLedgerEntry `json:"entries"`
	}
	f.do(nethttp.MethodGet, "/api/tokens/history?limit=10", token, nil, &history)
	if len(history.Entries) != 2 || history.Entries[0].Kind != domainledger.EntryUsage {
		t.Fatalf("history entries: %d", len(history.Entries))
	}
}

func TestSubmitAndCancelErrors(t *testing.T) {
	f := newAPIFixture(t)
	owner, token := f.user(1)
	project := f.seed(owner, 3)

	var eb errorBody
	if code := f.do(nethttp.MethodPost, "/api/projects/"+project.String()+"/video-jobs", token, nil, &eb); code != nethttp.StatusPaymentRequired {
		t.Fatalf("insufficient: %d %+v", code, eb)
	}
	if eb.Error.Code != string(domainagg.CodeInsufficientResources) {
		t.Fatalf("error code: %+v", eb)
	}

	_, stranger := f.user(10)
	if code := f.do(nethttp.MethodPost, "/api/projects/"+project.String()+"/video-jobs", stranger, nil, &eb); code != nethttp.StatusNotFound {
		t.Fatalf("foreign project: %d", code)
	}
	if code := f.do(nethttp.MethodPost, "/api/projects/not-a-uuid/video-jobs", token, nil, nil); code != nethttp.StatusBadRequest {
		t.Fatalf("bad project id: %d", code)
	}
	if code := f.do(nethttp.MethodGet, "/api/tokens/balance", "", nil, nil); code != nethttp.StatusUnauthorized {
		t.Fatalf("missing token: %d", code)
	}

	small := f.seed(owner, 1)
	var submitted struct {
		Job services.SubmitResult `json:"job"`
	}
	if code := f.do(nethttp.MethodPost, "/api/projects/"+small.String()+"/video-jobs", token, nil, &submitted); code != nethttp.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	if code := f.do(nethttp.MethodPost, "/api/video-jobs/"+submitted.Job.JobID.String()+"/cancel", stranger, nil, nil); code != nethttp.StatusNotFound {
		t.Fatalf("foreign cancel: %d", code)
	}
	var cancelled services.CancelResult
	if code := f.do(nethttp.MethodPost, "/api/video-jobs/"+submitted.Job.JobID.String()+"/cancel", token, nil, &cancelled); code != nethttp.StatusOK {
		t.Fatalf("cancel: %d", code)
	}
	if cancelled.ReservationUnitsReleased != 1 {
		t.Fatalf("cancel result: %+v", cancelled)
	}
	if code := f.do(nethttp.MethodPost, "/api/video-jobs/"+submitted.Job.JobID.String()+"/cancel", token, nil, &eb); code != nethttp.StatusConflict {
		t.Fatalf("second cancel: %d", code)
	}
}

func TestCallbackRequiresSignature(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(nethttp.MethodPost, "/internal/executor/callbacks/final", bytes.NewReader([]byte(`{"execution_id":"x"}`)))
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("unsigned callback: %d", rec.Code)
	}

	var eb errorBody
	if code := f.do(nethttp.MethodPost, "/internal/executor/callbacks/final", "", services.FinalCallback{Handle: "unknown"}, &eb); code != nethttp.StatusNotFound {
		t.Fatalf("unknown execution: %d %+v", code, eb)
	}
}
