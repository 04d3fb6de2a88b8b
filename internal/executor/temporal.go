package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/ctxutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

// WorkflowClient is the subset of the Temporal client the executor needs.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
	GetWorkflow(ctx context.Context, workflowID string, runID string) temporalsdkclient.WorkflowRun
}

// WorkflowInput is the argument every video workflow receives.
type WorkflowInput struct {
	JobID       string   `json:"job_id"`
	Kind        string   `json:"kind"`
	ContentPath string   `json:"content_path"`
	UnitKeys    []string `json:"unit_keys,omitempty"`
	ClipURLs    []string `json:"clip_urls,omitempty"`
}

// WorkflowResult is the value a completed video workflow returns.
type WorkflowResult struct {
	ProducedUnits []ProducedUnit `json:"produced_units"`
	FinalOutput   string         `json:"final_output"`
}

type TemporalConfig struct {
	TaskQueue string
	Routes    Routes
	Paths     PathMapper
}

type TemporalExecutor struct {
	log       *logger.Logger
	client    WorkflowClient
	taskQueue string
	routes    Routes
	paths     PathMapper
}

func NewTemporalExecutor(log *logger.Logger, client WorkflowClient, cfg TemporalConfig) *TemporalExecutor {
	if log == nil {
		log = logger.Nop()
	}
	tq := strings.TrimSpace(cfg.TaskQueue)
	if tq == "" {
		tq = "video-jobs"
	}
	routes := cfg.Routes
	if len(routes.Workflows) == 0 {
		routes = DefaultRoutes()
	}
	return &TemporalExecutor{
		log:       log.With("component", "TemporalExecutor"),
		client:    client,
		taskQueue: tq,
		routes:    routes,
		paths:     cfg.Paths,
	}
}

func (e *TemporalExecutor) Name() string { return "temporal" }

// WorkflowID is deterministic per job so a retried dispatch after a crash
// attaches to the same execution instead of starting a second one.
func WorkflowID(jobID string) string { return "videojob-" + jobID }

func (e *TemporalExecutor) Start(ctx context.Context, req StartRequest) (string, error) {
	const op = "Executor.Temporal.Start"
	ctx = ctxutil.Default(ctx)
	started := time.Now()

	workflow, ok := e.routes.Workflow(req.Kind)
	if !ok {
		return "", unavailable(op, nil, "no workflow registered for job kind %q", req.Kind)
	}
	in := WorkflowInput{
		JobID:       req.JobID.String(),
		Kind:        string(req.Kind),
		ContentPath: e.paths.Translate(req.ContentPath),
	}
	in.UnitKeys, in.ClipURLs = payloadLists(req.Payload)

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                       WorkflowID(in.JobID),
		TaskQueue:                e.taskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		// the job is settled by the reconciler; a failed run must not restart on its own
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, workflow, in)
	observability.Current().ObserveExecutorCall(e.Name(), "start", callOutcome(err), time.Since(started))
	if err != nil {
		return "", unavailable(op, err, "start workflow %s: %v", workflow, err)
	}
	if run == nil || strings.TrimSpace(run.GetRunID()) == "" {
		return "", noHandle(op)
	}
	handle := run.GetID() + ":" + run.GetRunID()
	e.log.Info("workflow started", "job_id", req.JobID, "workflow", workflow, "handle", handle)
	return handle, nil
}

func (e *TemporalExecutor) Status(ctx context.Context, handle string) (*StatusReport, error) {
	const op = "Executor.Temporal.Status"
	ctx = ctxutil.Default(ctx)
	started := time.Now()
	workflowID, runID, ok := splitHandle(handle)
	if !ok {
		return &StatusReport{Finished: true, Outcome: OutcomeFailed, NotFound: true}, nil
	}
	resp, err := e.client.DescribeWorkflowExecution(ctx, workflowID, runID)
	observability.Current().ObserveExecutorCall(e.Name(), "status", callOutcome(err), time.Since(started))
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return &StatusReport{Finished: true, Outcome: OutcomeFailed, NotFound: true}, nil
		}
		return nil, unavailable(op, err, "describe workflow %s: %v", workflowID, err)
	}
	info := resp.GetWorkflowExecutionInfo()
	if info == nil {
		return nil, malformed(op, nil, "describe workflow %s returned no execution info", workflowID)
	}
	report := reportForStatus(info.GetStatus())
	if !report.Finished {
		return report, nil
	}

	run := e.client.GetWorkflow(ctx, workflowID, runID)
	var result WorkflowResult
	getErr := run.Get(ctx, &result)
	switch report.Outcome {
	case OutcomeSucceeded:
		if getErr != nil {
			return nil, malformed(op, getErr, "decode workflow %s result: %v", workflowID, getErr)
		}
		report.ProducedUnits = result.ProducedUnits
		report.FinalOutput = strings.TrimSpace(result.FinalOutput)
	case OutcomeFailed:
		report.ErrorDetail = workflowFailureMessage(getErr)
	}
	return report, nil
}

func reportForStatus(status enumspb.WorkflowExecutionStatus) *StatusReport {
	switch status {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return &StatusReport{Finished: true, Outcome: OutcomeSucceeded}
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return &StatusReport{Finished: true, Outcome: OutcomeFailed}
	default:
		// running, continued-as-new, paused
		return &StatusReport{Outcome: OutcomeRunning}
	}
}

// workflowFailureMessage prefers the application error raised inside the
// workflow over the SDK's wrapper text.
func workflowFailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && strings.TrimSpace(appErr.Message()) != "" {
		return strings.TrimSpace(appErr.Message())
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "workflow timed out"
	}
	var canceledErr *temporal.CanceledError
	if errors.As(err, &canceledErr) {
		return "workflow was cancelled"
	}
	var terminatedErr *temporal.TerminatedError
	if errors.As(err, &terminatedErr) {
		return "workflow was terminated"
	}
	return strings.TrimSpace(err.Error())
}

func splitHandle(handle string) (string, string, bool) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", "", false
	}
	workflowID, runID, found := strings.Cut(handle, ":")
	if !found {
		return handle, "", true
	}
	return workflowID, runID, workflowID != ""
}
