package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/ctxutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

const maxBodyBytes = 1 << 20

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Routes  Routes
	Paths   PathMapper
}

type HTTPExecutor struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	routes     Routes
	paths      PathMapper
	httpClient *http.Client
}

func NewHTTPExecutor(log *logger.Logger, cfg HTTPConfig) (*HTTPExecutor, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("executor base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("executor base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	routes := cfg.Routes
	if len(routes.Start) == 0 {
		routes = DefaultRoutes()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPExecutor{
		log:        log.With("component", "HTTPExecutor"),
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		routes:     routes,
		paths:      cfg.Paths,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (e *HTTPExecutor) Name() string { return "http" }

type startBody struct {
	JobID       string   `json:"job_id"`
	Kind        string   `json:"kind"`
	ContentPath string   `json:"content_path"`
	UnitKeys    []string `json:"unit_keys,omitempty"`
	ClipURLs    []string `json:"clip_urls,omitempty"`
}

type startResponse struct {
	ExecutionID string `json:"execution_id"`
	ID          string `json:"id"`
	Handle      string `json:"handle"`
}

func (e *HTTPExecutor) Start(ctx context.Context, req StartRequest) (string, error) {
	started := time.Now()
	handle, err := e.start(ctxutil.Default(ctx), req)
	observability.Current().ObserveExecutorCall(e.Name(), "start", callOutcome(err), time.Since(started))
	return handle, err
}

func (e *HTTPExecutor) start(ctx context.Context, req StartRequest) (string, error) {
	const op = "Executor.HTTP.Start"
	path, ok := e.routes.StartPath(req.Kind)
	if !ok {
		return "", unavailable(op, nil, "no executor route for job kind %q", req.Kind)
	}
	body := startBody{
		JobID:       req.JobID.String(),
		Kind:        string(req.Kind),
		ContentPath: e.paths.Translate(req.ContentPath),
	}
	body.UnitKeys, body.ClipURLs = payloadLists(req.Payload)

	status, raw, err := e.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", unavailable(op, err, "executor request failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return "", unavailable(op, nil, "executor returned HTTP %d: %s", status, snippet(raw))
	}
	var resp startResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", malformed(op, err, "executor start response is not valid JSON: %s", snippet(raw))
	}
	handle := firstNonEmpty(resp.ExecutionID, resp.ID, resp.Handle)
	if handle == "" {
		return "", noHandle(op)
	}
	e.log.Info("executor accepted job", "job_id", req.JobID, "kind", req.Kind, "handle", handle)
	return handle, nil
}

type statusResponse struct {
	Finished      bool            `json:"finished"`
	Outcome       string          `json:"outcome"`
	Status        string          `json:"status"`
	ProducedUnits []ProducedUnit  `json:"produced_units"`
	FinalOutput   string          `json:"final_output"`
	Error         json.RawMessage `json:"error"`
	ErrorDetail   string          `json:"error_detail"`
}

func (e *HTTPExecutor) Status(ctx context.Context, handle string) (*StatusReport, error) {
	started := time.Now()
	report, err := e.status(ctxutil.Default(ctx), handle)
	observability.Current().ObserveExecutorCall(e.Name(), "status", callOutcome(err), time.Since(started))
	return report, err
}

func (e *HTTPExecutor) status(ctx context.Context, handle string) (*StatusReport, error) {
	const op = "Executor.HTTP.Status"
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return &StatusReport{Finished: true, Outcome: OutcomeFailed, NotFound: true}, nil
	}
	status, raw, err := e.do(ctx, http.MethodGet, e.routes.StatusPath(url.PathEscape(handle)), nil)
	if err != nil {
		return nil, unavailable(op, err, "executor request failed: %v", err)
	}
	if status == http.StatusNotFound {
		return &StatusReport{Finished: true, Outcome: OutcomeFailed, NotFound: true}, nil
	}
	if status < 200 || status >= 300 {
		return nil, unavailable(op, nil, "executor returned HTTP %d: %s", status, snippet(raw))
	}
	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, malformed(op, err, "executor status response is not valid JSON: %s", snippet(raw))
	}
	outcome := NormalizeOutcome(strings.ToLower(strings.TrimSpace(firstNonEmpty(resp.Outcome, resp.Status))), resp.Finished)
	report := &StatusReport{
		Finished:      resp.Finished || outcome != OutcomeRunning,
		Outcome:       outcome,
		ProducedUnits: resp.ProducedUnits,
		FinalOutput:   strings.TrimSpace(resp.FinalOutput),
	}
	if outcome == OutcomeFailed {
		report.ErrorDetail = firstNonEmpty(errorMessage(resp.Error), resp.ErrorDetail)
	}
	return report, nil
}

// errorMessage reads the "error" field as either a string or an object with
// message/detail/reason keys.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Reason  string `json:"reason"`
		Cause   *struct {
			Message string `json:"message"`
		} `json:"cause"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	cause := ""
	if obj.Cause != nil {
		cause = obj.Cause.Message
	}
	return firstNonEmpty(obj.Message, obj.Detail, obj.Reason, cause)
}

func (e *HTTPExecutor) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	if td := ctxutil.GetTraceData(ctx); td != nil && td.RequestID != "" {
		req.Header.Set("X-Request-ID", td.RequestID)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func callOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
