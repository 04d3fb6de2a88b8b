package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	jobsdomain "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
)

// Outcome is the normalized execution state reported by a backend.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

type StartRequest struct {
	JobID       uuid.UUID
	Kind        jobsdomain.Kind
	ContentPath string
	Payload     jobsdomain.Payload
}

type ProducedUnit struct {
	UnitKey string `json:"unit_key"`
	Seq     int    `json:"seq"`
	URL     string `json:"url"`
}

// StatusReport is what a backend knows about one execution. NotFound means
// the backend has no record of the handle at all.
type StatusReport struct {
	Finished      bool
	Outcome       Outcome
	ProducedUnits []ProducedUnit
	FinalOutput   string
	ErrorDetail   string
	NotFound      bool
}

// Executor starts and inspects executions on the external workflow engine.
// Start errors carry CodeExternalUnavailable, CodeMalformedResponse or
// CodeNoHandleReturned.
type Executor interface {
	Name() string
	Start(ctx context.Context, req StartRequest) (string, error)
	Status(ctx context.Context, handle string) (*StatusReport, error)
}

func unavailable(op string, cause error, format string, args ...any) error {
	return domainagg.NewError(domainagg.CodeExternalUnavailable, op, fmt.Sprintf(format, args...), cause)
}

func malformed(op string, cause error, format string, args ...any) error {
	return domainagg.NewError(domainagg.CodeMalformedResponse, op, fmt.Sprintf(format, args...), cause)
}

func noHandle(op string) error {
	return domainagg.NewError(domainagg.CodeNoHandleReturned, op, "executor accepted the request but returned no execution handle", nil)
}

// NormalizeOutcome folds the vocabularies of different engines onto Outcome.
// An unfinished execution is always running.
func NormalizeOutcome(raw string, finished bool) Outcome {
	switch raw {
	case "succeeded", "success", "completed", "finished", "done":
		return OutcomeSucceeded
	case "failed", "failure", "error", "errored", "cancelled", "canceled", "terminated", "timed_out":
		return OutcomeFailed
	}
	if !finished {
		return OutcomeRunning
	}
	// finished without a recognizable outcome
	return OutcomeFailed
}

// payloadLists picks the kind-specific lists the executor needs from a payload.
func payloadLists(p jobsdomain.Payload) (unitKeys []string, clipURLs []string) {
	switch v := p.(type) {
	case jobsdomain.GeneratePayload:
		return v.UnitKeys, nil
	case jobsdomain.MergePayload:
		return nil, v.ClipURLs
	default:
		return nil, nil
	}
}
