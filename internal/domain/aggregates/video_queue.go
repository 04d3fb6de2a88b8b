package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
)

var VideoQueueAggregateContract = Contract{
	Name:             "Jobs.VideoQueueAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Owns job status, queue positions and the job's token reservation as one consistency boundary.",
}

// VideoQueueAggregate owns every write that moves a video job through its
// state machine together with the reservation held for it.
//
// Write failures return *Error with codes:
// CodeValidation, CodeNotFound, CodeConflict, CodeInsufficientResources,
// CodeInvalidState, CodeRetryable, CodeInternal.
type VideoQueueAggregate interface {
	Aggregate

	// Admit reserves RequiredUnits for the owner and enqueues a new job at the
	// tail of the global queue.
	Admit(ctx context.Context, in AdmitInput) (AdmitResult, error)

	// ClaimNext moves the queue head to processing when nothing is in flight.
	// Job is nil when the system is busy or the queue is empty.
	ClaimNext(ctx context.Context, now time.Time) (ClaimResult, error)

	// MarkRunning records the executor handle on a processing job.
	MarkRunning(ctx context.Context, in MarkRunningInput) (TransitionResult, error)

	// FailDispatch moves a processing job to error and releases its reservation.
	FailDispatch(ctx context.Context, in FailDispatchInput) (TransitionResult, error)

	// Settle applies an executor outcome to a running job. Repeats are no-ops.
	Settle(ctx context.Context, in SettleInput) (TransitionResult, error)

	// RefreshClips records units a status poll reported for a running job.
	RefreshClips(ctx context.Context, jobID uuid.UUID, clips []ClipInput) error

	// RecordClip stores one produced unit and posts its usage debit once.
	RecordClip(ctx context.Context, in RecordClipInput) (RecordClipResult, error)

	// Cancel removes a queued job from the queue and releases its reservation.
	Cancel(ctx context.Context, in CancelInput) (CancelResult, error)

	// RecoverStale resolves processing jobs left without a handle by a crash.
	RecoverStale(ctx context.Context, in RecoverStaleInput) (RecoverStaleResult, error)
}

type AdmitInput struct {
	OwnerUserID   uuid.UUID
	ProjectID     uuid.UUID
	Kind          string
	RequiredUnits int
	Payload       datatypes.JSON
	AdmittedAt    time.Time
}

type AdmitResult struct {
	JobID         uuid.UUID
	RequiredUnits int
	QueuePosition int
	Available     int
}

type ClaimResult struct {
	Job  *types.VideoJob
	Busy bool
}

type MarkRunningInput struct {
	JobID  uuid.UUID
	Handle string
	At     time.Time
}

type FailDispatchInput struct {
	JobID   uuid.UUID
	Message string
	At      time.Time
}

// Outcome is the terminal result an executor reported for a job.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

type ClipInput struct {
	UnitKey string
	Seq     int
	URL     string
}

type SettleInput struct {
	JobID          uuid.UUID
	Outcome        Outcome
	Message        string
	Clips          []ClipInput
	FinalOutputURL string
	At             time.Time
}

type TransitionResult struct {
	Job           *types.VideoJob
	Applied       bool
	ReleasedUnits int
}

type RecordClipInput struct {
	JobID      uuid.UUID
	Clip       ClipInput
	ProducedAt time.Time
}

type RecordClipResult struct {
	Job      *types.VideoJob
	Inserted bool
	Debited  bool
}

type CancelInput struct {
	JobID       uuid.UUID
	OwnerUserID uuid.UUID
	At          time.Time
}

type CancelResult struct {
	Job                      *types.VideoJob
	ReservationUnitsReleased int
}

type RecoverStaleInput struct {
	// ClaimedBefore selects processing jobs claimed earlier than this instant.
	ClaimedBefore time.Time
	// RequeueAfter: jobs claimed after this instant are requeued, older ones fail.
	RequeueAfter time.Time
	At           time.Time
}

type RecoverStaleResult struct {
	Requeued []uuid.UUID
	Failed   []uuid.UUID
}
