package realtime

import (
	"time"

	"github.com/google/uuid"
)

type SSEEvent string

const (
	SSEEventVideoJobQueued     SSEEvent = "VideoJobQueued"
	SSEEventVideoJobProcessing SSEEvent = "VideoJobProcessing"
	SSEEventVideoJobRunning    SSEEvent = "VideoJobRunning"
	SSEEventVideoJobClip       SSEEvent = "VideoJobClip"
	SSEEventVideoJobCompleted  SSEEvent = "VideoJobCompleted"
	SSEEventVideoJobError      SSEEvent = "VideoJobError"
	SSEEventVideoJobCancelled  SSEEvent = "VideoJobCancelled"
	SSEEventQueueMoved         SSEEvent = "VideoQueueMoved"
	SSEEventBalanceChanged     SSEEvent = "TokenBalanceChanged"
)

// SSEMessage is the unit carried by the bus and the hub. Channel is the
// owning user's id so each user only sees their own jobs.
type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// JobEventData is the payload of every VideoJob* event.
type JobEventData struct {
	JobID         uuid.UUID `json:"job_id"`
	ProjectID     uuid.UUID `json:"project_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	QueuePosition *int      `json:"queue_position,omitempty"`
	UnitKey       string    `json:"unit_key,omitempty"`
	URL           string    `json:"url,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}
