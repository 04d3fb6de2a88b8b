package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VideoJob is one submitted generation or merge request tracked through the
// global queue. QueuePosition is set only while Status is queued;
// ExecutionHandle is set once the executor accepted the job.
type VideoJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	ProjectID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Kind            string         `gorm:"column:kind;not null" json:"kind"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	RequiredUnits   int            `gorm:"column:required_units;not null" json:"required_units"`
	QueuePosition   *int           `gorm:"column:queue_position;index" json:"queue_position,omitempty"`
	ExecutionHandle *string        `gorm:"column:execution_handle;index" json:"execution_handle,omitempty"`
	Payload         datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	FinalOutputURL  *string        `gorm:"column:final_output_url" json:"final_output_url,omitempty"`
	Error           *string        `gorm:"column:error" json:"error,omitempty"`
	StartTime       *time.Time     `gorm:"column:start_time;index" json:"start_time,omitempty"`
	EndTime         *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (VideoJob) TableName() string { return "video_job" }

// VideoJobClip is one produced unit of a job. (JobID, UnitKey) is unique so
// duplicate completion deliveries collapse onto one row.
type VideoJobClip struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_video_job_clip_unit" json:"job_id"`
	UnitKey    string    `gorm:"column:unit_key;not null;uniqueIndex:idx_video_job_clip_unit" json:"unit_key"`
	Seq        int       `gorm:"column:seq;not null;default:0" json:"seq"`
	URL        string    `gorm:"column:url" json:"url"`
	ProducedAt time.Time `gorm:"column:produced_at;not null" json:"produced_at"`
}

func (VideoJobClip) TableName() string { return "video_job_clip" }

// Kind discriminates the executor entry point and payload shape.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindMerge    Kind = "merge"
)

func ParseKind(raw string) (Kind, bool) {
	switch Kind(raw) {
	case KindGenerate, "":
		return KindGenerate, true
	case KindMerge:
		return KindMerge, true
	default:
		return "", false
	}
}

// Payload is the kind-specific body stored with a job.
type Payload interface {
	Kind() Kind
}

// GeneratePayload asks the executor to render every unit of a project.
type GeneratePayload struct {
	ContentPath string   `json:"content_path"`
	UnitKeys    []string `json:"unit_keys"`
}

func (GeneratePayload) Kind() Kind { return KindGenerate }

// MergePayload asks the executor to concatenate already produced clips.
type MergePayload struct {
	ContentPath string    `json:"content_path"`
	SourceJobID uuid.UUID `json:"source_job_id"`
	ClipURLs    []string  `json:"clip_urls"`
}

func (MergePayload) Kind() Kind { return KindMerge }

func EncodePayload(p Payload) (datatypes.JSON, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodePayload returns the typed payload for the job's kind.
func (j *VideoJob) DecodePayload() (Payload, error) {
	raw := []byte(j.Payload)
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	switch Kind(j.Kind) {
	case KindGenerate:
		var p GeneratePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode generate payload: %w", err)
		}
		return p, nil
	case KindMerge:
		var p MergePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode merge payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}
