package projects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VideoProject is the content record a job renders. Structure is a tree of
// {"key","title","children"} nodes; every leaf below the root is one unit.
type VideoProject struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Title       string         `gorm:"column:title" json:"title"`
	ContentPath string         `gorm:"column:content_path;not null" json:"content_path"`
	Structure   datatypes.JSON `gorm:"column:structure;type:jsonb" json:"structure"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (VideoProject) TableName() string { return "video_project" }
