package realtime

import (
	"github.com/google/uuid"

	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
)

// SSEClient is one open event stream. Outbound is closed by the hub when the
// client is removed.
type SSEClient struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
	Logger   *logger.Logger
}
