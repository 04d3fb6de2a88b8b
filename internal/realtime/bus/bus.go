package bus

import (
	"context"

	"github.com/yungbote/videoqueue-backend/internal/realtime"
)

// Bus fans job events out to every API process. StartForwarder delivers
// messages published by any process, including this one.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
