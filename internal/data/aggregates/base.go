package aggregates

import (
	"context"
	"strings"
	"time"

	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	"github.com/yungbote/videoqueue-backend/internal/platform/dbctx"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type BaseDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Runner   TxRunner
	Hooks    Hooks
	CASGuard CASGuard
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.CASGuard.db == nil {
		d.CASGuard = NewCASGuard(d.DB)
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

const (
	maxWriteAttempts = 3
	writeRetryDelay  = 25 * time.Millisecond
)

// executeWrite runs fn in one transaction and maps its error. A retryable
// failure (lock contention, serialization) reruns the whole transaction up to
// maxWriteAttempts times unless ctx is already done.
func executeWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	deps = deps.withDefaults()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "aggregate.write"
	}

	var mapped error
	for attempt := 1; ; attempt++ {
		mapped = MapError(op, deps.Runner.InTx(ctx, fn))
		if mapped == nil || !domainagg.IsCode(mapped, domainagg.CodeRetryable) || attempt >= maxWriteAttempts {
			break
		}
		if ctx.Err() != nil {
			break
		}
		deps.Hooks.IncRetry(op)
		deps.Log.Debug("retrying aggregate write", "op", op, "attempt", attempt, "error", mapped)
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(attempt) * writeRetryDelay):
		}
	}

	status := "success"
	if mapped != nil {
		status = aggregateErrorStatus(mapped)
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			deps.Hooks.IncConflict(op)
		}
	}
	deps.Hooks.ObserveOperation(op, status, time.Since(start))
	return mapped
}

func aggregateErrorStatus(err error) string {
	if err == nil {
		return "success"
	}
	code := strings.TrimSpace(string(domainagg.CodeOf(err)))
	if code == "" {
		code = strings.TrimSpace(string(domainagg.CodeOf(MapError("aggregate.status", err))))
	}
	if code == "" {
		return "failure"
	}
	return code
}
