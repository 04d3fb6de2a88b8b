package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	types "github.com/yungbote/videoqueue-backend/internal/domain"
	domainagg "github.com/yungbote/videoqueue-backend/internal/domain/aggregates"
	jobstatus "github.com/yungbote/videoqueue-backend/internal/domain/jobs"
	"github.com/yungbote/videoqueue-backend/internal/executor"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/envutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/services"
)

type Config struct {
	Interval time.Duration
	// ClaimTimeout is how long a job may sit in processing without a handle
	// before the recovery sweep treats it as orphaned.
	ClaimTimeout time.Duration
	// RecoveryWindow: orphans claimed within this window are requeued, older
	// ones fail and release their hold.
	RecoveryWindow time.Duration
	MaxFailures    int
	Cooldown       time.Duration
}

func LoadConfig() Config {
	return Config{
		Interval:       envutil.Duration("DISPATCH_INTERVAL", 20*time.Second),
		ClaimTimeout:   envutil.Duration("DISPATCH_CLAIM_TIMEOUT", 2*time.Minute),
		RecoveryWindow: envutil.Duration("DISPATCH_RECOVERY_WINDOW", 15*time.Minute),
		MaxFailures:    envutil.Int("DISPATCH_MAX_FAILURES", 5),
		Cooldown:       envutil.Duration("DISPATCH_COOLDOWN", 2*time.Minute),
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 2 * time.Minute
	}
	if c.RecoveryWindow < c.ClaimTimeout {
		c.RecoveryWindow = c.ClaimTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Minute
	}
	return c
}

// TickResult says what one tick did.
type TickResult string

const (
	TickDispatched TickResult = "dispatched"
	TickFailed     TickResult = "dispatch_failed"
	TickBusy       TickResult = "busy"
	TickIdle       TickResult = "idle"
	TickSkipped    TickResult = "skipped"
	TickCooldown   TickResult = "cooldown"
	TickError      TickResult = "error"
)

// Dispatcher hands the queue head to the executor, one job at a time.
type Dispatcher struct {
	log    *logger.Logger
	cfg    Config
	queue  domainagg.VideoQueueAggregate
	exec   executor.Executor
	notify services.VideoJobNotifier
	lock   Lock

	running sync.Mutex

	mu            sync.Mutex
	failures      int
	cooldownUntil time.Time
	now           func() time.Time
}

func New(
	baseLog *logger.Logger,
	cfg Config,
	queue domainagg.VideoQueueAggregate,
	exec executor.Executor,
	notify services.VideoJobNotifier,
	lock Lock,
) *Dispatcher {
	if lock == nil {
		lock = NewLocalLock()
	}
	if notify == nil {
		notify = services.NopVideoJobNotifier()
	}
	return &Dispatcher{
		log:    baseLog.With("component", "QueueDispatcher"),
		cfg:    cfg.withDefaults(),
		queue:  queue,
		exec:   exec,
		notify: notify,
		lock:   lock,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks until ctx is done. The first tick runs immediately so a restart
// recovers orphaned claims without waiting a full interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Starting queue dispatcher", "interval", d.cfg.Interval, "executor", d.exec.Name())
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Queue dispatcher stopped")
			return nil
		case <-ticker.C:
			d.safeTick(ctx)
		}
	}
}

func (d *Dispatcher) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Dispatcher tick panic", "panic", r)
			d.recordFailure()
			observability.Current().IncDispatchTick(string(TickError))
		}
	}()
	res, err := d.Tick(ctx)
	if err != nil {
		d.log.Warn("Dispatcher tick failed", "result", res, "error", err)
	}
}

// Tick runs one scheduling pass. An overlapping call returns TickSkipped.
// Storage errors are returned for logging and counted toward the cooldown;
// executor failures are recorded on the job and are not tick errors.
func (d *Dispatcher) Tick(ctx context.Context) (res TickResult, err error) {
	if !d.running.TryLock() {
		observability.Current().IncDispatchTick(string(TickSkipped))
		return TickSkipped, nil
	}
	defer d.running.Unlock()
	defer func() { observability.Current().IncDispatchTick(string(res)) }()

	now := d.now()
	if d.coolingDown(now) {
		return TickCooldown, nil
	}

	release, ok, err := d.lock.Acquire(ctx, d.cfg.Interval+d.cfg.ClaimTimeout)
	if err != nil {
		d.recordFailure()
		return TickError, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return TickSkipped, nil
	}
	defer release()

	ctx, span := observability.Tracer().Start(ctx, "dispatcher.tick")
	defer span.End()

	if err := d.recover(ctx, now); err != nil {
		d.recordFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "recover stale")
		return TickError, err
	}

	claim, err := d.queue.ClaimNext(ctx, now)
	if err != nil {
		d.recordFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		return TickError, err
	}
	if claim.Busy {
		d.resetFailures()
		return TickBusy, nil
	}
	if claim.Job == nil {
		d.resetFailures()
		return TickIdle, nil
	}
	job := claim.Job
	span.SetAttributes(attribute.String("video_job.id", job.ID.String()), attribute.String("video_job.kind", job.Kind))
	d.notify.JobChanged(ctx, job)

	handle, startErr := d.start(ctx, job)
	if startErr != nil {
		span.RecordError(startErr)
		if err := d.failDispatch(ctx, job, startErr); err != nil {
			d.recordFailure()
			return TickError, err
		}
		d.recordFailure()
		return TickFailed, nil
	}

	marked, err := d.queue.MarkRunning(ctx, domainagg.MarkRunningInput{JobID: job.ID, Handle: handle, At: d.now()})
	if err != nil {
		// claim stays processing without a handle; the recovery sweep resolves it
		d.recordFailure()
		d.log.Error("Record execution handle failed", "job_id", job.ID, "handle", handle, "error", err)
		return TickError, err
	}
	d.resetFailures()
	observability.Current().IncDispatch(job.Kind, "running")
	d.log.Info("Video job dispatched", "job_id", job.ID, "kind", job.Kind, "handle", handle)
	d.notify.JobChanged(ctx, marked.Job)
	return TickDispatched, nil
}

func (d *Dispatcher) start(ctx context.Context, job *types.VideoJob) (string, error) {
	const op = "Jobs.Dispatcher.Start"
	payload, err := job.DecodePayload()
	if err != nil {
		return "", domainagg.NewError(domainagg.CodeInternal, op, "stored job payload is unreadable", err)
	}
	var contentPath string
	switch p := payload.(type) {
	case jobstatus.GeneratePayload:
		contentPath = p.ContentPath
	case jobstatus.MergePayload:
		contentPath = p.ContentPath
	}
	return d.exec.Start(ctx, executor.StartRequest{
		JobID:       job.ID,
		Kind:        payload.Kind(),
		ContentPath: contentPath,
		Payload:     payload,
	})
}

func (d *Dispatcher) failDispatch(ctx context.Context, job *types.VideoJob, cause error) error {
	msg := fmt.Sprintf("dispatch failed (%s): %s", orUnknown(string(domainagg.CodeOf(cause))), domainagg.MessageOf(cause))
	res, err := d.queue.FailDispatch(ctx, domainagg.FailDispatchInput{JobID: job.ID, Message: msg, At: d.now()})
	if err != nil {
		d.log.Error("Record dispatch failure failed", "job_id", job.ID, "cause", cause, "error", err)
		return err
	}
	observability.Current().IncDispatch(job.Kind, string(domainagg.CodeOf(cause)))
	d.log.Warn("Video job dispatch failed",
		"job_id", job.ID,
		"kind", job.Kind,
		"released_units", res.ReleasedUnits,
		"error", cause,
	)
	d.notify.JobChanged(ctx, res.Job)
	d.notify.BalanceChanged(ctx, job.OwnerUserID)
	return nil
}

func (d *Dispatcher) recover(ctx context.Context, now time.Time) error {
	res, err := d.queue.RecoverStale(ctx, domainagg.RecoverStaleInput{
		ClaimedBefore: now.Add(-d.cfg.ClaimTimeout),
		RequeueAfter:  now.Add(-d.cfg.RecoveryWindow),
		At:            now,
	})
	if err != nil {
		return err
	}
	if len(res.Requeued) > 0 || len(res.Failed) > 0 {
		d.log.Warn("Recovered orphaned dispatch claims", "requeued", len(res.Requeued), "failed", len(res.Failed))
	}
	return nil
}

func (d *Dispatcher) coolingDown(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return now.Before(d.cooldownUntil)
}

func (d *Dispatcher) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures++
	if d.failures >= d.cfg.MaxFailures {
		d.cooldownUntil = d.now().Add(d.cfg.Cooldown)
		d.failures = 0
		d.log.Warn("Dispatcher cooling down after repeated failures", "until", d.cooldownUntil)
	}
}

func (d *Dispatcher) resetFailures() {
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
