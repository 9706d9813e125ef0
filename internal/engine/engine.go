// Package engine orchestrates one republishing batch: eligible-item
// selection, timestamp assignment, per-item timestamp rewrites, history
// bookkeeping and retry arming, all under the cross-process execution lock.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/logger"
	"github.com/evergreenpress/republisher/internal/selector"
	"github.com/evergreenpress/republisher/internal/timing"
)

const (
	defaultLockTTL         = 10 * time.Minute
	defaultWriteRatePerSec = 5
	lockReleaseTimeout     = 5 * time.Second
)

// Config holds engine tuning knobs.
type Config struct {
	// LockTTL guards against a crashed holder; it must exceed the
	// worst-case batch duration.
	LockTTL time.Duration

	// WriteRatePerSec paces per-item store writes so one batch cannot
	// saturate the CMS database.
	WriteRatePerSec int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTTL:         defaultLockTTL,
		WriteRatePerSec: defaultWriteRatePerSec,
	}
}

// Deps contains the engine's collaborators.
type Deps struct {
	Settings SettingsProvider
	Items    ItemStore
	History  HistoryStore
	Lock     Locker
	Retry    RetryArmer // optional
	Logger   logger.Logger
}

// Engine executes batches. All mutation is funneled through its sequential
// per-item loop; the batch-level lock is the only cross-trigger coordination.
type Engine struct {
	settings SettingsProvider
	items    ItemStore
	history  HistoryStore
	lock     Locker
	retry    RetryArmer
	selector *selector.Selector

	logger       logger.Logger
	tracer       trace.Tracer
	writeLimiter *rate.Limiter

	lockTTL   time.Duration
	observers []Observer
	now       func() time.Time
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.WriteRatePerSec <= 0 {
		cfg.WriteRatePerSec = defaultWriteRatePerSec
	}

	return &Engine{
		settings:     deps.Settings,
		items:        deps.Items,
		history:      deps.History,
		lock:         deps.Lock,
		retry:        deps.Retry,
		selector:     selector.New(deps.Items, deps.History, deps.Logger),
		logger:       deps.Logger,
		tracer:       otel.Tracer("republish-engine"),
		writeLimiter: rate.NewLimiter(rate.Limit(cfg.WriteRatePerSec), cfg.WriteRatePerSec),
		lockTTL:      cfg.LockTTL,
		now:          time.Now,
	}
}

// SetRetryArmer wires the retry scheduler. The scheduler needs the engine
// to run retries, so it is attached after construction, during startup.
func (e *Engine) SetRetryArmer(armer RetryArmer) {
	e.retry = armer
}

// WithClock overrides the engine's clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.selector.WithClock(now)
	return e
}

// ExecuteBatch runs one full batch. Lock denial returns
// domain.ErrAlreadyRunning with no writes performed. The force flag bypasses
// the already-republished-today check but is only honored when the settings
// debug flag is set.
func (e *Engine) ExecuteBatch(ctx context.Context, trigger domain.Trigger, force bool) (*domain.BatchResult, error) {
	owner := uuid.NewString()
	acquired, err := e.lock.Acquire(ctx, owner, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire execution lock: %w", err)
	}
	if !acquired {
		e.logger.Info("batch denied, already running", logger.String("trigger", string(trigger)))
		return nil, domain.ErrAlreadyRunning
	}

	// Lock release must happen on every exit path, with a fresh context so
	// a cancelled batch context cannot strand the lock until TTL expiry.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if relErr := e.lock.Release(releaseCtx, owner); relErr != nil {
			e.logger.Error("failed to release execution lock", logger.Error(relErr))
		}
	}()

	return e.run(ctx, trigger, force)
}

func (e *Engine) run(ctx context.Context, trigger domain.Trigger, force bool) (*domain.BatchResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.batch",
		trace.WithAttributes(attribute.String("trigger", string(trigger))))
	defer span.End()

	started := e.now()

	st, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if force && !st.Debug {
		e.logger.Warn("force flag ignored, debug mode is off")
		force = false
	}

	candidates, assignment, err := e.plan(ctx, st, force)
	if err != nil {
		return nil, err
	}

	e.notifyStarted(trigger, len(candidates))

	var result *domain.BatchResult
	if st.DryRun {
		result = e.simulate(candidates, trigger)
	} else {
		result = e.apply(ctx, st, candidates, assignment, trigger)
	}

	result.StartedAt = started
	result.Duration = e.now().Sub(started)
	e.notifyFinished(result)

	if len(result.Failed) > 0 && e.retry != nil {
		e.retry.Arm(result.Failed, 1)
	}

	e.logger.Info("batch finished",
		logger.String("trigger", string(trigger)),
		logger.Bool("success", result.Success),
		logger.Bool("dry_run", result.DryRun),
		logger.Int("republished", len(result.Republished)),
		logger.Int("failed", len(result.Failed)),
		logger.Int("skipped", len(result.Skipped)),
		logger.Duration("took", result.Duration),
	)

	return result, nil
}

// plan selects the candidate set and assigns target timestamps.
func (e *Engine) plan(ctx context.Context, st *domain.Settings, force bool) ([]domain.Item, timing.Assignment, error) {
	eligible, err := e.selector.SelectEligible(ctx, st, force)
	if err != nil {
		return nil, nil, fmt.Errorf("select eligible: %w", err)
	}

	quota := e.selector.ResolveQuota(st, len(eligible))
	candidates := eligible[:quota]

	assignment, err := timing.AssignTimes(candidates, st, e.now())
	if err != nil {
		return nil, nil, fmt.Errorf("assign times: %w", err)
	}

	return candidates, assignment, nil
}

// Preview computes selection and timestamp assignment without taking the
// lock and without any writes. Determinism of the randomizer guarantees
// parity with a real batch run on the same day.
func (e *Engine) Preview(ctx context.Context) (*domain.BatchResult, error) {
	st, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	candidates, _, err := e.plan(ctx, st, false)
	if err != nil {
		return nil, err
	}

	result := e.simulate(candidates, domain.TriggerManual)
	result.StartedAt = e.now()
	return result, nil
}

// RunRetry re-processes only the supplied failed item subset. Selection and
// quota are bypassed; the run still holds the execution lock so it never
// overlaps a scheduled or external batch.
func (e *Engine) RunRetry(ctx context.Context, itemIDs []int64, attempt int) (*domain.BatchResult, error) {
	owner := uuid.NewString()
	acquired, err := e.lock.Acquire(ctx, owner, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire execution lock: %w", err)
	}
	if !acquired {
		return nil, domain.ErrAlreadyRunning
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if relErr := e.lock.Release(releaseCtx, owner); relErr != nil {
			e.logger.Error("failed to release execution lock", logger.Error(relErr))
		}
	}()

	ctx, span := e.tracer.Start(ctx, "engine.retry",
		trace.WithAttributes(attribute.Int("attempt", attempt), attribute.Int("items", len(itemIDs))))
	defer span.End()

	started := e.now()

	st, err := e.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	items, err := e.items.GetByIDs(ctx, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch retry items: %w", err)
	}

	assignment, err := timing.AssignTimes(items, st, e.now())
	if err != nil {
		return nil, fmt.Errorf("assign times: %w", err)
	}

	result := e.apply(ctx, st, items, assignment, domain.TriggerScheduled)

	// Items that vanished since the original attempt are terminal failures.
	found := make(map[int64]struct{}, len(items))
	for i := range items {
		found[items[i].ID] = struct{}{}
	}
	for _, id := range itemIDs {
		if _, ok := found[id]; !ok {
			e.recordVanished(ctx, id, domain.TriggerScheduled)
		}
	}

	result.StartedAt = started
	result.Duration = e.now().Sub(started)

	if len(result.Failed) > 0 && e.retry != nil {
		e.retry.Arm(result.Failed, attempt+1)
	}

	e.logger.Info("retry run finished",
		logger.Int("attempt", attempt),
		logger.Int("republished", len(result.Republished)),
		logger.Int("failed", len(result.Failed)),
	)

	return result, nil
}

// simulate produces the dry-run result: every candidate reported as skipped,
// zero store writes, zero history writes.
func (e *Engine) simulate(candidates []domain.Item, trigger domain.Trigger) *domain.BatchResult {
	skipped := make([]int64, 0, len(candidates))
	for i := range candidates {
		skipped = append(skipped, candidates[i].ID)
	}
	return &domain.BatchResult{
		Republished: []int64{},
		Failed:      []int64{},
		Skipped:     skipped,
		Success:     true,
		DryRun:      true,
		Message:     fmt.Sprintf("dry run: %d candidates selected, nothing written", len(candidates)),
		Trigger:     trigger,
	}
}

// apply rewrites each candidate in oldest-first order. One item's failure
// never aborts the batch; every attempt leaves a history record before the
// loop moves on.
func (e *Engine) apply(ctx context.Context, st *domain.Settings, candidates []domain.Item, assignment timing.Assignment, trigger domain.Trigger) *domain.BatchResult {
	result := &domain.BatchResult{
		Republished: []int64{},
		Failed:      []int64{},
		Skipped:     []int64{},
		Trigger:     trigger,
	}

	for i := range candidates {
		item := &candidates[i]
		target, ok := assignment[item.ID]
		if !ok {
			// Cannot happen with a well-formed assignment; treat as skip.
			result.Skipped = append(result.Skipped, item.ID)
			continue
		}

		if err := e.applyOne(ctx, item, target, trigger); err != nil {
			result.Failed = append(result.Failed, item.ID)
		} else {
			result.Republished = append(result.Republished, item.ID)
		}
	}

	result.Success = len(result.Failed) == 0
	if result.Success {
		result.Message = fmt.Sprintf("republished %d items", len(result.Republished))
	} else {
		result.Message = fmt.Sprintf("republished %d items, %d failed", len(result.Republished), len(result.Failed))
	}
	return result
}

func (e *Engine) applyOne(ctx context.Context, item *domain.Item, target time.Time, trigger domain.Trigger) error {
	ctx, span := e.tracer.Start(ctx, "engine.apply",
		trace.WithAttributes(
			attribute.Int64("item_id", item.ID),
			attribute.String("item_type", item.Type),
		))
	defer span.End()

	if err := e.writeLimiter.Wait(ctx); err != nil {
		e.record(ctx, item, target, domain.OutcomeFailed, trigger, 0, err)
		e.notifyFailed(item, err)
		return err
	}

	start := e.now()
	err := e.items.RewriteTimestamp(ctx, item.ID, target, e.now())
	took := e.now().Sub(start)

	if err != nil {
		e.logger.Error("timestamp rewrite failed",
			logger.Int64("item_id", item.ID),
			logger.Error(err),
		)
		e.record(ctx, item, target, domain.OutcomeFailed, trigger, took, err)
		e.notifyFailed(item, err)
		return err
	}

	e.logger.Debug("item republished",
		logger.Int64("item_id", item.ID),
		logger.Time("target", target),
		logger.Duration("took", took),
	)
	e.record(ctx, item, target, domain.OutcomeSuccess, trigger, took, nil)
	e.notifyApplied(item, target)
	return nil
}

// record appends a history record. Append failures are logged, not
// propagated: the rewrite outcome is already decided and the batch must
// keep its additive-only relationship to history.
func (e *Engine) record(ctx context.Context, item *domain.Item, target time.Time, outcome domain.Outcome, trigger domain.Trigger, took time.Duration, attemptErr error) {
	rec := domain.NewHistoryRecord(item, target, outcome, trigger, took, attemptErr)
	if err := e.history.Append(ctx, rec); err != nil {
		e.logger.Error("failed to append history record",
			logger.Int64("item_id", item.ID),
			logger.String("outcome", string(outcome)),
			logger.Error(err),
		)
	}
}

func (e *Engine) recordVanished(ctx context.Context, itemID int64, trigger domain.Trigger) {
	item := &domain.Item{ID: itemID}
	e.record(ctx, item, time.Time{}, domain.OutcomeFailed, trigger, 0, domain.ErrNotFound)
}
