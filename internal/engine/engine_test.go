package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evergreenpress/republisher/internal/domain"
	"github.com/evergreenpress/republisher/internal/engine"
	"github.com/evergreenpress/republisher/internal/logger"
)

type fakeSettings struct {
	st  *domain.Settings
	err error
}

func (f *fakeSettings) Snapshot(context.Context) (*domain.Settings, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.st
	return &cp, nil
}

type fakeItems struct {
	mu       sync.Mutex
	items    []domain.Item
	failIDs  map[int64]bool
	rewrites []int64
}

func (f *fakeItems) QueryItems(_ context.Context, types []string, minAgeDays int) ([]domain.Item, error) {
	return f.items, nil
}

func (f *fakeItems) Categories(context.Context, int64) ([]int64, error) {
	return nil, nil
}

func (f *fakeItems) GetByIDs(_ context.Context, ids []int64) ([]domain.Item, error) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]domain.Item, 0, len(ids))
	for _, item := range f.items {
		if _, ok := want[item.ID]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeItems) RewriteTimestamp(_ context.Context, itemID int64, _, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[itemID] {
		return errors.New("write refused")
	}
	f.rewrites = append(f.rewrites, itemID)
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	done    map[int64]struct{}
	records []*domain.HistoryRecord
}

func (f *fakeHistory) SucceededBetween(context.Context, time.Time, time.Time) (map[int64]struct{}, error) {
	return f.done, nil
}

func (f *fakeHistory) Append(_ context.Context, rec *domain.HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) outcomes() map[domain.Outcome]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.Outcome]int)
	for _, rec := range f.records {
		counts[rec.Outcome]++
	}
	return counts
}

type fakeLock struct {
	mu       sync.Mutex
	denied   bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	return !f.denied, nil
}

func (f *fakeLock) Release(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

type fakeArmer struct {
	mu      sync.Mutex
	ids     []int64
	attempt int
	calls   int
}

func (f *fakeArmer) Arm(itemIDs []int64, attempt int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = itemIDs
	f.attempt = attempt
	f.calls++
}

func testSettings() *domain.Settings {
	return &domain.Settings{
		EnabledTypes:    []string{"post"},
		QuotaMode:       domain.QuotaFixed,
		QuotaValue:      10,
		WindowStartHour: 9,
		WindowEndHour:   17,
		MinItemAgeDays:  30,
		PreserveOrder:   true,
		CategoryFilter:  domain.CategoryFilterNone,
		RateLimitWindow: domain.DefaultRateWindow,
		RateLimitMax:    1,
		SiteKey:         "example.org",
	}
}

func staleItems(n int) []domain.Item {
	base := time.Now().AddDate(0, 0, -200)
	items := make([]domain.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, domain.Item{
			ID:          int64(i + 1),
			Type:        "post",
			PublishedAt: base.AddDate(0, 0, i),
		})
	}
	return items
}

func newTestEngine(st *domain.Settings, items *fakeItems, history *fakeHistory, lock *fakeLock) *engine.Engine {
	return engine.New(engine.Deps{
		Settings: &fakeSettings{st: st},
		Items:    items,
		History:  history,
		Lock:     lock,
		Logger:   logger.NewNopLogger(),
	}, engine.Config{LockTTL: time.Minute, WriteRatePerSec: 1000})
}

func TestExecuteBatch_LockDenied(t *testing.T) {
	items := &fakeItems{items: staleItems(3)}
	history := &fakeHistory{}
	lock := &fakeLock{denied: true}
	eng := newTestEngine(testSettings(), items, history, lock)

	_, err := eng.ExecuteBatch(context.Background(), domain.TriggerExternal, false)
	if !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("ExecuteBatch() error = %v, want ErrAlreadyRunning", err)
	}
	if len(items.rewrites) != 0 {
		t.Errorf("lock-denied batch performed %d writes", len(items.rewrites))
	}
	if len(history.records) != 0 {
		t.Errorf("lock-denied batch appended %d history records", len(history.records))
	}
	if lock.releases != 0 {
		t.Errorf("lock released %d times without being held", lock.releases)
	}
}

func TestExecuteBatch_SuccessfulRun(t *testing.T) {
	items := &fakeItems{items: staleItems(4)}
	history := &fakeHistory{}
	lock := &fakeLock{}
	st := testSettings()
	st.QuotaValue = 3
	eng := newTestEngine(st, items, history, lock)

	result, err := eng.ExecuteBatch(context.Background(), domain.TriggerScheduled, false)
	if err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}

	if !result.Success {
		t.Error("result.Success = false, want true")
	}
	if len(result.Republished) != 3 {
		t.Errorf("republished %d items, want 3 (quota)", len(result.Republished))
	}
	// Quota takes the oldest three.
	for i, id := range []int64{1, 2, 3} {
		if result.Republished[i] != id {
			t.Errorf("republished[%d] = %d, want %d", i, result.Republished[i], id)
		}
	}
	if len(history.records) != 3 {
		t.Errorf("history has %d records, want 3", len(history.records))
	}
	if lock.releases != 1 {
		t.Errorf("lock released %d times, want 1", lock.releases)
	}
}

func TestExecuteBatch_PartialFailure(t *testing.T) {
	items := &fakeItems{
		items:   staleItems(5),
		failIDs: map[int64]bool{3: true},
	}
	history := &fakeHistory{}
	lock := &fakeLock{}
	armer := &fakeArmer{}

	eng := newTestEngine(testSettings(), items, history, lock)
	eng.SetRetryArmer(armer)

	result, err := eng.ExecuteBatch(context.Background(), domain.TriggerScheduled, false)
	if err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}

	if result.Success {
		t.Error("result.Success = true with a failed item")
	}
	if len(result.Republished) != 4 {
		t.Errorf("republished %d items, want 4", len(result.Republished))
	}
	if len(result.Failed) != 1 || result.Failed[0] != 3 {
		t.Errorf("failed = %v, want [3]", result.Failed)
	}

	// Every attempt gets a record, the failed one included.
	if len(history.records) != 5 {
		t.Fatalf("history has %d records, want 5", len(history.records))
	}
	counts := history.outcomes()
	if counts[domain.OutcomeSuccess] != 4 || counts[domain.OutcomeFailed] != 1 {
		t.Errorf("history outcomes = %v, want 4 success / 1 failed", counts)
	}
	for _, rec := range history.records {
		if rec.ItemID == 3 {
			if rec.Outcome != domain.OutcomeFailed {
				t.Errorf("item 3 record outcome = %s, want failed", rec.Outcome)
			}
			if rec.ErrorDetail == nil || *rec.ErrorDetail == "" {
				t.Error("item 3 record is missing error detail")
			}
		}
	}

	if armer.calls != 1 {
		t.Fatalf("retry armed %d times, want 1", armer.calls)
	}
	if armer.attempt != 1 || len(armer.ids) != 1 || armer.ids[0] != 3 {
		t.Errorf("retry armed with ids=%v attempt=%d, want [3] attempt 1", armer.ids, armer.attempt)
	}
}

func TestExecuteBatch_DryRunWritesNothing(t *testing.T) {
	items := &fakeItems{items: staleItems(4)}
	history := &fakeHistory{}
	lock := &fakeLock{}
	st := testSettings()
	st.DryRun = true
	eng := newTestEngine(st, items, history, lock)

	result, err := eng.ExecuteBatch(context.Background(), domain.TriggerManual, false)
	if err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}

	if !result.DryRun || !result.Success {
		t.Errorf("result = {DryRun: %v, Success: %v}, want both true", result.DryRun, result.Success)
	}
	if len(result.Skipped) != 4 {
		t.Errorf("skipped %d items, want 4", len(result.Skipped))
	}
	if len(result.Republished) != 0 || len(result.Failed) != 0 {
		t.Errorf("dry run reported republished=%v failed=%v", result.Republished, result.Failed)
	}
	if len(items.rewrites) != 0 {
		t.Errorf("dry run performed %d writes", len(items.rewrites))
	}
	if len(history.records) != 0 {
		t.Errorf("dry run appended %d history records", len(history.records))
	}
}

func TestExecuteBatch_ForceRequiresDebug(t *testing.T) {
	done := map[int64]struct{}{1: {}, 2: {}}

	t.Run("debug off ignores force", func(t *testing.T) {
		items := &fakeItems{items: staleItems(2)}
		history := &fakeHistory{done: done}
		eng := newTestEngine(testSettings(), items, history, &fakeLock{})

		result, err := eng.ExecuteBatch(context.Background(), domain.TriggerManual, true)
		if err != nil {
			t.Fatalf("ExecuteBatch() error = %v", err)
		}
		if result.Total() != 0 {
			t.Errorf("force without debug processed %d items, want 0", result.Total())
		}
	})

	t.Run("debug on honors force", func(t *testing.T) {
		items := &fakeItems{items: staleItems(2)}
		history := &fakeHistory{done: done}
		st := testSettings()
		st.Debug = true
		eng := newTestEngine(st, items, history, &fakeLock{})

		result, err := eng.ExecuteBatch(context.Background(), domain.TriggerManual, true)
		if err != nil {
			t.Fatalf("ExecuteBatch() error = %v", err)
		}
		if len(result.Republished) != 2 {
			t.Errorf("force with debug republished %d items, want 2", len(result.Republished))
		}
	})
}

func TestPreview_NoLockNoWrites(t *testing.T) {
	items := &fakeItems{items: staleItems(3)}
	history := &fakeHistory{}
	lock := &fakeLock{denied: true} // would fail hard if the preview touched it
	eng := newTestEngine(testSettings(), items, history, lock)

	result, err := eng.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !result.DryRun {
		t.Error("preview result not marked dry run")
	}
	if len(result.Skipped) != 3 {
		t.Errorf("preview selected %d candidates, want 3", len(result.Skipped))
	}
	if lock.acquires != 0 {
		t.Errorf("preview acquired the lock %d times", lock.acquires)
	}
	if len(items.rewrites) != 0 || len(history.records) != 0 {
		t.Error("preview performed writes")
	}
}

func TestRunRetry_ResolvesAndRearms(t *testing.T) {
	items := &fakeItems{
		items:   staleItems(5),
		failIDs: map[int64]bool{4: true},
	}
	history := &fakeHistory{}
	armer := &fakeArmer{}
	eng := newTestEngine(testSettings(), items, history, &fakeLock{})
	eng.SetRetryArmer(armer)

	// Retry items 3 and 4 plus one that no longer exists.
	result, err := eng.RunRetry(context.Background(), []int64{3, 4, 99}, 2)
	if err != nil {
		t.Fatalf("RunRetry() error = %v", err)
	}

	if len(result.Republished) != 1 || result.Republished[0] != 3 {
		t.Errorf("republished = %v, want [3]", result.Republished)
	}
	if len(result.Failed) != 1 || result.Failed[0] != 4 {
		t.Errorf("failed = %v, want [4]", result.Failed)
	}

	// The vanished item gets a terminal failure record but no re-arm.
	var vanished bool
	for _, rec := range history.records {
		if rec.ItemID == 99 && rec.Outcome == domain.OutcomeFailed {
			vanished = true
		}
	}
	if !vanished {
		t.Error("vanished item 99 has no failure record")
	}

	if armer.calls != 1 || armer.attempt != 3 {
		t.Errorf("re-arm calls=%d attempt=%d, want 1 call at attempt 3", armer.calls, armer.attempt)
	}
	if len(armer.ids) != 1 || armer.ids[0] != 4 {
		t.Errorf("re-armed ids = %v, want [4]", armer.ids)
	}
}

func TestRunRetry_LockDenied(t *testing.T) {
	items := &fakeItems{items: staleItems(2)}
	eng := newTestEngine(testSettings(), items, &fakeHistory{}, &fakeLock{denied: true})

	_, err := eng.RunRetry(context.Background(), []int64{1}, 1)
	if !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("RunRetry() error = %v, want ErrAlreadyRunning", err)
	}
	if len(items.rewrites) != 0 {
		t.Error("lock-denied retry performed writes")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	applied  int
	failed   int
	finished int
}

func (o *recordingObserver) BatchStarted(domain.Trigger, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) ItemApplied(*domain.Item, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applied++
}

func (o *recordingObserver) ItemFailed(*domain.Item, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *recordingObserver) BatchFinished(*domain.BatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func TestObserverNotifications(t *testing.T) {
	items := &fakeItems{
		items:   staleItems(3),
		failIDs: map[int64]bool{2: true},
	}
	eng := newTestEngine(testSettings(), items, &fakeHistory{}, &fakeLock{})
	obs := &recordingObserver{}
	eng.Subscribe(obs)

	if _, err := eng.ExecuteBatch(context.Background(), domain.TriggerScheduled, false); err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}

	if obs.started != 1 || obs.finished != 1 {
		t.Errorf("observer saw started=%d finished=%d, want 1/1", obs.started, obs.finished)
	}
	if obs.applied != 2 || obs.failed != 1 {
		t.Errorf("observer saw applied=%d failed=%d, want 2/1", obs.applied, obs.failed)
	}
}
