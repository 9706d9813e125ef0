package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/evergreenpress/republisher/internal/domain"
)

func TestAppend(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	item := &domain.Item{
		ID:          5,
		Type:        "post",
		PublishedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	target := time.Date(2026, 1, 26, 11, 42, 17, 0, time.UTC)
	rec := domain.NewHistoryRecord(item, target, domain.OutcomeSuccess, domain.TriggerScheduled, 120*time.Millisecond, nil)

	mock.ExpectExec("INSERT INTO republish_history").
		WithArgs(rec.ID, rec.ItemID, rec.ItemType, rec.OriginalAt, rec.TargetAt,
			rec.Outcome, rec.ErrorDetail, rec.DurationMS, rec.TriggerSource, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSucceededBetween(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	from := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	mock.ExpectQuery("SELECT DISTINCT item_id").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"item_id"}).AddRow(int64(3)).AddRow(int64(8)))

	got, err := repo.SucceededBetween(context.Background(), from, to)
	if err != nil {
		t.Fatalf("SucceededBetween() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SucceededBetween() = %d ids, want 2", len(got))
	}
	for _, id := range []int64{3, 8} {
		if _, ok := got[id]; !ok {
			t.Errorf("id %d missing from result set", id)
		}
	}
}

func historyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "item_id", "item_type", "original_at", "target_at",
		"outcome", "error_detail", "duration_ms", "trigger_source", "created_at",
	})
}

func TestList_DefaultLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	created := time.Date(2026, 1, 26, 11, 42, 17, 0, time.UTC)
	mock.ExpectQuery("SELECT id, item_id, item_type").
		WithArgs(100, 0).
		WillReturnRows(historyRows().
			AddRow("0c2d3e4f-0000-0000-0000-000000000001", int64(5), "post",
				created.AddDate(-1, 0, 0), created, "success", nil, int64(120), "scheduled", created))

	records, err := repo.List(context.Background(), &domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() = %d records, want 1", len(records))
	}
	if records[0].ItemID != 5 || records[0].Outcome != domain.OutcomeSuccess {
		t.Errorf("records[0] = %+v", records[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_Filtered(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, item_id, item_type").
		WithArgs("failed", int64(5), start, 50, 10).
		WillReturnRows(historyRows())

	_, err := repo.List(context.Background(), &domain.HistoryFilter{
		Outcome:   domain.OutcomeFailed,
		ItemID:    5,
		StartDate: &start,
		Limit:     50,
		Offset:    10,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_LimitClamped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	mock.ExpectQuery("SELECT id, item_id, item_type").
		WithArgs(maxHistoryLimit, 0).
		WillReturnRows(historyRows())

	if _, err := repo.List(context.Background(), &domain.HistoryFilter{Limit: 5000}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStatsByOutcome(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepository(db)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT outcome, COUNT").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"outcome", "count"}).
			AddRow("success", 42).
			AddRow("failed", 3))

	stats, err := repo.StatsByOutcome(context.Background(), since)
	if err != nil {
		t.Fatalf("StatsByOutcome() error = %v", err)
	}
	if stats[domain.OutcomeSuccess] != 42 || stats[domain.OutcomeFailed] != 3 {
		t.Errorf("StatsByOutcome() = %v, want success=42 failed=3", stats)
	}
}
