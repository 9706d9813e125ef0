package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a single republish attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeRetrying Outcome = "retrying"
)

// Trigger identifies the origin of a batch invocation.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerExternal  Trigger = "external"
	TriggerManual    Trigger = "manual"
)

// HistoryRecord is an append-only audit entry created once per item attempt.
// Records are never updated; a later retry appends a new record.
type HistoryRecord struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	ItemID        int64     `db:"item_id"        json:"item_id"`
	ItemType      string    `db:"item_type"      json:"item_type"`
	OriginalAt    time.Time `db:"original_at"    json:"original_at"`
	TargetAt      time.Time `db:"target_at"      json:"target_at"`
	Outcome       Outcome   `db:"outcome"        json:"outcome"`
	ErrorDetail   *string   `db:"error_detail"   json:"error_detail,omitempty"`
	DurationMS    int64     `db:"duration_ms"    json:"duration_ms"`
	TriggerSource Trigger   `db:"trigger_source" json:"trigger_source"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}

// NewHistoryRecord builds a record for one concluded attempt.
func NewHistoryRecord(item *Item, target time.Time, outcome Outcome, trigger Trigger, took time.Duration, attemptErr error) *HistoryRecord {
	rec := &HistoryRecord{
		ID:            uuid.New(),
		ItemID:        item.ID,
		ItemType:      item.Type,
		OriginalAt:    item.PublishedAt,
		TargetAt:      target,
		Outcome:       outcome,
		DurationMS:    took.Milliseconds(),
		TriggerSource: trigger,
		CreatedAt:     time.Now().UTC(),
	}
	if attemptErr != nil {
		detail := attemptErr.Error()
		rec.ErrorDetail = &detail
	}
	return rec
}

// HistoryFilter carries query criteria for the history listing endpoint.
type HistoryFilter struct {
	StartDate *time.Time `form:"start_date" time_format:"2006-01-02"`
	EndDate   *time.Time `form:"end_date"   time_format:"2006-01-02"`
	Outcome   Outcome    `form:"outcome"`
	ItemID    int64      `form:"item_id"`
	Limit     int        `binding:"omitempty,min=1,max=1000" form:"limit"`
	Offset    int        `binding:"omitempty,min=0"          form:"offset"`
}
