package domain

import "time"

// BatchResult is the ephemeral outcome of one engine execution. It is
// reported to the caller and then discarded; durable per-item outcomes live
// in history records.
type BatchResult struct {
	Republished []int64 `json:"republished"`
	Failed      []int64 `json:"failed"`
	Skipped     []int64 `json:"skipped"`
	Success     bool    `json:"success"`
	DryRun      bool    `json:"dry_run"`
	Message     string  `json:"message"`
	Trigger     Trigger `json:"trigger"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Total returns the number of items the batch considered.
func (r *BatchResult) Total() int {
	return len(r.Republished) + len(r.Failed) + len(r.Skipped)
}
