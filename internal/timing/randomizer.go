// Package timing assigns natural-looking publish timestamps inside the
// configured window. Assignment is deterministic for a fixed (site key,
// date, item) triple so a dry-run preview matches the actual execution.
package timing

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"time"

	"github.com/evergreenpress/republisher/internal/domain"
)

const (
	secondsPerHour   = 3600
	secondsPerMinute = 60
	civilDateLayout  = "2006-01-02"
)

// Assignment maps item id to its target publish timestamp.
type Assignment map[int64]time.Time

// AssignTimes divides the publish window into len(candidates) equal segments
// and places each candidate at a deterministic offset inside its segment.
//
// With order preservation enabled, candidate i (oldest-first order) gets
// segment i, so new timestamps keep the original relative chronology. With it
// disabled the candidate-to-segment mapping is shuffled, still one segment
// per candidate. Timestamps are built from civil wall-clock components in
// the site's zone, so a 14:30 local target means 14:30 local across DST
// shifts.
//
// Settings are assumed validated upstream (window start < end).
func AssignTimes(candidates []domain.Item, st *domain.Settings, refDate time.Time) (Assignment, error) {
	assignment := make(Assignment, len(candidates))
	if len(candidates) == 0 {
		return assignment, nil
	}

	loc, err := st.Location()
	if err != nil {
		return nil, err
	}

	day := refDate.In(loc)
	date := day.Format(civilDateLayout)

	windowSeconds := (st.WindowEndHour - st.WindowStartHour) * secondsPerHour
	segmentSeconds := windowSeconds / len(candidates)
	if segmentSeconds < 1 {
		return nil, fmt.Errorf("window of %ds cannot hold %d items", windowSeconds, len(candidates))
	}

	segmentOf := identity(len(candidates))
	if !st.PreserveOrder {
		shuffleRNG := rand.New(rand.NewSource(seed(st.SiteKey, date, "segments")))
		segmentOf = shuffleRNG.Perm(len(candidates))
	}

	for i := range candidates {
		item := candidates[i]
		itemRNG := rand.New(rand.NewSource(seed(st.SiteKey, date, strconv.FormatInt(item.ID, 10))))
		offset := itemRNG.Int63n(int64(segmentSeconds))

		total := st.WindowStartHour*secondsPerHour + segmentOf[i]*segmentSeconds + int(offset)
		hour := total / secondsPerHour
		minute := (total % secondsPerHour) / secondsPerMinute
		second := total % secondsPerMinute

		assignment[item.ID] = time.Date(day.Year(), day.Month(), day.Day(), hour, minute, second, 0, loc)
	}

	return assignment, nil
}

// seed derives a PRNG seed from the site key, civil date and a per-item
// discriminator with FNV-1a. Same inputs, same seed.
func seed(siteKey, date, discriminator string) int64 {
	h := fnv.New64a()
	h.Write([]byte(siteKey))
	h.Write([]byte{'|'})
	h.Write([]byte(date))
	h.Write([]byte{'|'})
	h.Write([]byte(discriminator))
	return int64(h.Sum64())
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
