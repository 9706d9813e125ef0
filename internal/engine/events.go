package engine

import (
	"time"

	"github.com/evergreenpress/republisher/internal/domain"
)

// Observer receives engine state-transition notifications. Consumers
// (metrics, cache invalidation, audit) subscribe without the engine knowing
// about them. Callbacks run synchronously on the batch goroutine, so they
// must be fast and must not block.
type Observer interface {
	BatchStarted(trigger domain.Trigger, candidates int)
	ItemApplied(item *domain.Item, target time.Time)
	ItemFailed(item *domain.Item, err error)
	BatchFinished(result *domain.BatchResult)
}

// Subscribe registers an observer. Not safe for concurrent use with a
// running batch; register everything during startup.
func (e *Engine) Subscribe(obs Observer) {
	e.observers = append(e.observers, obs)
}

func (e *Engine) notifyStarted(trigger domain.Trigger, candidates int) {
	for _, obs := range e.observers {
		obs.BatchStarted(trigger, candidates)
	}
}

func (e *Engine) notifyApplied(item *domain.Item, target time.Time) {
	for _, obs := range e.observers {
		obs.ItemApplied(item, target)
	}
}

func (e *Engine) notifyFailed(item *domain.Item, err error) {
	for _, obs := range e.observers {
		obs.ItemFailed(item, err)
	}
}

func (e *Engine) notifyFinished(result *domain.BatchResult) {
	for _, obs := range e.observers {
		obs.BatchFinished(result)
	}
}
