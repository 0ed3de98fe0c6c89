package streaming

import (
	"context"
	"slices"
	"sync"
)

// Per-subscriber buffer. A subscriber that falls this far behind
// starts losing events rather than stalling the publisher.
const subscriberBuffer = 64

type subscription struct {
	ch     chan StreamEvent
	filter EventFilter
}

// MemoryHub is the channel-based EventHub used in-process. Publish
// never blocks: slow subscribers drop events once their buffer fills,
// and SSE consumers recover missed events from the store's sequenced
// log.
type MemoryHub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscription
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscription)}
}

func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a filtered subscriber. The returned cancel
// function detaches it; the channel is never closed by the hub, so
// receivers select on their own context instead of ranging.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		ch:     make(chan StreamEvent, subscriberBuffer),
		filter: filter,
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

// matches reports whether an event passes the filter. Empty fields
// match everything.
func (f EventFilter) matches(e StreamEvent) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}
