package engine

import (
	"sync"
	"time"
)

// EventKind is the fixed set of events the orchestrator emits (spec §4.7
// "event bus").
type EventKind string

const (
	EventSyncStarted        EventKind = "sync:started"
	EventSyncCompleted      EventKind = "sync:completed"
	EventSyncError          EventKind = "sync:error"
	EventDataChange         EventKind = "data:change"
	EventConflict           EventKind = "conflict"
	EventTransportModeChange EventKind = "transport:mode"
	EventPresence           EventKind = "presence"
	// EventSyncLive fires when the realtime inline-apply fast path commits
	// changes without running a full sync cycle (spec §4.7 "WS inline-apply
	// fast path").
	EventSyncLive EventKind = "sync:live"
)

// DebounceLevel groups events by how eagerly subscribers want them
// delivered (spec §4.7 "3-level debounce"): Immediate bypasses batching
// entirely, Coalesced merges same-kind events arriving within IdleDebounce,
// Idle only fires once the bus has been quiet for IdleDebounce.
type DebounceLevel string

const (
	DebounceImmediate DebounceLevel = "immediate"
	DebounceCoalesced DebounceLevel = "coalesced"
	DebounceIdle      DebounceLevel = "idle"
)

// Event is one emitted occurrence.
type Event struct {
	Kind      EventKind
	Data      any
	Timestamp time.Time
}

type subscriber struct {
	level DebounceLevel
	ch    chan Event
}

// Bus is a small in-process pub/sub dispatcher with the engine's 3
// debounce levels. Subscribers never block Publish: a full channel drops
// the oldest pending event for that subscriber rather than stalling the
// engine loop.
type Bus struct {
	mu            sync.Mutex
	idleDebounce  time.Duration
	subs          []*subscriber
	pendingCoalesced map[EventKind]Event
	coalesceTimer *time.Timer
	idleTimer     *time.Timer
	idlePending   []Event
}

// NewBus constructs a Bus using idleDebounce as both the coalesce window
// and the idle-quiet window.
func NewBus(idleDebounce time.Duration) *Bus {
	return &Bus{
		idleDebounce:     idleDebounce,
		pendingCoalesced: map[EventKind]Event{},
	}
}

// Subscribe returns a channel that receives events at the given debounce
// level. The channel is buffered; callers should drain it promptly.
func (b *Bus) Subscribe(level DebounceLevel) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscriber{level: level, ch: make(chan Event, 64)}
	b.subs = append(b.subs, s)
	return s.ch
}

// Publish delivers ev to every immediate subscriber synchronously, and
// schedules coalesced/idle delivery per their debounce rule.
func (b *Bus) Publish(kind EventKind, data any) {
	ev := Event{Kind: kind, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		switch s.level {
		case DebounceImmediate:
			deliver(s.ch, ev)
		case DebounceCoalesced:
			b.pendingCoalesced[kind] = ev
			b.scheduleCoalesceLocked()
		case DebounceIdle:
			b.idlePending = append(b.idlePending, ev)
			b.scheduleIdleLocked()
		}
	}
}

func (b *Bus) scheduleCoalesceLocked() {
	if b.coalesceTimer != nil {
		return
	}
	b.coalesceTimer = time.AfterFunc(b.idleDebounce, b.flushCoalesced)
}

func (b *Bus) flushCoalesced() {
	b.mu.Lock()
	pending := b.pendingCoalesced
	b.pendingCoalesced = map[EventKind]Event{}
	b.coalesceTimer = nil
	subs := append([]*subscriber(nil), b.subs...)
	b.mu.Unlock()

	for _, ev := range pending {
		for _, s := range subs {
			if s.level == DebounceCoalesced {
				deliver(s.ch, ev)
			}
		}
	}
}

func (b *Bus) scheduleIdleLocked() {
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
	b.idleTimer = time.AfterFunc(b.idleDebounce, b.flushIdle)
}

func (b *Bus) flushIdle() {
	b.mu.Lock()
	pending := b.idlePending
	b.idlePending = nil
	b.idleTimer = nil
	subs := append([]*subscriber(nil), b.subs...)
	b.mu.Unlock()

	for _, ev := range pending {
		for _, s := range subs {
			if s.level == DebounceIdle {
				deliver(s.ch, ev)
			}
		}
	}
}

func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		// Drop the oldest queued event to make room rather than block the
		// engine loop on a slow subscriber.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
