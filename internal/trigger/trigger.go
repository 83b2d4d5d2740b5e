// Package trigger delivers "take a photo" requests from buttons, UIs, remote
// control and a demo timer through a single event channel.
package trigger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Origin names where a trigger came from.
type Origin string

const (
	OriginGPIO      Origin = "gpio"
	OriginSimulated Origin = "simulated"
	OriginTray      Origin = "tray"
	OriginTUI       Origin = "tui"
	OriginHTTP      Origin = "http"
	OriginRemote    Origin = "remote"
)

// Event is one trigger request.
type Event struct {
	ID     uuid.UUID `json:"id"`
	Origin Origin    `json:"origin"`
	At     time.Time `json:"at"`
}

// NewEvent stamps a new event from origin.
func NewEvent(origin Origin) Event {
	return Event{ID: uuid.New(), Origin: origin, At: time.Now()}
}

// Handler receives trigger events. Handlers may be called from any
// goroutine.
type Handler func(Event)

// Source produces trigger events until its context ends or it is closed.
type Source interface {
	// Start begins delivering events to h. It returns once the source is
	// running; delivery happens on the source's own goroutine.
	Start(ctx context.Context, h Handler) error

	// Close stops the source and releases its hardware. It is idempotent.
	Close() error

	Name() string
}

// Bus funnels events from every source into one channel and hands them to
// a single consumer.
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewBus creates a bus buffering up to size events.
func NewBus(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{ch: make(chan Event, size)}
}

// Publish queues ev without blocking. When the buffer is full the event is
// dropped; a cycle is already pending in that case.
func (b *Bus) Publish(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
		slog.Debug("trigger: bus full, dropping event", "origin", ev.Origin, "id", ev.ID)
	}
}

// Fire publishes a new event from origin and returns it.
func (b *Bus) Fire(origin Origin) Event {
	ev := NewEvent(origin)
	b.Publish(ev)
	return ev
}

// Dropped returns how many events were discarded.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run hands queued events to h until ctx is done.
func (b *Bus) Run(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.ch:
			h(ev)
		}
	}
}
