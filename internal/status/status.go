// Package status holds the operator-facing view of the appliance and fans
// updates out to the tray, terminal console, websocket and MQTT surfaces.
package status

import (
	"sync"
	"time"
)

// Level classifies a status message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Status is a snapshot of what the appliance is doing.
type Status struct {
	State       string             `json:"state"`
	Mode        string             `json:"mode"`
	Strategy    string             `json:"strategy"`
	Degraded    bool               `json:"degraded"`
	Cooldown    time.Duration      `json:"cooldown"`
	Countdown   int                `json:"countdown,omitempty"`
	Confidences map[string]float64 `json:"confidences,omitempty"`
	Message     string             `json:"message"`
	Level       Level              `json:"level"`
	CycleID     string             `json:"cycle_id,omitempty"`
	LastPhoto   string             `json:"last_photo,omitempty"`
	LastPoem    string             `json:"last_poem,omitempty"`
	Cycles      int                `json:"cycles"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Hub keeps the latest Status and delivers changes to subscribers.
// Slow subscribers miss intermediate updates but always see the newest one.
type Hub struct {
	mu      sync.RWMutex
	current Status
	subs    map[chan Status]struct{}
}

// NewHub creates a hub with an initial idle status.
func NewHub() *Hub {
	return &Hub{
		current: Status{State: "idle", Level: LevelInfo, UpdatedAt: time.Now()},
		subs:    make(map[chan Status]struct{}),
	}
}

// Current returns the latest status.
func (h *Hub) Current() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.clone()
}

// Update applies fn to the current status and broadcasts the result.
func (h *Hub) Update(fn func(*Status)) Status {
	h.mu.Lock()
	fn(&h.current)
	h.current.UpdatedAt = time.Now()
	st := h.current.clone()

	for ch := range h.subs {
		select {
		case ch <- st:
		default:
			// Replace the stale pending update with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
	h.mu.Unlock()
	return st
}

// Message sets the status line.
func (h *Hub) Message(level Level, msg string) {
	h.Update(func(s *Status) {
		s.Level = level
		s.Message = msg
	})
}

// Subscribe returns a channel of status updates and a function that
// unsubscribes and closes it. The current status is delivered first.
func (h *Hub) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	ch <- h.current.clone()
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
}

func (s Status) clone() Status {
	if s.Confidences != nil {
		c := make(map[string]float64, len(s.Confidences))
		for k, v := range s.Confidences {
			c[k] = v
		}
		s.Confidences = c
	}
	return s
}
