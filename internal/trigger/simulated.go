package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Simulated fires once after Delay and then every Interval. It stands in
// for a button on machines without GPIO.
type Simulated struct {
	delay    time.Duration
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSimulated creates a timer source.
func NewSimulated(delay, interval time.Duration) *Simulated {
	return &Simulated{delay: delay, interval: interval}
}

// Name implements Source.
func (s *Simulated) Name() string { return "simulated" }

// Start implements Source.
func (s *Simulated) Start(ctx context.Context, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, h, s.done)

	slog.Info("trigger: simulated button", "delay", s.delay, "interval", s.interval)
	return nil
}

func (s *Simulated) run(ctx context.Context, h Handler, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		h(NewEvent(OriginSimulated))
	}

	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h(NewEvent(OriginSimulated))
		}
	}
}

// Close stops the timer.
func (s *Simulated) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
