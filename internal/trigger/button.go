package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrNoGPIO is returned when the GPIO host or pin is unavailable.
var ErrNoGPIO = errors.New("gpio not available")

// DefaultDebounce is the refractory period after a button press.
const DefaultDebounce = 300 * time.Millisecond

// edgePoll bounds each wait so Close and ctx cancellation are noticed.
const edgePoll = 100 * time.Millisecond

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// Button reports falling edges on an input pin wired to a push button
// pulling to ground. Edges within the debounce period of an accepted press
// are ignored.
type Button struct {
	pin      gpio.PinIO
	debounce time.Duration
	now      func() time.Time

	mu     sync.Mutex
	last   time.Time
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// OpenButton initializes the GPIO host and configures the named pin
// (for example "GPIO16").
func OpenButton(name string, debounce time.Duration) (*Button, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGPIO, err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: no pin %s", ErrNoGPIO, name)
	}
	return NewButton(p, debounce)
}

// NewButton configures p as a pulled-up input with falling edge detection.
func NewButton(p gpio.PinIO, debounce time.Duration) (*Button, error) {
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("%w: configure %s: %v", ErrNoGPIO, p, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Button{pin: p, debounce: debounce, now: time.Now}, nil
}

// Name implements Source.
func (b *Button) Name() string {
	return "gpio " + b.pin.Name()
}

// Start implements Source.
func (b *Button) Start(ctx context.Context, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("%w: button closed", ErrNoGPIO)
	}
	if b.cancel != nil {
		return nil
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go b.watch(ctx, h, b.done)
	slog.Info("trigger: watching button", "pin", b.pin.Name(), "debounce", b.debounce)
	return nil
}

func (b *Button) watch(ctx context.Context, h Handler, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if !b.pin.WaitForEdge(edgePoll) {
			continue
		}
		if b.pin.Read() != gpio.Low {
			continue
		}
		if !b.accept(b.now()) {
			continue
		}
		h(NewEvent(OriginGPIO))
	}
}

// accept applies the refractory period.
func (b *Button) accept(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.last.IsZero() && now.Sub(b.last) < b.debounce {
		return false
	}
	b.last = now
	return true
}

// Close stops watching and halts the pin.
func (b *Button) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return b.pin.Halt()
}
