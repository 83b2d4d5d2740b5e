// Package feedback plays audio and light cues for cycle events on a GPIO
// buzzer and LED, or logs them when no GPIO is available.
package feedback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Cue is an event the operator should hear or see.
type Cue int

const (
	CueReady Cue = iota
	CueCountdown
	CueShutter
	CueProcessing
	CueSuccess
	CuePrintStart
	CuePrintDone
	CueError
)

var cueNames = [...]string{"ready", "countdown", "shutter", "processing", "success", "print_start", "print_done", "error"}

func (c Cue) String() string {
	if c < 0 || int(c) >= len(cueNames) {
		return fmt.Sprintf("cue(%d)", int(c))
	}
	return cueNames[c]
}

// Player plays cues without blocking the caller.
type Player interface {
	Play(Cue)
	Close() error
}

// step is one beep: the output is driven high for On, then low for Off.
type step struct {
	On, Off time.Duration
}

var patterns = map[Cue][]step{
	CueReady:      {{80 * time.Millisecond, 60 * time.Millisecond}, {80 * time.Millisecond, 0}},
	CueCountdown:  {{60 * time.Millisecond, 0}},
	CueShutter:    {{250 * time.Millisecond, 0}},
	CueProcessing: {{40 * time.Millisecond, 80 * time.Millisecond}, {40 * time.Millisecond, 80 * time.Millisecond}, {40 * time.Millisecond, 0}},
	CueSuccess:    {{100 * time.Millisecond, 50 * time.Millisecond}, {200 * time.Millisecond, 0}},
	CuePrintStart: {{50 * time.Millisecond, 0}},
	CuePrintDone:  {{50 * time.Millisecond, 50 * time.Millisecond}, {50 * time.Millisecond, 0}},
	CueError:      {{400 * time.Millisecond, 100 * time.Millisecond}, {400 * time.Millisecond, 0}},
}

// Log writes cues to the log.
type Log struct{}

// Play implements Player.
func (Log) Play(c Cue) { slog.Debug("feedback: cue", "cue", c) }

// Close implements Player.
func (Log) Close() error { return nil }

// GPIO drives a buzzer and an LED from a single worker goroutine. Cues that
// arrive while the queue is full are dropped.
type GPIO struct {
	buzzer gpio.PinOut
	led    gpio.PinOut
	queue  chan Cue
	done   chan struct{}
	once   sync.Once
	sleep  func(time.Duration)
}

// NewGPIO drives buzzer and led; either may be nil.
func NewGPIO(buzzer, led gpio.PinOut) *GPIO {
	g := &GPIO{
		buzzer: buzzer,
		led:    led,
		queue:  make(chan Cue, 8),
		done:   make(chan struct{}),
		sleep:  time.Sleep,
	}
	g.set(gpio.Low)
	go g.run()
	return g
}

// Open initializes the GPIO host and the named pins. It returns a Log
// player when neither pin can be opened.
func Open(buzzerPin, ledPin string) Player {
	if _, err := host.Init(); err != nil {
		slog.Info("feedback: gpio unavailable, logging cues", "reason", err)
		return Log{}
	}

	var buzzer, led gpio.PinOut
	if p := gpioreg.ByName(buzzerPin); p != nil {
		buzzer = p
	}
	if p := gpioreg.ByName(ledPin); p != nil {
		led = p
	}
	if buzzer == nil && led == nil {
		slog.Info("feedback: no buzzer or led pin, logging cues", "buzzer", buzzerPin, "led", ledPin)
		return Log{}
	}
	return NewGPIO(buzzer, led)
}

// Play implements Player.
func (g *GPIO) Play(c Cue) {
	select {
	case <-g.done:
	case g.queue <- c:
	default:
		slog.Debug("feedback: cue dropped", "cue", c)
	}
}

func (g *GPIO) run() {
	for {
		select {
		case <-g.done:
			return
		case c := <-g.queue:
			for _, s := range patterns[c] {
				g.set(gpio.High)
				g.sleep(s.On)
				g.set(gpio.Low)
				if s.Off > 0 {
					g.sleep(s.Off)
				}
			}
		}
	}
}

func (g *GPIO) set(l gpio.Level) {
	for _, p := range []gpio.PinOut{g.buzzer, g.led} {
		if p == nil {
			continue
		}
		if err := p.Out(l); err != nil {
			slog.Debug("feedback: pin write failed", "pin", p.Name(), "error", err)
		}
	}
}

// Close stops the worker and leaves both outputs low.
func (g *GPIO) Close() error {
	g.once.Do(func() { close(g.done) })
	g.set(gpio.Low)
	for _, p := range []gpio.PinOut{g.buzzer, g.led} {
		if p != nil {
			p.Halt()
		}
	}
	return nil
}
