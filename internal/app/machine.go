package app

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Cycle states.
const (
	StateIdle       = "idle"
	StateCountdown  = "countdown"
	StateCapturing  = "capturing"
	StateProcessing = "processing"
)

// Cycle events.
const (
	eventTrigger = "trigger"
	eventCapture = "capture"
	eventProcess = "process"
	eventFinish  = "finish"
	eventAbort   = "abort"
)

// Machine is the capture cycle state. The only way out of Idle is Start,
// which is a single atomic check-and-set: of any number of concurrent
// callers exactly one wins while a cycle is active.
type Machine struct {
	fsm *fsm.FSM
}

// NewMachine creates a machine in Idle. onEnter, if set, is called after
// every state change from the goroutine that caused it.
func NewMachine(onEnter func(from, to string)) *Machine {
	callbacks := fsm.Callbacks{}
	if onEnter != nil {
		callbacks["enter_state"] = func(_ context.Context, e *fsm.Event) {
			onEnter(e.Src, e.Dst)
		}
	}

	return &Machine{
		fsm: fsm.NewFSM(
			StateIdle,
			fsm.Events{
				{Name: eventTrigger, Src: []string{StateIdle}, Dst: StateCountdown},
				{Name: eventCapture, Src: []string{StateCountdown}, Dst: StateCapturing},
				{Name: eventProcess, Src: []string{StateCapturing}, Dst: StateProcessing},
				{Name: eventFinish, Src: []string{StateProcessing}, Dst: StateIdle},
				{Name: eventAbort, Src: []string{StateCountdown, StateCapturing, StateProcessing}, Dst: StateIdle},
			},
			callbacks,
		),
	}
}

// Start moves Idle to Countdown. It returns false when a cycle is already
// active.
func (m *Machine) Start(ctx context.Context) bool {
	return m.fsm.Event(ctx, eventTrigger) == nil
}

// Capture moves Countdown to Capturing.
func (m *Machine) Capture(ctx context.Context) error {
	return m.fsm.Event(ctx, eventCapture)
}

// Process moves Capturing to Processing.
func (m *Machine) Process(ctx context.Context) error {
	return m.fsm.Event(ctx, eventProcess)
}

// Finish moves Processing to Idle.
func (m *Machine) Finish(ctx context.Context) error {
	return m.fsm.Event(ctx, eventFinish)
}

// Reset returns the machine to Idle from any state. It reports whether a
// transition happened.
func (m *Machine) Reset(ctx context.Context) bool {
	err := m.fsm.Event(ctx, eventAbort)
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return false
	}
	return err == nil
}

// State returns the current state.
func (m *Machine) State() string {
	return m.fsm.Current()
}

// Busy reports whether a cycle is active.
func (m *Machine) Busy() bool {
	return !m.fsm.Is(StateIdle)
}
