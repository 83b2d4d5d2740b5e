// Package app runs the capture cycle of the poetry camera. A single polling
// loop reads frames, classifies gestures and drives the countdown, capture
// and processing steps; triggers from other goroutines can start a cycle
// through the same state machine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/poetrycam/internal/artifact"
	"github.com/ayusman/poetrycam/internal/capture"
	"github.com/ayusman/poetrycam/internal/config"
	"github.com/ayusman/poetrycam/internal/detector"
	"github.com/ayusman/poetrycam/internal/feedback"
	"github.com/ayusman/poetrycam/internal/gesture"
	"github.com/ayusman/poetrycam/internal/poem"
	"github.com/ayusman/poetrycam/internal/printer"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/ayusman/poetrycam/internal/store"
	"github.com/ayusman/poetrycam/internal/trigger"
	"gocv.io/x/gocv"
)

var (
	// ErrCaptureFailed is returned when a cycle could not obtain a photo.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrCycleActive is returned by Trigger while a cycle is running.
	ErrCycleActive = errors.New("capture cycle already active")
	// ErrNotManual is returned by Trigger outside manual mode.
	ErrNotManual = errors.New("triggers are only accepted in manual mode")
	// ErrCountdownAborted is returned when a countdown is abandoned.
	ErrCountdownAborted = errors.New("countdown aborted")
	// ErrNoPreview is returned before the first frame has been read.
	ErrNoPreview = errors.New("no preview frame yet")
)

// FrameSource supplies live frames and photos.
type FrameSource interface {
	GetFrame() *gocv.Mat
	CapturePhoto(ctx context.Context) capture.Photo
	Status() capture.Status
}

// PoemService analyzes photos and writes poems. Both calls always return a
// usable value; an error reports that an offline fallback was used.
type PoemService interface {
	Analyze(ctx context.Context, photo *gocv.Mat) (poem.Analysis, error)
	Generate(ctx context.Context, a poem.Analysis) (string, error)
}

// Printer prints a poem, degrading to a simulated print.
type Printer interface {
	Print(ctx context.Context, text string) (printer.Outcome, error)
}

// Config holds cycle timing and gesture settings.
type Config struct {
	Mode           Mode
	Threshold      float64
	RequiredFrames int
	Countdown      time.Duration
	CountdownTick  time.Duration
	PollInterval   time.Duration
	MaxErrors      float64
	ErrorDecay     float64
	ProcessTimeout time.Duration
}

// DefaultConfig returns the settings used on the appliance.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom extracts the app settings from the appliance configuration.
func ConfigFrom(c config.Config) Config {
	mode, err := ParseMode(c.Gesture.Mode)
	if err != nil {
		slog.Warn("app: unknown mode, using manual", "mode", c.Gesture.Mode)
		mode = ModeManual
	}
	return Config{
		Mode:           mode,
		Threshold:      c.Gesture.Threshold,
		RequiredFrames: c.Gesture.RequiredFrames,
		Countdown:      c.Cycle.Countdown,
		CountdownTick:  c.Cycle.CountdownTick,
		PollInterval:   c.Cycle.PollInterval,
		MaxErrors:      c.Cycle.MaxErrors,
		ErrorDecay:     c.Cycle.ErrorDecay,
		ProcessTimeout: c.Cycle.ProcessTimeout,
	}
}

// Deps are the collaborators of an App. Source and Artifacts are required;
// the rest default to offline or log-only implementations.
type Deps struct {
	Source      FrameSource
	Artifacts   *artifact.Store
	Poems       PoemService
	Printer     Printer
	Feedback    feedback.Player
	Status      *status.Hub
	Store       *store.Store
	Classifiers ClassifierFactory
}

// App is the capture state machine and its polling loop.
type App struct {
	cfg       Config
	source    FrameSource
	artifacts *artifact.Store
	poems     PoemService
	printer   Printer
	cues      feedback.Player
	status    *status.Hub
	store     *store.Store
	factory   ClassifierFactory

	machine   *Machine
	debouncer *gesture.Debouncer
	budget    *ErrorBudget
	pending   chan trigger.Event

	clfMu      sync.RWMutex
	mode       Mode
	classifier detector.Classifier

	previewMu sync.Mutex
	preview   *gocv.Mat

	// lastFailures is only touched by the polling goroutine.
	lastFailures uint64

	cycles    atomic.Int64
	lastMu    sync.Mutex
	lastCycle *store.Cycle
}

// New creates an App. The mode is restored from the settings store when one
// was saved, otherwise taken from cfg.
func New(cfg Config, deps Deps) (*App, error) {
	if deps.Source == nil {
		return nil, errors.New("app: frame source is required")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("app: artifact store is required")
	}

	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = def.CountdownTick
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = def.MaxErrors
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeManual
	}

	a := &App{
		cfg:       cfg,
		source:    deps.Source,
		artifacts: deps.Artifacts,
		poems:     deps.Poems,
		printer:   deps.Printer,
		cues:      deps.Feedback,
		status:    deps.Status,
		store:     deps.Store,
		factory:   deps.Classifiers,
		debouncer: gesture.NewDebouncer(cfg.Threshold, cfg.RequiredFrames),
		budget:    NewErrorBudget(cfg.MaxErrors, cfg.ErrorDecay),
		pending:   make(chan trigger.Event, 1),
		mode:      ModeManual,
	}
	if a.poems == nil {
		a.poems = poem.NewService(nil, nil, poem.Retry{Attempts: 1})
	}
	if a.printer == nil {
		a.printer = printer.NewService(nil, printer.NewConsole(os.Stdout))
	}
	if a.cues == nil {
		a.cues = feedback.Log{}
	}
	if a.status == nil {
		a.status = status.NewHub()
	}

	a.machine = NewMachine(func(from, to string) {
		slog.Debug("app: state change", "from", from, "to", to)
		a.status.Update(func(s *status.Status) { s.State = to })
	})

	if a.store != nil {
		if n, err := a.store.Cycles().AbandonRunning(); err != nil {
			slog.Warn("app: could not close interrupted cycles", "error", err)
		} else if n > 0 {
			slog.Info("app: marked interrupted cycles aborted", "count", n)
		}
		if n, err := a.store.Cycles().Count(""); err == nil {
			a.cycles.Store(int64(n))
		}
	}

	mode := a.restoreMode(cfg.Mode)
	if err := a.SetMode(mode); err != nil {
		slog.Warn("app: starting in manual mode", "wanted", mode, "error", err)
	}

	a.status.Update(func(s *status.Status) {
		s.State = StateIdle
		s.Cycles = int(a.cycles.Load())
	})
	return a, nil
}

func (a *App) restoreMode(fallback Mode) Mode {
	if a.store == nil {
		return fallback
	}
	v, err := a.store.Settings().Get(store.SettingMode)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("app: could not read saved mode", "error", err)
		}
		return fallback
	}
	m, err := ParseMode(v)
	if err != nil {
		slog.Warn("app: ignoring saved mode", "mode", v)
		return fallback
	}
	return m
}

// Mode returns the current operating mode.
func (a *App) Mode() Mode {
	a.clfMu.RLock()
	defer a.clfMu.RUnlock()
	return a.mode
}

// SetMode switches the operating mode and its classifier. When the
// classifier cannot be started the app falls back to manual mode and the
// error is returned.
func (a *App) SetMode(m Mode) error {
	var (
		clf    detector.Classifier
		result error
	)
	if m != ModeManual {
		if a.factory == nil {
			result = fmt.Errorf("no classifier available for %s", m)
		} else {
			c, err := a.factory(m)
			if err != nil {
				result = fmt.Errorf("start %s classifier: %w", m, err)
			} else {
				clf = c
			}
		}
		if result != nil {
			m = ModeManual
		}
	}

	a.clfMu.Lock()
	old, prev := a.classifier, a.mode
	a.classifier, a.mode = clf, m
	a.clfMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("app: closing classifier", "mode", prev, "error", err)
		}
	}
	a.debouncer.Reset()

	if a.store != nil {
		if err := a.store.Settings().Set(store.SettingMode, string(m)); err != nil {
			slog.Warn("app: could not save mode", "error", err)
		}
	}

	a.status.Update(func(s *status.Status) {
		s.Mode = string(m)
		s.Confidences = nil
		if result != nil {
			s.Level = status.LevelWarn
			s.Message = "Gesture mode unavailable, using manual mode"
		} else {
			s.Level = status.LevelInfo
			s.Message = "Mode: " + m.Title()
		}
	})
	if result == nil {
		slog.Info("app: mode changed", "from", prev, "to", m)
	}
	return result
}

// Trigger asks for a cycle on behalf of a button, UI or remote request. It
// is safe to call from any goroutine; of concurrent callers at most one
// starts a cycle and the rest get ErrCycleActive.
func (a *App) Trigger(ev trigger.Event) error {
	// Holding the read lock keeps SetMode out between the check and Start.
	a.clfMu.RLock()
	if a.mode != ModeManual {
		a.clfMu.RUnlock()
		return ErrNotManual
	}
	started := a.machine.Start(context.Background())
	a.clfMu.RUnlock()
	if !started {
		return ErrCycleActive
	}

	select {
	case a.pending <- ev:
	default:
		a.machine.Reset(context.Background())
		return ErrCycleActive
	}
	slog.Info("app: trigger accepted", "origin", ev.Origin, "id", ev.ID)
	return nil
}

// HandleTrigger adapts Trigger to trigger.Handler.
func (a *App) HandleTrigger(ev trigger.Event) {
	if err := a.Trigger(ev); err != nil {
		slog.Info("app: trigger ignored", "origin", ev.Origin, "reason", err)
		a.status.Message(status.LevelInfo, "Trigger ignored: "+err.Error())
	}
}

// State returns the cycle state.
func (a *App) State() string {
	return a.machine.State()
}

// Busy reports whether a cycle is active.
func (a *App) Busy() bool {
	return a.machine.Busy()
}

// Run is the polling loop. It returns when ctx is done; a cycle that has
// reached the capture step finishes first.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.cues.Play(feedback.CueReady)
	slog.Info("app: polling loop started", "mode", a.Mode(), "interval", a.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("app: polling loop stopped")
			return nil
		case ev := <-a.pending:
			a.runCycle(ctx, cycleRequest{origin: string(ev.Origin)})
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// PreviewJPEG returns the latest frame as JPEG.
func (a *App) PreviewJPEG() ([]byte, error) {
	a.previewMu.Lock()
	defer a.previewMu.Unlock()

	if a.preview == nil {
		return nil, ErrNoPreview
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *a.preview)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Cycles returns how many cycles have completed.
func (a *App) Cycles() int {
	return int(a.cycles.Load())
}

// LastCycle returns the most recent finished cycle, or nil.
func (a *App) LastCycle() *store.Cycle {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	if a.lastCycle == nil {
		return nil
	}
	c := *a.lastCycle
	return &c
}

// Status returns the status hub.
func (a *App) Status() *status.Hub {
	return a.status
}

// Close stops the classifier and drops the preview frame.
func (a *App) Close() error {
	a.clfMu.Lock()
	clf := a.classifier
	a.classifier = nil
	a.clfMu.Unlock()

	var err error
	if clf != nil {
		err = clf.Close()
	}

	a.previewMu.Lock()
	if a.preview != nil {
		a.preview.Close()
		a.preview = nil
	}
	a.previewMu.Unlock()
	return err
}
