package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/poetrycam/internal/artifact"
	"github.com/ayusman/poetrycam/internal/capture"
	"github.com/ayusman/poetrycam/internal/detector"
	"github.com/ayusman/poetrycam/internal/feedback"
	"github.com/ayusman/poetrycam/internal/poem"
	"github.com/ayusman/poetrycam/internal/printer"
	"github.com/ayusman/poetrycam/internal/store"
	"github.com/ayusman/poetrycam/internal/trigger"
	"gocv.io/x/gocv"
)

type fakeSource struct {
	failCapture atomic.Bool
	failures    atomic.Uint64
	frames      atomic.Int64
}

func (s *fakeSource) GetFrame() *gocv.Mat {
	s.frames.Add(1)
	m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	return &m
}

func (s *fakeSource) CapturePhoto(context.Context) capture.Photo {
	if s.failCapture.Load() {
		m := gocv.NewMat()
		return capture.Photo{Frame: &m, Source: "stream"}
	}
	m := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	return capture.Photo{Frame: &m, Source: "stream"}
}

func (s *fakeSource) Status() capture.Status {
	return capture.Status{Strategy: capture.GenericDriverCapture, TotalFailures: s.failures.Load()}
}

type fakePoems struct {
	analyzeErr error
	poemErr    error
	poem       string
}

func (p *fakePoems) Analyze(context.Context, *gocv.Mat) (poem.Analysis, error) {
	if p.analyzeErr != nil {
		return poem.OfflineAnalysis(), p.analyzeErr
	}
	return poem.Analysis{Description: "a desk", Story: "late work", Items: []string{"lamp"}}, nil
}

func (p *fakePoems) Generate(context.Context, poem.Analysis) (string, error) {
	if p.poemErr != nil {
		return poem.OfflinePoem, p.poemErr
	}
	if p.poem != "" {
		return p.poem, nil
	}
	return "lamp light\non a tired desk", nil
}

type fakePrinter struct {
	mu      sync.Mutex
	outcome printer.Outcome
	err     error
	printed []string

	active  int
	peak    int

	// When release is set, Print signals entered and waits on release.
	entered chan struct{}
	release chan struct{}
}

func (p *fakePrinter) Print(_ context.Context, text string) (printer.Outcome, error) {
	p.mu.Lock()
	p.active++
	p.peak = max(p.peak, p.active)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if p.release != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printed = append(p.printed, text)
	return p.outcome, p.err
}

func (p *fakePrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.printed)
}

func (p *fakePrinter) maxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// gate makes Print block until the returned release func runs.
func (p *fakePrinter) gate(t *testing.T) func() {
	t.Helper()
	p.entered = make(chan struct{}, 1)
	p.release = make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(p.release) }) }
	t.Cleanup(release)
	return release
}

func (p *fakePrinter) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-p.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle reached the printer")
	}
}

type cueRecorder struct {
	mu   sync.Mutex
	cues []feedback.Cue
}

func (r *cueRecorder) Play(c feedback.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

func (r *cueRecorder) Close() error { return nil }

func (r *cueRecorder) has(c feedback.Cue) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.cues {
		if got == c {
			return true
		}
	}
	return false
}

type harness struct {
	app     *App
	source  *fakeSource
	poems   *fakePoems
	printer *fakePrinter
	cues    *cueRecorder
	store   *store.Store
	dir     string
}

func testConfig() Config {
	return Config{
		Mode:           ModeManual,
		Threshold:      95,
		RequiredFrames: 3,
		Countdown:      0,
		CountdownTick:  5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		MaxErrors:      10,
		ErrorDecay:     0.1,
		ProcessTimeout: 5 * time.Second,
	}
}

func newHarness(t *testing.T, cfg Config, factory ClassifierFactory) *harness {
	t.Helper()

	dir := t.TempDir()
	arts, err := artifact.NewStore(filepath.Join(dir, "photos"), filepath.Join(dir, "poems"))
	if err != nil {
		t.Fatalf("artifact.NewStore() error = %v", err)
	}
	s, err := store.New(filepath.Join(dir, "poetrycam.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := &harness{
		source:  &fakeSource{},
		poems:   &fakePoems{},
		printer: &fakePrinter{outcome: printer.OutcomePrinted},
		cues:    &cueRecorder{},
		store:   s,
		dir:     dir,
	}
	h.app, err = New(cfg, Deps{
		Source:      h.source,
		Artifacts:   arts,
		Poems:       h.poems,
		Printer:     h.printer,
		Feedback:    h.cues,
		Store:       s,
		Classifiers: factory,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { h.app.Close() })
	return h
}

func mockFactory(clf *detector.MockClassifier) ClassifierFactory {
	return func(Mode) (detector.Classifier, error) { return clf, nil }
}

func ok(c float64) map[detector.Label]float64 {
	return map[detector.Label]float64{detector.LabelOK: c, detector.LabelNone: 100 - c}
}

func none() map[detector.Label]float64 {
	return map[detector.Label]float64{detector.LabelNone: 99}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNew_RequiresSourceAndArtifacts(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Error("New() without source should fail")
	}
	if _, err := New(testConfig(), Deps{Source: &fakeSource{}}); err == nil {
		t.Error("New() without artifacts should fail")
	}
}

func TestTrigger_ConcurrentCallersStartOneCycle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	const callers = 50
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		busy     atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := h.app.Trigger(trigger.NewEvent(trigger.OriginHTTP))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrCycleActive):
				busy.Add(1)
			default:
				t.Errorf("Trigger() unexpected error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Fatalf("accepted triggers = %d, want 1", got)
	}
	if got := busy.Load(); got != callers-1 {
		t.Errorf("rejected triggers = %d, want %d", got, callers-1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.app.Run(ctx)
		close(done)
	}()

	waitFor(t, "cycle to finish", func() bool { return h.app.Cycles() == 1 && !h.app.Busy() })
	cancel()
	<-done

	if got := h.printer.count(); got != 1 {
		t.Errorf("prints = %d, want 1", got)
	}
	if got := h.app.LastCycle(); got == nil || got.Origin != string(trigger.OriginHTTP) {
		t.Errorf("LastCycle() = %+v, want origin http", got)
	}
}

func TestTrigger_RejectedWhileCycleProcessing(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	release := h.printer.gate(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.app.Run(ctx)
		close(done)
	}()
	defer func() {
		release()
		cancel()
		<-done
	}()

	if err := h.app.Trigger(trigger.NewEvent(trigger.OriginGPIO)); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	h.printer.waitEntered(t)

	if got := h.app.State(); got != StateProcessing {
		t.Fatalf("State() = %s, want processing", got)
	}
	for _, origin := range []trigger.Origin{trigger.OriginGPIO, trigger.OriginHTTP, trigger.OriginRemote, trigger.OriginTUI} {
		if err := h.app.Trigger(trigger.NewEvent(origin)); !errors.Is(err, ErrCycleActive) {
			t.Errorf("Trigger(%s) during processing error = %v, want ErrCycleActive", origin, err)
		}
	}

	release()
	waitFor(t, "cycle to finish", func() bool { return h.app.Cycles() == 1 && !h.app.Busy() })

	if got := h.printer.count(); got != 1 {
		t.Errorf("prints = %d, want 1", got)
	}
	if err := h.app.Trigger(trigger.NewEvent(trigger.OriginGPIO)); err != nil {
		t.Errorf("Trigger() after the cycle error = %v", err)
	}
}

func TestCycle_GestureAndTriggersRunOneAtATime(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	h := newHarness(t, cfg, mockFactory(detector.NewMockClassifier(ok(97))))
	release := h.printer.gate(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.app.Run(ctx)
		close(done)
	}()
	defer func() {
		release()
		cancel()
		<-done
	}()

	// The loop confirms a gesture after a few ticks. One caller switches to
	// manual mode and triggers while others trigger concurrently.
	const callers = 20
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(switcher bool) {
			defer wg.Done()
			<-start
			if switcher {
				time.Sleep(2 * cfg.PollInterval)
				if err := h.app.SetMode(ModeManual); err != nil {
					t.Errorf("SetMode() error = %v", err)
				}
			}
			switch err := h.app.Trigger(trigger.NewEvent(trigger.OriginHTTP)); {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrCycleActive), errors.Is(err, ErrNotManual):
			default:
				t.Errorf("Trigger() unexpected error = %v", err)
			}
		}(i == 0)
	}
	close(start)
	wg.Wait()

	h.printer.waitEntered(t)
	if err := h.app.Trigger(trigger.NewEvent(trigger.OriginHTTP)); !errors.Is(err, ErrCycleActive) {
		t.Errorf("Trigger() during processing error = %v, want ErrCycleActive", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := h.printer.maxConcurrent(); got != 1 {
		t.Fatalf("concurrent prints = %d, want 1", got)
	}

	release()
	waitFor(t, "cycle to finish", func() bool { return h.app.Cycles() >= 1 && !h.app.Busy() })
	time.Sleep(5 * cfg.PollInterval)

	if got := accepted.Load(); got > 1 {
		t.Errorf("accepted triggers = %d, want at most 1", got)
	}
	if got := h.app.Cycles(); got != 1 {
		t.Errorf("cycles = %d, want 1", got)
	}
	if got := h.printer.maxConcurrent(); got != 1 {
		t.Errorf("concurrent prints = %d, want 1", got)
	}
	last := h.app.LastCycle()
	if last.Origin != OriginGesture && last.Origin != string(trigger.OriginHTTP) {
		t.Errorf("LastCycle() origin = %q", last.Origin)
	}
}

func TestTrigger_WaitsForModeChange(t *testing.T) {
	h := newHarness(t, testConfig(), mockFactory(detector.NewMockClassifier()))

	// Hold the mode lock the way SetMode does while swapping classifiers.
	h.app.clfMu.Lock()
	result := make(chan error, 1)
	go func() { result <- h.app.Trigger(trigger.NewEvent(trigger.OriginGPIO)) }()

	time.Sleep(20 * time.Millisecond)
	if h.app.Busy() {
		h.app.clfMu.Unlock()
		t.Fatal("Trigger() started a cycle while the mode was changing")
	}
	h.app.mode = ModeTeachable
	h.app.clfMu.Unlock()

	if err := <-result; !errors.Is(err, ErrNotManual) {
		t.Errorf("Trigger() error = %v, want ErrNotManual", err)
	}
	if h.app.Busy() {
		t.Error("rejected trigger left the machine busy")
	}
}

func TestTrigger_IdleErrorsDoNotAbortCountdown(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	cfg.Countdown = 30 * time.Millisecond

	// A model service that stays down for 200 polls while idle.
	const failing = 200
	clf := detector.NewMockClassifier(none())
	for i := 0; i < failing; i++ {
		clf.FailAt(i, errors.New("model service down"))
	}
	h := newHarness(t, cfg, mockFactory(clf))

	for i := 0; i < failing; i++ {
		h.app.tick(context.Background())
	}
	if got := h.app.budget.Value(); got != cfg.MaxErrors {
		t.Fatalf("budget after %d failing ticks = %v, want capped at %v", failing, got, cfg.MaxErrors)
	}

	if err := h.app.SetMode(ModeManual); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if err := h.app.Trigger(trigger.NewEvent(trigger.OriginGPIO)); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.app.Run(ctx)
		close(done)
	}()
	waitFor(t, "cycle to finish", func() bool { return h.app.Cycles() == 1 && !h.app.Busy() })
	cancel()
	<-done

	last := h.app.LastCycle()
	if last.Outcome != store.OutcomePrinted {
		t.Errorf("Outcome = %s (%s), want printed", last.Outcome, last.Error)
	}
	if h.printer.count() != 1 {
		t.Errorf("prints = %d, want 1", h.printer.count())
	}
}

func TestTrigger_RejectedOutsideManualMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	h := newHarness(t, cfg, mockFactory(detector.NewMockClassifier()))

	if h.app.Mode() != ModeTeachable {
		t.Fatalf("Mode() = %s, want teachable", h.app.Mode())
	}
	if err := h.app.Trigger(trigger.NewEvent(trigger.OriginGPIO)); !errors.Is(err, ErrNotManual) {
		t.Errorf("Trigger() error = %v, want ErrNotManual", err)
	}
	if h.app.Busy() {
		t.Error("rejected trigger left the machine busy")
	}
}

func TestTick_DebouncedGestureStartsCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	clf := detector.NewMockClassifier(ok(97), ok(97), none(), ok(97), ok(97), ok(97), none())
	h := newHarness(t, cfg, mockFactory(clf))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		h.app.tick(ctx)
		if got := h.app.Cycles(); got != 0 {
			t.Fatalf("after tick %d cycles = %d, want 0", i, got)
		}
	}

	h.app.tick(ctx)
	if got := h.app.Cycles(); got != 1 {
		t.Fatalf("after sixth tick cycles = %d, want 1", got)
	}

	last := h.app.LastCycle()
	if last.Origin != OriginGesture || last.Gesture != string(detector.LabelOK) {
		t.Errorf("LastCycle() origin=%q gesture=%q", last.Origin, last.Gesture)
	}
	if run := h.app.debouncer.Run(); run.Count != 0 {
		t.Errorf("run after cycle = %+v, want reset", run)
	}
	if h.app.State() != StateIdle {
		t.Errorf("State() = %s, want idle", h.app.State())
	}
}

func TestTick_LowConfidenceNeverFires(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	h := newHarness(t, cfg, mockFactory(detector.NewMockClassifier(ok(95))))

	for i := 0; i < 10; i++ {
		h.app.tick(context.Background())
	}
	if got := h.app.Cycles(); got != 0 {
		t.Errorf("cycles = %d, want 0 at exactly the threshold", got)
	}
}

func TestTick_ClassifierErrorCountsAsNoDetection(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	clf := detector.NewMockClassifier(ok(97), ok(97), ok(97), ok(97))
	clf.FailAt(1, errors.New("model crashed"))
	h := newHarness(t, cfg, mockFactory(clf))

	for i := 0; i < 3; i++ {
		h.app.tick(context.Background())
	}
	if got := h.app.Cycles(); got != 0 {
		t.Fatalf("cycles = %d, want 0 after an interrupted run", got)
	}
	if h.app.budget.Value() <= 0 {
		t.Error("classifier error was not charged to the error budget")
	}
}

func TestRunCycle_WritesArtifactsWithOneToken(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	if !h.app.machine.Start(ctx) {
		t.Fatal("Start() = false on an idle machine")
	}
	rec := h.app.runCycle(ctx, cycleRequest{origin: "test"})

	if rec.Outcome != store.OutcomePrinted {
		t.Fatalf("Outcome = %s, want printed (error %q)", rec.Outcome, rec.Error)
	}
	if rec.Token == "" {
		t.Fatal("cycle has no token")
	}
	for _, path := range []string{rec.PhotoPath, rec.PoemPath, rec.AnalysisPath} {
		if !strings.Contains(filepath.Base(path), rec.Token) {
			t.Errorf("%s does not carry token %s", path, rec.Token)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}

	data, err := os.ReadFile(rec.PoemPath)
	if err != nil {
		t.Fatalf("read poem: %v", err)
	}
	if !strings.Contains(string(data), "lamp light") {
		t.Errorf("poem file = %q", data)
	}

	saved, err := h.store.Cycles().GetByID(rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if saved.Outcome != store.OutcomePrinted || saved.FinishedAt == nil {
		t.Errorf("stored cycle = %+v", saved)
	}
	if !h.cues.has(feedback.CuePrintDone) {
		t.Error("print done cue not played")
	}
	if h.app.State() != StateIdle {
		t.Errorf("State() = %s, want idle", h.app.State())
	}
}

func TestRunCycle_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		want    store.Outcome
		wantErr bool
		wantCue feedback.Cue
	}{
		{
			name:    "printer missing",
			setup:   func(h *harness) { h.printer.outcome, h.printer.err = printer.OutcomeSimulated, printer.ErrDisabled },
			want:    store.OutcomeGenerated,
			wantErr: true,
			wantCue: feedback.CueSuccess,
		},
		{
			name:    "analysis offline",
			setup:   func(h *harness) { h.poems.analyzeErr = poem.ErrServiceUnavailable },
			want:    store.OutcomePrinted,
			wantErr: true,
			wantCue: feedback.CuePrintDone,
		},
		{
			name:    "poem offline",
			setup:   func(h *harness) { h.poems.poemErr = poem.ErrNoAPIKey },
			want:    store.OutcomePrinted,
			wantErr: true,
			wantCue: feedback.CuePrintDone,
		},
		{
			name:    "capture fails",
			setup:   func(h *harness) { h.source.failCapture.Store(true) },
			want:    store.OutcomeCaptureFailed,
			wantErr: true,
			wantCue: feedback.CueError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), nil)
			tt.setup(h)
			ctx := context.Background()

			h.app.machine.Start(ctx)
			rec := h.app.runCycle(ctx, cycleRequest{origin: "test"})

			if rec.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s (error %q)", rec.Outcome, tt.want, rec.Error)
			}
			if (rec.Error != "") != tt.wantErr {
				t.Errorf("Error = %q, wantErr %v", rec.Error, tt.wantErr)
			}
			if !h.cues.has(tt.wantCue) {
				t.Errorf("cue %s not played", tt.wantCue)
			}
			if h.app.State() != StateIdle {
				t.Errorf("State() = %s, want idle", h.app.State())
			}
			if !h.cues.has(feedback.CueReady) {
				t.Error("ready cue not played after the cycle")
			}
		})
	}
}

func TestRunCycle_CaptureFailureWritesNothing(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.source.failCapture.Store(true)
	ctx := context.Background()

	h.app.machine.Start(ctx)
	rec := h.app.runCycle(ctx, cycleRequest{origin: "test"})

	if !strings.Contains(rec.Error, ErrCaptureFailed.Error()) {
		t.Errorf("Error = %q, want capture failed", rec.Error)
	}
	if got := h.printer.count(); got != 0 {
		t.Errorf("prints = %d, want 0", got)
	}
	entries, _ := os.ReadDir(filepath.Join(h.dir, "poems"))
	if len(entries) != 0 {
		t.Errorf("poem dir has %d entries, want 0", len(entries))
	}
}

func TestCountdown_AbortsWhenErrorBudgetRunsOut(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeTeachable
	cfg.Countdown = 5 * time.Second
	cfg.CountdownTick = time.Millisecond
	cfg.MaxErrors = 3

	clf := detector.NewMockClassifier(none())
	for i := 0; i < 100; i++ {
		clf.FailAt(i, errors.New("no model"))
	}
	h := newHarness(t, cfg, mockFactory(clf))
	ctx := context.Background()

	h.app.machine.Start(ctx)
	start := time.Now()
	rec := h.app.runCycle(ctx, cycleRequest{origin: "test"})

	if time.Since(start) > 2*time.Second {
		t.Errorf("countdown ran for %v, want an early abort", time.Since(start))
	}
	if rec.Outcome != store.OutcomeAborted {
		t.Errorf("Outcome = %s, want aborted", rec.Outcome)
	}
	if !strings.Contains(rec.Error, ErrCountdownAborted.Error()) {
		t.Errorf("Error = %q, want countdown aborted", rec.Error)
	}
	if h.printer.count() != 0 {
		t.Error("aborted cycle printed")
	}
	if h.app.State() != StateIdle {
		t.Errorf("State() = %s, want idle", h.app.State())
	}
}

func TestCountdown_CancelledContextAborts(t *testing.T) {
	cfg := testConfig()
	cfg.Countdown = 5 * time.Second
	h := newHarness(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.app.machine.Start(ctx)
	time.AfterFunc(20*time.Millisecond, cancel)

	rec := h.app.runCycle(ctx, cycleRequest{origin: "test"})
	if rec.Outcome != store.OutcomeAborted {
		t.Errorf("Outcome = %s, want aborted", rec.Outcome)
	}
	if h.app.Busy() {
		t.Error("machine still busy after cancel")
	}
}

func TestCountdown_SourceFailuresChargeBudget(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.source.failures.Store(4)
	h.app.observe()
	if got := h.app.budget.Value(); got != 1 {
		t.Errorf("budget after a failing read = %v, want 1", got)
	}

	h.app.observe()
	if got := h.app.budget.Value(); got >= 1 {
		t.Errorf("budget after a clean read = %v, want it to decay", got)
	}
}

func TestSetMode(t *testing.T) {
	t.Run("persists and swaps classifier", func(t *testing.T) {
		first := detector.NewMockClassifier()
		h := newHarness(t, testConfig(), mockFactory(first))

		if err := h.app.SetMode(ModeMediaPipe); err != nil {
			t.Fatalf("SetMode() error = %v", err)
		}
		if err := h.app.SetMode(ModeManual); err != nil {
			t.Fatalf("SetMode() error = %v", err)
		}
		if !first.Closed() {
			t.Error("previous classifier not closed")
		}
		got, err := h.store.Settings().Get(store.SettingMode)
		if err != nil || got != string(ModeManual) {
			t.Errorf("saved mode = %q, %v", got, err)
		}
	})

	t.Run("falls back to manual", func(t *testing.T) {
		h := newHarness(t, testConfig(), func(Mode) (detector.Classifier, error) {
			return nil, detector.ErrServiceNotFound
		})

		err := h.app.SetMode(ModeTeachable)
		if !errors.Is(err, detector.ErrServiceNotFound) {
			t.Errorf("SetMode() error = %v, want ErrServiceNotFound", err)
		}
		if h.app.Mode() != ModeManual {
			t.Errorf("Mode() = %s, want manual", h.app.Mode())
		}
		if st := h.app.Status().Current(); st.Mode != string(ModeManual) {
			t.Errorf("status mode = %q", st.Mode)
		}
	})
}

func TestNew_RestoresSavedMode(t *testing.T) {
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "poetrycam.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	if err := s.Settings().Set(store.SettingMode, string(ModeMediaPipe)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	arts, _ := artifact.NewStore(filepath.Join(dir, "p"), filepath.Join(dir, "q"))

	a, err := New(testConfig(), Deps{
		Source:      &fakeSource{},
		Artifacts:   arts,
		Store:       s,
		Feedback:    feedback.Log{},
		Classifiers: mockFactory(detector.NewMockClassifier()),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Mode() != ModeMediaPipe {
		t.Errorf("Mode() = %s, want mediapipe", a.Mode())
	}
}

func TestPreviewJPEG(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	if _, err := h.app.PreviewJPEG(); !errors.Is(err, ErrNoPreview) {
		t.Errorf("PreviewJPEG() before first frame error = %v", err)
	}

	h.app.tick(context.Background())
	data, err := h.app.PreviewJPEG()
	if err != nil {
		t.Fatalf("PreviewJPEG() error = %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("preview is not a JPEG")
	}
}
