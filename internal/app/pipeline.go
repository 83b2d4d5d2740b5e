package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ayusman/poetrycam/internal/artifact"
	"github.com/ayusman/poetrycam/internal/capture"
	"github.com/ayusman/poetrycam/internal/detector"
	"github.com/ayusman/poetrycam/internal/feedback"
	"github.com/ayusman/poetrycam/internal/printer"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/ayusman/poetrycam/internal/store"
	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// OriginGesture marks cycles started by a recognized hand sign.
const OriginGesture = "gesture"

type cycleRequest struct {
	origin  string
	gesture detector.Label
}

// tick is one pass of the polling loop in Idle:
// 1. Read a frame (always succeeds, possibly synthetic)
// 2. Classify it in gesture modes
// 3. Feed the debouncer
// 4. Start a cycle when the run is long enough
func (a *App) tick(ctx context.Context) {
	mode, obs, failed := a.observe()

	conf := obs.Confidences
	var (
		run  = a.debouncer.Run()
		fire bool
	)
	if mode != ModeManual {
		run, fire = a.debouncer.Observe(conf)
	}

	src := a.source.Status()
	a.status.Update(func(s *status.Status) {
		s.Mode = string(mode)
		s.Strategy = src.Strategy.String()
		s.Degraded = src.Degraded
		s.Cooldown = src.Cooldown
		s.Confidences = labelMap(conf)
	})

	if failed {
		slog.Debug("app: tick had errors", "budget", a.budget.Value())
	}

	if fire && a.machine.Start(ctx) {
		slog.Info("app: gesture confirmed", "label", run.Label, "frames", run.Count)
		a.runCycle(ctx, cycleRequest{origin: OriginGesture, gesture: run.Label})
	}
}

// observe reads and classifies one frame, keeps it as the preview and
// charges the error budget. A classifier error counts as zero confidence.
func (a *App) observe() (Mode, detector.Observation, bool) {
	frame := a.source.GetFrame()
	failed := a.sourceFailed()

	mode, obs, err := a.classify(frame)
	if err != nil {
		slog.Debug("app: classification failed", "mode", mode, "error", err)
		obs = detector.Observation{}
		failed = true
	}

	if failed {
		a.budget.Fail()
	} else {
		a.budget.Ok()
	}

	a.setPreview(frame, &obs)
	return mode, obs, failed
}

// sourceFailed reports whether the frame source recorded a failure since
// the previous call.
func (a *App) sourceFailed() bool {
	total := a.source.Status().TotalFailures
	failed := total > a.lastFailures
	a.lastFailures = total
	return failed
}

func (a *App) classify(frame *gocv.Mat) (mode Mode, obs detector.Observation, err error) {
	a.clfMu.RLock()
	defer a.clfMu.RUnlock()

	if a.classifier == nil {
		return a.mode, detector.Observation{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	obs, err = a.classifier.Predict(frame)
	return a.mode, obs, err
}

// setPreview takes ownership of frame and of obs.Annotated.
func (a *App) setPreview(frame *gocv.Mat, obs *detector.Observation) {
	next := frame
	if obs.Annotated != nil && !obs.Annotated.Empty() {
		frame.Close()
		next = obs.Annotated
		obs.Annotated = nil
	}

	a.previewMu.Lock()
	old := a.preview
	a.preview = next
	a.previewMu.Unlock()

	if old != nil {
		old.Close()
	}
}

// runCycle drives Countdown, Capturing and Processing. The machine must
// already be in Countdown. Every path ends in Idle with the detection run
// cleared.
func (a *App) runCycle(ctx context.Context, req cycleRequest) *store.Cycle {
	rec := &store.Cycle{
		ID:        uuid.NewString(),
		Origin:    req.origin,
		Gesture:   string(req.gesture),
		Mode:      string(a.Mode()),
		Strategy:  a.source.Status().Strategy.String(),
		StartedAt: time.Now(),
	}
	a.createCycle(rec)
	a.budget.Reset()
	slog.Info("app: cycle started", "id", rec.ID, "origin", rec.Origin, "gesture", rec.Gesture)

	a.status.Update(func(s *status.Status) {
		s.CycleID = rec.ID
		s.Level = status.LevelInfo
		s.Message = "Get ready!"
	})

	outcome := store.OutcomeAborted
	defer func() { a.endCycle(rec, outcome) }()

	if err := a.countdown(ctx); err != nil {
		slog.Warn("app: countdown aborted", "id", rec.ID, "error", err)
		rec.Error = err.Error()
		a.cues.Play(feedback.CueError)
		a.status.Message(status.LevelError, "Countdown aborted")
		return rec
	}

	// From here the cycle runs to completion even if ctx is cancelled.
	work := context.WithoutCancel(ctx)
	if err := a.machine.Capture(work); err != nil {
		rec.Error = err.Error()
		return rec
	}

	tok, photo, err := a.capture(work, rec)
	if err != nil {
		slog.Error("app: capture failed", "id", rec.ID, "error", err)
		rec.Error = err.Error()
		outcome = store.OutcomeCaptureFailed
		a.cues.Play(feedback.CueError)
		a.status.Message(status.LevelError, "Capture failed")
		return rec
	}
	defer photo.Close()

	if err := a.machine.Process(work); err != nil {
		rec.Error = err.Error()
		return rec
	}
	outcome = a.process(work, rec, tok, photo)

	if err := a.machine.Finish(work); err != nil {
		slog.Warn("app: finish transition", "error", err)
	}
	return rec
}

// countdown blocks for the configured duration while keeping the preview
// live. It fails early when the error budget runs out or ctx ends.
func (a *App) countdown(ctx context.Context) error {
	deadline := time.Now().Add(a.cfg.Countdown)
	last := -1

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			a.status.Update(func(s *status.Status) { s.Countdown = 0 })
			return nil
		}

		if secs := int(math.Ceil(remaining.Seconds())); secs != last {
			last = secs
			a.cues.Play(feedback.CueCountdown)
			a.status.Update(func(s *status.Status) {
				s.Countdown = secs
				s.Level = status.LevelInfo
				s.Message = fmt.Sprintf("Taking photo in %d", secs)
			})
		}

		_, obs, _ := a.observe()
		if conf := labelMap(obs.Confidences); conf != nil {
			a.status.Update(func(s *status.Status) { s.Confidences = conf })
		}
		if a.budget.Exhausted() {
			return fmt.Errorf("%w: %.1f errors", ErrCountdownAborted, a.budget.Value())
		}

		t := time.NewTimer(min(a.cfg.CountdownTick, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", ErrCountdownAborted, ctx.Err())
		case <-t.C:
		}
	}
}

// capture takes the photo and persists it under a fresh token.
func (a *App) capture(ctx context.Context, rec *store.Cycle) (artifact.Token, *gocv.Mat, error) {
	a.status.Message(status.LevelInfo, "Capturing")

	photo := a.source.CapturePhoto(ctx)
	if photo.Frame == nil || photo.Frame.Empty() {
		if photo.Frame != nil {
			photo.Frame.Close()
		}
		return "", nil, fmt.Errorf("%w: no image", ErrCaptureFailed)
	}
	a.cues.Play(feedback.CueShutter)

	tok, err := a.artifacts.Allocate(time.Now())
	if err != nil {
		photo.Frame.Close()
		return "", nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	path, err := a.artifacts.SavePhoto(tok, photo.Frame)
	if err != nil {
		photo.Frame.Close()
		a.artifacts.Discard(tok)
		return "", nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if !a.artifacts.MarkProcessed(path) {
		photo.Frame.Close()
		return "", nil, fmt.Errorf("%w: %s already processed", ErrCaptureFailed, path)
	}

	rec.Token = string(tok)
	rec.PhotoPath = path
	a.updateCycle(rec)

	slog.Info("app: photo saved", "path", path, "source", photo.Source, "synthetic", photo.Synthetic)
	a.status.Update(func(s *status.Status) {
		s.LastPhoto = path
		if photo.Synthetic {
			s.Level = status.LevelWarn
			s.Message = "Camera unavailable, captured a placeholder"
		} else {
			s.Level = status.LevelInfo
			s.Message = "Photo captured"
		}
	})
	return tok, photo.Frame, nil
}

// process runs analysis, poem and print in order. Failures are reported and
// replaced by fallbacks; the cycle always reaches the end.
func (a *App) process(ctx context.Context, rec *store.Cycle, tok artifact.Token, photo *gocv.Mat) store.Outcome {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ProcessTimeout)
	defer cancel()

	a.cues.Play(feedback.CueProcessing)
	a.status.Message(status.LevelInfo, "Looking at your photo")

	analysis, err := a.poems.Analyze(ctx, photo)
	if err != nil {
		a.noteError(rec, "analysis", err)
		a.status.Message(status.LevelWarn, "Photo analysis offline, using a stand-in")
	}
	if path, err := a.artifacts.SaveAnalysis(tok, analysis.Text()); err != nil {
		a.noteError(rec, "save analysis", err)
	} else {
		rec.AnalysisPath = path
	}

	a.status.Message(status.LevelInfo, "Writing your poem")
	text, err := a.poems.Generate(ctx, analysis)
	if err != nil {
		a.noteError(rec, "poem", err)
		a.status.Message(status.LevelWarn, "Poem service offline, using a stand-in")
	}
	rec.Poem = text
	if path, err := a.artifacts.SavePoem(tok, text); err != nil {
		a.noteError(rec, "save poem", err)
		a.status.Message(status.LevelError, "Could not save the poem")
	} else {
		rec.PoemPath = path
		a.status.Update(func(s *status.Status) { s.LastPoem = path })
	}
	a.updateCycle(rec)

	a.cues.Play(feedback.CuePrintStart)
	a.status.Message(status.LevelInfo, "Printing")
	outcome, err := a.printer.Print(ctx, text)
	if err != nil {
		a.noteError(rec, "print", err)
	}

	if outcome == printer.OutcomePrinted {
		a.cues.Play(feedback.CuePrintDone)
		a.cues.Play(feedback.CueSuccess)
		a.status.Message(status.LevelInfo, "Poem printed")
		return store.OutcomePrinted
	}

	a.cues.Play(feedback.CueSuccess)
	a.status.Message(status.LevelWarn, "Printer unavailable, poem shown on screen")
	return store.OutcomeGenerated
}

// endCycle returns the machine to Idle, clears the detection run and
// records the outcome.
func (a *App) endCycle(rec *store.Cycle, outcome store.Outcome) {
	if a.machine.Reset(context.Background()) {
		slog.Debug("app: cycle reset to idle", "id", rec.ID)
	}
	a.debouncer.Reset()

	now := time.Now()
	rec.Outcome = outcome
	rec.FinishedAt = &now
	if a.store != nil {
		if err := a.store.Cycles().Update(rec); err != nil {
			slog.Warn("app: could not record cycle", "id", rec.ID, "error", err)
		}
	}

	n := a.cycles.Add(1)
	a.lastMu.Lock()
	c := *rec
	a.lastCycle = &c
	a.lastMu.Unlock()

	slog.Info("app: cycle finished", "id", rec.ID, "outcome", outcome,
		"took", now.Sub(rec.StartedAt).Round(time.Millisecond))

	a.status.Update(func(s *status.Status) {
		s.CycleID = ""
		s.Countdown = 0
		s.Cycles = int(n)
	})
	a.cues.Play(feedback.CueReady)
}

func (a *App) createCycle(rec *store.Cycle) {
	if a.store == nil {
		return
	}
	if err := a.store.Cycles().Create(rec); err != nil {
		slog.Warn("app: could not record cycle start", "id", rec.ID, "error", err)
	}
}

func (a *App) updateCycle(rec *store.Cycle) {
	if a.store == nil {
		return
	}
	if err := a.store.Cycles().Update(rec); err != nil {
		slog.Warn("app: could not update cycle", "id", rec.ID, "error", err)
	}
}

func (a *App) noteError(rec *store.Cycle, step string, err error) {
	slog.Warn("app: cycle step degraded", "id", rec.ID, "step", step, "error", err)
	msg := step + ": " + err.Error()
	if rec.Error == "" {
		rec.Error = msg
		return
	}
	rec.Error = strings.Join([]string{rec.Error, msg}, "; ")
}

func labelMap(conf map[detector.Label]float64) map[string]float64 {
	if len(conf) == 0 {
		return nil
	}
	out := make(map[string]float64, len(conf))
	for l, c := range conf {
		out[string(l)] = c
	}
	return out
}

var _ FrameSource = (*capture.Source)(nil)
