package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Config controls strategy selection and frame delivery.
type Config struct {
	Width  int
	Height int
	Index  int

	Cooldown     time.Duration
	Rounds       int
	SettleDelay  time.Duration
	OpenTimeout  time.Duration
	FrameTimeout time.Duration
	StillTimeout time.Duration

	SelfTestReads    int
	SelfTestInterval time.Duration

	// PhotoSamples is how many streamed frames compete for a photo when the
	// still path fails.
	PhotoSamples int

	// ReprobeAfter re-runs strategy selection after that many consecutive
	// read failures. Zero keeps the active strategy forever.
	ReprobeAfter int
}

// DefaultConfig returns the settings used on the appliance.
func DefaultConfig() Config {
	return Config{
		Width:            800,
		Height:           600,
		Cooldown:         DefaultCooldown,
		Rounds:           3,
		SettleDelay:      3 * time.Second,
		OpenTimeout:      5 * time.Second,
		FrameTimeout:     2 * time.Second,
		StillTimeout:     6 * time.Second,
		SelfTestReads:    3,
		SelfTestInterval: 200 * time.Millisecond,
		PhotoSamples:     3,
	}
}

// Photo is the result of CapturePhoto. Frame is never nil.
type Photo struct {
	Frame     *gocv.Mat
	Source    string
	Synthetic bool
}

// Status is a point-in-time view of the source.
type Status struct {
	Strategy      Strategy      `json:"strategy"`
	Candidate     string        `json:"candidate,omitempty"`
	Degraded      bool          `json:"degraded"`
	Cooldown      time.Duration `json:"cooldown"`
	Failures      int           `json:"failures"`
	TotalFailures uint64        `json:"total_failures"`
	HardwareReads uint64        `json:"hardware_reads"`
}

// Option configures a Source.
type Option func(*Source)

// WithCandidates replaces the hardware candidates.
func WithCandidates(c []Candidate) Option {
	return func(s *Source) { s.candidates = c }
}

// WithStill sets the high resolution still path used by CapturePhoto.
func WithStill(still StillCamera) Option {
	return func(s *Source) { s.still = still }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Source is the resilient frame source. GetFrame and CapturePhoto always
// return a frame; when no hardware frame can be had they return a synthetic
// placeholder. Methods are safe for concurrent use.
type Source struct {
	cfg        Config
	candidates []Candidate
	policy     *RecoveryPolicy
	still      StillCamera
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.Mutex
	cam         Camera
	active      Strategy
	activeName  string
	initialized bool
	released    bool
	probeCtx    context.Context

	reprobing atomic.Bool
	inflight  atomic.Bool
	hwReads   atomic.Uint64
}

// NewSource creates a Source. It touches no hardware until Initialize.
func NewSource(cfg Config, opts ...Option) *Source {
	def := DefaultConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = def.FrameTimeout
	}
	if cfg.StillTimeout <= 0 {
		cfg.StillTimeout = def.StillTimeout
	}
	if cfg.SelfTestReads <= 0 {
		cfg.SelfTestReads = def.SelfTestReads
	}
	if cfg.PhotoSamples <= 0 {
		cfg.PhotoSamples = def.PhotoSamples
	}

	s := &Source{
		cfg:    cfg,
		policy: NewRecoveryPolicy(cfg.Cooldown),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.candidates == nil {
		s.candidates = DefaultCandidates(cfg)
	}
	return s
}

// Initialize probes the candidates in order and keeps the first that passes
// its self-test. When every candidate fails in every round the source stays
// in Synthetic mode for good. Initialize never fails; it returns the strategy
// that was selected.
func (s *Source) Initialize(ctx context.Context) Strategy {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return Synthetic
	}
	s.probeCtx = ctx
	s.mu.Unlock()

	cam, c, err := s.probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		if cam != nil {
			cam.Close()
		}
		return Synthetic
	}

	s.initialized = true
	if err != nil {
		s.active = Synthetic
		s.activeName = ""
		s.logger.Warn("capture: no camera found, running on synthetic frames", "error", err)
		return Synthetic
	}

	s.cam = cam
	s.active = c.Strategy
	s.activeName = c.Name
	s.policy.Reset()
	s.logger.Info("capture: camera ready", "strategy", c.Strategy, "candidate", c.Name)
	return c.Strategy
}

func (s *Source) probe(ctx context.Context) (Camera, Candidate, error) {
	for round := 1; round <= s.cfg.Rounds; round++ {
		for _, c := range s.candidates {
			if ctx.Err() != nil {
				return nil, Candidate{}, fmt.Errorf("%w: %v", ErrNoStrategy, ctx.Err())
			}
			if c.Available != nil && !c.Available(ctx) {
				s.logger.Debug("capture: candidate not available", "candidate", c.Name)
				continue
			}

			cam, err := openWithTimeout(ctx, c, s.cfg.OpenTimeout)
			if err != nil {
				s.logger.Debug("capture: candidate failed to open", "candidate", c.Name, "round", round, "error", err)
				continue
			}

			if s.selfTest(ctx, cam) {
				return cam, c, nil
			}
			s.logger.Debug("capture: candidate failed self-test", "candidate", c.Name, "round", round)
			cam.Close()
		}

		if round < s.cfg.Rounds && s.cfg.SettleDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.SettleDelay):
			}
		}
	}
	return nil, Candidate{}, ErrNoStrategy
}

// selfTest reads a short burst and requires a majority of good frames.
func (s *Source) selfTest(ctx context.Context, cam Camera) bool {
	good := 0
	for i := 0; i < s.cfg.SelfTestReads; i++ {
		if i > 0 && s.cfg.SelfTestInterval > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.cfg.SelfTestInterval):
			}
		}

		frame, err := s.read(cam)
		if err == nil && wellFormed(frame) && frame.Channels() == 3 {
			good++
		}
		if frame != nil {
			frame.Close()
		}
	}
	return good*2 > s.cfg.SelfTestReads
}

type readResult struct {
	frame *gocv.Mat
	err   error
}

// read performs one hardware read bounded by FrameTimeout. Only one read may
// be outstanding; a read abandoned on timeout blocks further reads until it
// returns, and its frame is discarded.
func (s *Source) read(cam Camera) (*gocv.Mat, error) {
	if !s.inflight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: previous read still pending", ErrFrameTimeout)
	}
	s.hwReads.Add(1)

	done := make(chan readResult, 1)
	go func() {
		frame, err := cam.ReadFrame()
		s.inflight.Store(false)
		done <- readResult{frame: frame, err: err}
	}()

	timer := time.NewTimer(s.cfg.FrameTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.frame, r.err
	case <-timer.C:
		go func() {
			if r := <-done; r.frame != nil {
				r.frame.Close()
			}
		}()
		return nil, fmt.Errorf("%w: no frame within %v", ErrFrameTimeout, s.cfg.FrameTimeout)
	}
}

// GetFrame returns the next frame at the configured size. It never returns
// nil and never panics; the caller owns the returned Mat.
func (s *Source) GetFrame() *gocv.Mat {
	frame, _ := s.frame()
	return frame
}

// frame is GetFrame that also reports whether the frame came from hardware.
func (s *Source) frame() (frame *gocv.Mat, real bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("capture: recovered from panic while reading frame", "panic", r)
			s.policy.RecordFailure(s.now())
			frame, real = s.synthetic(ReasonRecovery, false), false
		}
	}()

	s.mu.Lock()
	cam, active, initialized := s.cam, s.active, s.initialized
	s.mu.Unlock()

	switch {
	case !initialized || s.reprobing.Load():
		return s.synthetic(ReasonInitializing, false), false
	case active == Synthetic || cam == nil:
		return s.synthetic(ReasonNoCamera, false), false
	case s.policy.InCooldown(s.now()):
		return s.synthetic(ReasonRecovery, false), false
	}

	raw, err := s.read(cam)
	if err == nil && !wellFormed(raw) {
		if raw != nil {
			raw.Close()
		}
		err = ErrMalformedFrame
	}
	if err != nil {
		s.policy.RecordFailure(s.now())
		s.logger.Debug("capture: frame read failed, cooling down",
			"candidate", s.activeNameLocked(), "failures", s.policy.Failures(), "error", err)
		s.maybeReprobe()
		return s.synthetic(ReasonRecovery, false), false
	}

	s.policy.RecordSuccess()
	return normalize(raw, s.cfg.Width, s.cfg.Height), true
}

func (s *Source) activeNameLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeName
}

func (s *Source) synthetic(reason string, captured bool) *gocv.Mat {
	now := s.now()
	return SyntheticFrame(s.cfg.Width, s.cfg.Height, now, SyntheticInfo{
		Reason:   reason,
		Cooldown: s.policy.Remaining(now),
		Captured: captured,
	})
}

// maybeReprobe drops the active camera and selects a strategy again in the
// background once ReprobeAfter consecutive failures have accumulated.
func (s *Source) maybeReprobe() {
	if s.cfg.ReprobeAfter <= 0 || s.policy.Failures() < s.cfg.ReprobeAfter {
		return
	}
	if !s.reprobing.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	cam := s.cam
	s.cam = nil
	ctx := s.probeCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.logger.Warn("capture: too many read failures, selecting a strategy again", "failures", s.policy.Failures())

	go func() {
		defer s.reprobing.Store(false)
		if cam != nil {
			s.closeCamera(cam)
		}
		s.Initialize(ctx)
	}()
}

// CapturePhoto takes a photo for a cycle. It prefers the still path bounded
// by StillTimeout, then the sharpest of a few streamed frames, then a
// synthetic frame marked as captured.
func (s *Source) CapturePhoto(ctx context.Context) Photo {
	if s.Strategy() != Synthetic && s.still != nil {
		frame, err := s.captureStill(ctx)
		if err == nil {
			return Photo{Frame: frame, Source: "still"}
		}
		s.logger.Warn("capture: still capture failed, using stream", "error", err)
	}

	var best *gocv.Mat
	bestScore := -1.0
	for i := 0; i < s.cfg.PhotoSamples; i++ {
		frame, real := s.frame()
		if !real {
			frame.Close()
			continue
		}
		if score := Sharpness(frame); score > bestScore {
			if best != nil {
				best.Close()
			}
			best, bestScore = frame, score
		} else {
			frame.Close()
		}
	}
	if best != nil {
		return Photo{Frame: best, Source: "stream"}
	}

	reason := ReasonNoCamera
	if s.policy.InCooldown(s.now()) {
		reason = ReasonRecovery
	}
	return Photo{Frame: s.synthetic(reason, true), Source: "synthetic", Synthetic: true}
}

func (s *Source) captureStill(ctx context.Context) (*gocv.Mat, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StillTimeout)
	defer cancel()

	done := make(chan readResult, 1)
	go func() {
		frame, err := s.still.Capture(ctx)
		done <- readResult{frame: frame, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if !wellFormed(r.frame) {
			if r.frame != nil {
				r.frame.Close()
			}
			return nil, ErrMalformedFrame
		}
		return r.frame, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.frame != nil {
				r.frame.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrStillTimeout, ctx.Err())
	}
}

// Release closes the hardware handle. It is idempotent and safe to call
// before or during Initialize.
func (s *Source) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	cam := s.cam
	s.cam = nil
	s.active = Synthetic
	s.initialized = true
	s.mu.Unlock()

	if cam != nil {
		s.closeCamera(cam)
	}
	s.logger.Info("capture: released")
}

// closeCamera closes cam, giving up after FrameTimeout when a stuck read
// holds the device.
func (s *Source) closeCamera(cam Camera) {
	done := make(chan error, 1)
	go func() { done <- cam.Close() }()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("capture: closing camera", "error", err)
		}
	case <-time.After(s.cfg.FrameTimeout):
		s.logger.Warn("capture: camera close still pending, continuing")
	}
}

// Strategy returns the active strategy, StrategyNone before Initialize.
func (s *Source) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return StrategyNone
	}
	return s.active
}

// Degraded reports whether frames are currently synthetic.
func (s *Source) Degraded() bool {
	st := s.Strategy()
	return st == StrategyNone || st == Synthetic || s.policy.InCooldown(s.now())
}

// HardwareReads returns the number of hardware reads attempted.
func (s *Source) HardwareReads() uint64 {
	return s.hwReads.Load()
}

// Status reports the source state.
func (s *Source) Status() Status {
	s.mu.Lock()
	st := Status{Strategy: s.active, Candidate: s.activeName}
	if !s.initialized {
		st.Strategy = StrategyNone
	}
	s.mu.Unlock()

	now := s.now()
	st.Cooldown = s.policy.Remaining(now)
	st.Degraded = st.Strategy == StrategyNone || st.Strategy == Synthetic || st.Cooldown > 0
	st.Failures = s.policy.Failures()
	st.TotalFailures = s.policy.TotalFailures()
	st.HardwareReads = s.hwReads.Load()
	return st
}
