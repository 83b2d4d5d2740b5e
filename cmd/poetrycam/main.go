package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ayusman/poetrycam/internal/app"
	"github.com/ayusman/poetrycam/internal/artifact"
	"github.com/ayusman/poetrycam/internal/capture"
	"github.com/ayusman/poetrycam/internal/config"
	"github.com/ayusman/poetrycam/internal/feedback"
	"github.com/ayusman/poetrycam/internal/poem"
	"github.com/ayusman/poetrycam/internal/printer"
	"github.com/ayusman/poetrycam/internal/remote"
	"github.com/ayusman/poetrycam/internal/server"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/ayusman/poetrycam/internal/store"
	"github.com/ayusman/poetrycam/internal/tray"
	"github.com/ayusman/poetrycam/internal/trigger"
	"github.com/ayusman/poetrycam/internal/tui"
)

const stillQuality = 95

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	ui := flag.String("ui", "", "operator interface: tui, tray or headless")
	mode := flag.String("mode", "", "initial mode: manual, teachable or mediapipe")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poetrycam: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *ui != "" {
		cfg.UI = *ui
	}
	if *mode != "" {
		cfg.Gesture.Mode = *mode
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "poetrycam: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "poetrycam: create data directory: %v\n", err)
		os.Exit(1)
	}

	logClose, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poetrycam: %v\n", err)
		os.Exit(1)
	}
	defer logClose()

	if err := run(cfg); err != nil {
		slog.Error("poetrycam: exiting", "error", err)
		logClose()
		os.Exit(1)
	}
}

// setupLogging installs the default slog logger. The terminal console owns
// stdout, so in tui mode logs go to a file in the data directory.
func setupLogging(cfg config.Config) (func(), error) {
	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.UI == "tui" {
		f, err := os.OpenFile(filepath.Join(cfg.DataDir, "poetrycam.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		var once sync.Once
		closeFn = func() { once.Do(func() { f.Close() }) }
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return closeFn, nil
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("poetrycam: starting", "ui", cfg.UI, "mode", cfg.Gesture.Mode, "data_dir", cfg.DataDir)

	// Frame source
	camCfg := cameraConfig(cfg.Camera)
	opts := []capture.Option{capture.WithCandidates(capture.DefaultCandidates(camCfg))}
	if still, err := capture.FindStillCommand(cfg.Camera.StillWidth, cfg.Camera.StillHeight, stillQuality); err == nil {
		opts = append(opts, capture.WithStill(still))
	} else {
		slog.Info("poetrycam: no still camera tool, photos come from the stream", "reason", err)
	}
	source := capture.NewSource(camCfg, opts...)
	defer source.Release()

	strategy := source.Initialize(ctx)
	slog.Info("poetrycam: frame source ready", "strategy", strategy, "degraded", source.Degraded())

	// Persistence
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	artifacts, err := artifact.NewStore(cfg.Cycle.PhotoDir, cfg.Cycle.PoemDir)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	// Collaborators
	poems, err := poem.FromConfig(cfg.Poem)
	if err != nil {
		return fmt.Errorf("configure poem service: %w", err)
	}

	consoleOut := io.Writer(os.Stdout)
	if cfg.UI == "tui" {
		// The console shows the poem itself.
		consoleOut = io.Discard
	}
	var device printer.Printer
	if cfg.Printer.Enabled {
		device = printer.NewDevice(cfg.Printer.Device, cfg.Printer.Width)
	}
	prn := printer.NewService(device, printer.NewConsole(consoleOut))

	cues := feedback.Open(cfg.Feedback.BuzzerPin, cfg.Feedback.LEDPin)
	defer cues.Close()

	hub := status.NewHub()

	a, err := app.New(app.ConfigFrom(cfg), app.Deps{
		Source:      source,
		Artifacts:   artifacts,
		Poems:       poems,
		Printer:     prn,
		Feedback:    cues,
		Status:      hub,
		Store:       st,
		Classifiers: app.NewClassifierFactory(cfg.Gesture),
	})
	if err != nil {
		return err
	}
	defer a.Close()

	// Triggers
	bus := trigger.NewBus(8)
	trig, err := trigger.Select(cfg.Trigger)
	if err != nil {
		return fmt.Errorf("select trigger: %w", err)
	}
	if trig != nil {
		defer trig.Close()
		if err := trig.Start(ctx, bus.Publish); err != nil {
			slog.Warn("poetrycam: trigger source failed to start", "source", trig.Name(), "error", err)
		} else {
			slog.Info("poetrycam: trigger source started", "source", trig.Name())
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(2)
	go func() {
		defer wg.Done()
		bus.Run(ctx, a.HandleTrigger)
	}()
	go func() {
		defer wg.Done()
		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("capture loop: %w", err)
			stop()
		}
	}()

	// HTTP
	srv := server.New(server.Config{
		StaticDir: findWebDir(cfg.DataDir),
		App:       a,
		Bus:       bus,
		Hub:       hub,
		Store:     st,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("poetrycam: http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Serve(ctx, cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	// MQTT
	rc := remote.New(cfg.Remote, remote.Callbacks{
		OnTakePhoto: func() (trigger.Event, error) { return requestPhoto(a, bus, trigger.OriginRemote) },
		OnSetMode: func(s string) error {
			m, err := app.ParseMode(s)
			if err != nil {
				return err
			}
			return a.SetMode(m)
		},
		OnGetStatus: hub.Current,
	})
	if err := rc.Connect(ctx); !errors.Is(err, remote.ErrDisabled) {
		if err != nil {
			// The client keeps retrying in the background.
			slog.Warn("poetrycam: remote control not connected yet", "broker", cfg.Remote.Broker, "error", err)
		}
		defer rc.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc.Run(ctx, hub)
		}()
	}

	// Operator interface
	switch cfg.UI {
	case "tui":
		uiErr := tui.Run(ctx, hub, tui.Actions{
			TakePhoto: func() error {
				_, err := requestPhoto(a, bus, trigger.OriginTUI)
				return err
			},
			SetMode: a.SetMode,
		})
		stop()
		if uiErr != nil {
			errCh <- fmt.Errorf("console: %w", uiErr)
		}

	case "tray":
		tr := tray.New(a.Mode())
		tr.OnTakePhoto(func() {
			if _, err := requestPhoto(a, bus, trigger.OriginTray); err != nil {
				hub.Message(status.LevelWarn, err.Error())
			}
		})
		tr.OnMode(func(m app.Mode) {
			if err := a.SetMode(m); err != nil {
				hub.Message(status.LevelWarn, err.Error())
			}
		})
		tr.OnQuit(stop)
		go tr.Watch(ctx, hub)
		go func() {
			<-ctx.Done()
			tr.Quit()
		}()
		tr.Run()
		stop()

	default:
		<-ctx.Done()
	}

	slog.Info("poetrycam: shutting down")
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// requestPhoto publishes a trigger for origin when the app can accept one.
// The app's own check stays authoritative; this only gives interactive
// callers an immediate answer.
func requestPhoto(a *app.App, bus *trigger.Bus, origin trigger.Origin) (trigger.Event, error) {
	if a.Mode() != app.ModeManual {
		return trigger.Event{}, app.ErrNotManual
	}
	if a.Busy() {
		return trigger.Event{}, app.ErrCycleActive
	}
	return bus.Fire(origin), nil
}

func cameraConfig(c config.Camera) capture.Config {
	cc := capture.DefaultConfig()
	cc.Index = c.Index
	cc.Width = c.Width
	cc.Height = c.Height
	cc.Cooldown = c.Cooldown
	cc.Rounds = c.InitRounds
	cc.SettleDelay = c.SettleDelay
	cc.OpenTimeout = c.OpenTimeout
	cc.FrameTimeout = c.FrameTimeout
	cc.StillTimeout = c.StillTimeout
	cc.ReprobeAfter = c.ReprobeAfter
	return cc
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
