// Package tray provides the system tray menu for the poetry camera.
package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/ayusman/poetrycam/internal/app"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onTakePhoto func()
	onMode      func(app.Mode)
	onQuit      func()
	mode        app.Mode
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuTake   *systray.MenuItem
	menuStatus *systray.MenuItem
	menuModes  map[app.Mode]*systray.MenuItem
	ready      chan struct{}
}

// New creates a new Tray showing mode as selected.
func New(mode app.Mode) *Tray {
	return &Tray{
		mode:      mode,
		menuModes: make(map[app.Mode]*systray.MenuItem),
		ready:     make(chan struct{}),
	}
}

// OnTakePhoto sets the callback for the Take Photo item.
func (t *Tray) OnTakePhoto(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTakePhoto = fn
}

// OnMode sets the callback for the mode items.
func (t *Tray) OnMode(fn func(app.Mode)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMode = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called and must run on the main thread.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// Watch mirrors hub onto the menu until ctx is done.
func (t *Tray) Watch(ctx context.Context, hub *status.Hub) {
	select {
	case <-ctx.Done():
		return
	case <-t.ready:
	}

	updates, cancel := hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			t.SetStatus(st)
		}
	}
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Poetry Camera")
	systray.SetTooltip("Poetry Camera")

	t.mu.Lock()
	t.menuTake = systray.AddMenuItem("Take Photo", "Start a capture cycle")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem("Starting…", "Current status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	for _, m := range app.Modes {
		item := systray.AddMenuItem(modeTitle(m, m == t.mode), "Switch to "+m.Title())
		t.menuModes[m] = item
		go t.watchMode(m, item)
	}
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Poetry Camera")
	take := t.menuTake
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-take.ClickedCh:
				t.handleTakePhoto()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
	close(t.ready)
}

func (t *Tray) watchMode(m app.Mode, item *systray.MenuItem) {
	for range item.ClickedCh {
		t.mu.RLock()
		callback := t.onMode
		t.mu.RUnlock()

		if callback != nil {
			callback(m)
		}
	}
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleTakePhoto handles the Take Photo menu item click.
func (t *Tray) handleTakePhoto() {
	t.mu.RLock()
	callback := t.onTakePhoto
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStatus updates the status line, the mode marks and whether Take Photo
// is available.
func (t *Tray) SetStatus(st status.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.menuStatus == nil {
		return
	}
	t.menuStatus.SetTitle(statusLine(st))

	if m, err := app.ParseMode(st.Mode); err == nil && m != t.mode {
		t.mode = m
		for mode, item := range t.menuModes {
			item.SetTitle(modeTitle(mode, mode == m))
		}
	}

	if t.mode == app.ModeManual && st.State == app.StateIdle {
		t.menuTake.Enable()
	} else {
		t.menuTake.Disable()
	}
}

// statusLine condenses st into one menu line.
func statusLine(st status.Status) string {
	switch {
	case st.Countdown > 0:
		return fmt.Sprintf("Taking photo in %d…", st.Countdown)
	case st.Message != "":
		if st.Level == status.LevelWarn || st.Level == status.LevelError {
			return "⚠ " + st.Message
		}
		return st.Message
	case st.Degraded:
		return "Ready (no camera)"
	default:
		return "Ready"
	}
}

func modeTitle(m app.Mode, selected bool) string {
	if selected {
		return "● " + m.Title()
	}
	return "○ " + m.Title()
}
