// Package tui is the terminal operator console: live status, confidence
// bars, countdown, the last poem, and keys to take a photo or switch mode.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ayusman/poetrycam/internal/app"
	"github.com/ayusman/poetrycam/internal/status"
)

const barWidth = 30

// Actions are the operations the console can request.
type Actions struct {
	TakePhoto func() error
	SetMode   func(app.Mode) error
}

// Model is the root bubbletea model for the console.
type Model struct {
	updates <-chan status.Status
	actions Actions

	status   status.Status
	poem     string
	poemPath string

	width  int
	height int

	errorMessage   string
	errorTransient bool
}

// New creates a console reading status from updates.
func New(updates <-chan status.Status, actions Actions) Model {
	return Model{updates: updates, actions: actions}
}

// Run shows the console until the operator quits or ctx is done.
func Run(ctx context.Context, hub *status.Hub, actions Actions) error {
	updates, cancel := hub.Subscribe()
	defer cancel()

	p := tea.NewProgram(New(updates, actions), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init starts listening for status updates.
func (m Model) Init() tea.Cmd {
	return waitStatusCmd(m.updates)
}

func waitStatusCmd(updates <-chan status.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return StatusClosedMsg{}
		}
		return StatusMsg{Status: st}
	}
}

func loadPoemCmd(path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return ActionResultMsg{Action: "load poem", Err: err}
		}
		return PoemLoadedMsg{Path: path, Text: strings.TrimSpace(string(data))}
	}
}

func takePhotoCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if fn == nil {
			return ActionResultMsg{Action: "take photo", Err: errors.New("not available")}
		}
		return ActionResultMsg{Action: "take photo", Err: fn()}
	}
}

func setModeCmd(fn func(app.Mode) error, mode app.Mode) tea.Cmd {
	return func() tea.Msg {
		if fn == nil {
			return ActionResultMsg{Action: "set mode", Err: errors.New("not available")}
		}
		return ActionResultMsg{Action: "set mode", Err: fn(mode)}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		cmds := []tea.Cmd{waitStatusCmd(m.updates)}
		if p := msg.Status.LastPoem; p != "" && p != m.poemPath {
			m.poemPath = p
			cmds = append(cmds, loadPoemCmd(p))
		}
		return m, tea.Batch(cmds...)

	case StatusClosedMsg:
		return m, tea.Quit

	case PoemLoadedMsg:
		if msg.Path == m.poemPath {
			m.poem = msg.Text
		}
		return m, nil

	case ActionResultMsg:
		if msg.Err != nil {
			m.errorMessage = fmt.Sprintf("%s: %v", msg.Action, msg.Err)
			m.errorTransient = true
			return m, clearTransientErrorCmd()
		}
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit
	case KeySpace, KeyEnter:
		return m, takePhotoCmd(m.actions.TakePhoto)
	case KeyManual:
		return m, setModeCmd(m.actions.SetMode, app.ModeManual)
	case KeyTeachable:
		return m, setModeCmd(m.actions.SetMode, app.ModeTeachable)
	case KeyMediaPipe:
		return m, setModeCmd(m.actions.SetMode, app.ModeMediaPipe)
	case KeyClearError:
		m.errorMessage = ""
		m.errorTransient = false
	}
	return m, nil
}

// View renders the console.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		DimStyle.Render(strings.Repeat("─", m.width)),
	}

	if m.status.Countdown > 0 {
		sections = append(sections, CountdownStyle.Render(fmt.Sprintf("Taking photo in %d", m.status.Countdown)))
	}
	if bars := m.renderConfidences(); bars != "" {
		sections = append(sections, bars)
	}
	sections = append(sections, m.renderMessage())

	if m.poem != "" {
		sections = append(sections, PoemStyle.Width(min(m.width-2, 48)).Render(m.poem))
	}

	if m.errorMessage != "" {
		sections = append(sections, ErrorStyle.Render("✗ "+m.errorMessage))
	}

	sections = append(sections, DimStyle.Render(strings.Repeat("─", m.width)), m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("POETRY CAMERA")

	state := m.status.State
	if state == "" {
		state = app.StateIdle
	}
	stateStyle := StateStyle
	if state != app.StateIdle {
		stateStyle = BusyStyle
	}

	parts := []string{title, stateStyle.Render("● " + strings.ToUpper(state))}
	if mode, err := app.ParseMode(m.status.Mode); err == nil {
		parts = append(parts, DimStyle.Render("mode: "+mode.Title()))
	}
	if m.status.Strategy != "" {
		camera := "camera: " + m.status.Strategy
		if m.status.Cooldown > 0 {
			camera += fmt.Sprintf(" (cooldown %.1fs)", m.status.Cooldown.Seconds())
		}
		if m.status.Degraded {
			parts = append(parts, WarnStyle.Render(camera))
		} else {
			parts = append(parts, DimStyle.Render(camera))
		}
	}
	parts = append(parts, DimStyle.Render(fmt.Sprintf("cycles: %d", m.status.Cycles)))
	return strings.Join(parts, "  ")
}

func (m Model) renderConfidences() string {
	if len(m.status.Confidences) == 0 {
		return ""
	}

	labels := make([]string, 0, len(m.status.Confidences))
	for l := range m.status.Confidences {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var lines []string
	for _, l := range labels {
		lines = append(lines, fmt.Sprintf("%-6s %s %5.1f%%", l, bar(m.status.Confidences[l], barWidth), m.status.Confidences[l]))
	}
	return strings.Join(lines, "\n")
}

// bar renders pct (0-100) as a fixed width meter.
func bar(pct float64, width int) string {
	pct = max(0, min(100, pct))
	filled := int(pct / 100 * float64(width))
	return BarStyle.Render(strings.Repeat("█", filled)) + DimStyle.Render(strings.Repeat("░", width-filled))
}

func (m Model) renderMessage() string {
	msg := m.status.Message
	if msg == "" {
		msg = "Ready"
	}
	switch m.status.Level {
	case status.LevelWarn:
		return WarnStyle.Render("! " + msg)
	case status.LevelError:
		return ErrorStyle.Render("✗ " + msg)
	default:
		return msg
	}
}

func (m Model) renderFooter() string {
	keys := []struct{ key, desc string }{
		{"space", "take photo"},
		{"1", app.ModeManual.Title()},
		{"2", app.ModeTeachable.Title()},
		{"3", app.ModeMediaPipe.Title()},
		{"q", "quit"},
	}
	var parts []string
	for _, k := range keys {
		parts = append(parts, FooterKeyStyle.Render(k.key)+" "+FooterDescStyle.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}
