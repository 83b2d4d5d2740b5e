// Package printer renders poems on an ESC/POS receipt printer, falling back
// to a boxed console rendering when the printer cannot be used.
package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Header is printed above every poem.
const Header = "Poetry Camera"

// TimeLayout formats the footer timestamp.
const TimeLayout = "2006-01-02 15:04:05"

var (
	// ErrDisabled is returned by a printer that is switched off in config.
	ErrDisabled = errors.New("printer disabled")
	// ErrWriteTimeout is returned when the device does not accept data in time.
	ErrWriteTimeout = errors.New("printer write timed out")
)

// ESC/POS commands.
var (
	cmdInit       = []byte{0x1B, 0x40}
	cmdCenter     = []byte{0x1B, 0x61, 0x01}
	cmdLeft       = []byte{0x1B, 0x61, 0x00}
	cmdBoldOn     = []byte{0x1B, 0x45, 0x01}
	cmdBoldOff    = []byte{0x1B, 0x45, 0x00}
	cmdKanjiMode  = []byte{0x1C, 0x26}
	cmdFeedAndCut = []byte{0x1D, 0x56, 0x42, 0x00}
)

// Printer prints one poem.
type Printer interface {
	Print(ctx context.Context, text string) error
}

// Outcome says how a poem reached the operator.
type Outcome string

const (
	OutcomePrinted   Outcome = "printed"
	OutcomeSimulated Outcome = "simulated"
)

// Receipt builds the ESC/POS byte stream for text.
func Receipt(text string, at time.Time, width int) []byte {
	if width <= 0 {
		width = 32
	}
	rule := strings.Repeat("=", width)

	var b bytes.Buffer
	b.Write(cmdInit)
	b.Write(cmdKanjiMode)

	b.Write(cmdCenter)
	b.Write(cmdBoldOn)
	b.WriteString(Header + "\n")
	b.Write(cmdBoldOff)
	b.WriteString(rule + "\n\n")

	b.Write(cmdLeft)
	b.WriteString(strings.TrimRight(text, "\n") + "\n\n")

	b.Write(cmdCenter)
	b.WriteString(rule + "\n")
	b.WriteString("Printed " + at.Format(TimeLayout) + "\n")
	b.WriteString("\n\n\n")
	b.Write(cmdFeedAndCut)
	return b.Bytes()
}

// Device writes receipts to a character device such as /dev/usb/lp0.
type Device struct {
	Path    string
	Width   int
	Timeout time.Duration
	now     func() time.Time
}

// NewDevice creates a device printer.
func NewDevice(path string, width int) *Device {
	return &Device{Path: path, Width: width, Timeout: 10 * time.Second, now: time.Now}
}

// Print implements Printer. The write runs on its own goroutine so a
// wedged USB endpoint cannot hold the caller past Timeout or ctx.
func (d *Device) Print(ctx context.Context, text string) error {
	data := Receipt(text, d.now(), d.Width)

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		f, err := os.OpenFile(d.Path, os.O_WRONLY, 0)
		if err != nil {
			done <- fmt.Errorf("open printer %s: %w", d.Path, err)
			return
		}
		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			err = fmt.Errorf("write printer %s: %w", d.Path, err)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrWriteTimeout, d.Path)
	}
}

// Console renders a poem inside a box, used as the simulated print.
type Console struct {
	W   io.Writer
	now func() time.Time
}

// NewConsole writes simulated receipts to w.
func NewConsole(w io.Writer) *Console {
	return &Console{W: w, now: time.Now}
}

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			Padding(0, 2)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// Render returns the boxed receipt.
func (c *Console) Render(text string) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(Header),
		"",
		strings.TrimRight(text, "\n"),
		"",
		"Printed "+c.now().Format(TimeLayout),
	)
	return boxStyle.Render(body)
}

// Print implements Printer.
func (c *Console) Print(_ context.Context, text string) error {
	_, err := fmt.Fprintln(c.W, c.Render(text))
	return err
}

// Service prints on the device and falls back to the console.
type Service struct {
	device  Printer
	console Printer
}

// NewService creates a printing service. A nil device means the printer is
// disabled and every poem goes to the console.
func NewService(device, console Printer) *Service {
	return &Service{device: device, console: console}
}

// Print never fails outright: a device error degrades to the console and is
// returned alongside OutcomeSimulated for status reporting.
func (s *Service) Print(ctx context.Context, text string) (Outcome, error) {
	var devErr error
	if s.device == nil {
		devErr = ErrDisabled
	} else if devErr = s.device.Print(ctx, text); devErr == nil {
		slog.Info("printer: poem printed")
		return OutcomePrinted, nil
	}

	slog.Warn("printer: falling back to simulated print", "error", devErr)
	if s.console != nil {
		if err := s.console.Print(ctx, text); err != nil {
			slog.Error("printer: simulated print failed", "error", err)
		}
	}
	return OutcomeSimulated, devErr
}
