package printer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var fixed = time.Date(2024, 5, 1, 14, 22, 33, 0, time.UTC)

func TestReceipt(t *testing.T) {
	data := Receipt("line one\nline two\n", fixed, 16)

	if !bytes.HasPrefix(data, cmdInit) {
		t.Error("receipt does not start with init")
	}
	if !bytes.HasSuffix(data, cmdFeedAndCut) {
		t.Error("receipt does not end with cut")
	}

	for _, want := range []string{Header, "line one\nline two", "Printed 2024-05-01 14:22:33", strings.Repeat("=", 16)} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("receipt missing %q", want)
		}
	}
}

func TestDevice_PrintToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp0")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDevice(path, 32)
	d.now = func() time.Time { return fixed }

	if err := d.Print(context.Background(), "hello"); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, Receipt("hello", fixed, 32)) {
		t.Error("device received unexpected bytes")
	}
}

func TestDevice_MissingDevice(t *testing.T) {
	d := NewDevice(filepath.Join(t.TempDir(), "nope"), 32)
	if err := d.Print(context.Background(), "hello"); err == nil {
		t.Error("Print() to missing device succeeded")
	}
}

func TestConsole_Render(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.now = func() time.Time { return fixed }

	if err := c.Print(context.Background(), "moon\nover water"); err != nil {
		t.Fatalf("Print() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{Header, "moon", "over water", "2024-05-01 14:22:33"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
}

type fakePrinter struct {
	err   error
	texts []string
}

func (f *fakePrinter) Print(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func TestService_Print(t *testing.T) {
	boom := errors.New("paper out")

	tests := []struct {
		name        string
		device      *fakePrinter
		wantOutcome Outcome
		wantErr     error
		wantConsole int
	}{
		{"printed", &fakePrinter{}, OutcomePrinted, nil, 0},
		{"device error", &fakePrinter{err: boom}, OutcomeSimulated, boom, 1},
		{"disabled", nil, OutcomeSimulated, ErrDisabled, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := &fakePrinter{}
			var dev Printer
			if tt.device != nil {
				dev = tt.device
			}
			s := NewService(dev, console)

			outcome, err := s.Print(context.Background(), "poem")
			if outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.wantOutcome)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if len(console.texts) != tt.wantConsole {
				t.Errorf("console prints = %d, want %d", len(console.texts), tt.wantConsole)
			}
		})
	}
}
