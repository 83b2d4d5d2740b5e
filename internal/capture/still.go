package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrNoStillTool is returned when no still-capture executable is installed.
	ErrNoStillTool = errors.New("no still capture tool found")
	// ErrStillTimeout is returned when the still tool exceeds its deadline.
	ErrStillTimeout = errors.New("still capture timed out")
)

// StillCamera takes one high resolution photo. Implementations must return
// once ctx is done.
type StillCamera interface {
	Capture(ctx context.Context) (*gocv.Mat, error)
}

// CommandStill runs an external still-capture tool that writes a JPEG file.
type CommandStill struct {
	// Path is the executable to run.
	Path string
	// Args builds the argument list for writing to output.
	Args func(output string) []string
	// TempDir holds the intermediate file; empty means os.TempDir().
	TempDir string
}

// stillTools lists supported executables in preference order.
var stillTools = []string{"rpicam-still", "libcamera-still"}

// FindStillCommand returns a CommandStill for the first libcamera still tool
// on PATH, configured for a width x height JPEG at the given quality.
func FindStillCommand(width, height, quality int) (*CommandStill, error) {
	for _, name := range stillTools {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		return &CommandStill{
			Path: path,
			Args: func(output string) []string {
				return []string{
					"-o", output,
					"--width", strconv.Itoa(width),
					"--height", strconv.Itoa(height),
					"--quality", strconv.Itoa(quality),
					"--timeout", "1500",
					"--nopreview",
				}
			},
		}, nil
	}
	return nil, ErrNoStillTool
}

// Capture runs the tool under ctx and decodes the file it wrote.
func (s *CommandStill) Capture(ctx context.Context) (*gocv.Mat, error) {
	dir := s.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	f, err := os.CreateTemp(dir, "still-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create still file: %w", err)
	}
	output := f.Name()
	f.Close()
	defer os.Remove(output)

	cmd := exec.CommandContext(ctx, s.Path, s.Args(output)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStillTimeout, filepath.Base(s.Path), ctx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s failed: %v, stderr: %s", ErrHardwareUnavailable, filepath.Base(s.Path), err, msg)
		}
		return nil, fmt.Errorf("%w: %s failed: %v", ErrHardwareUnavailable, filepath.Base(s.Path), err)
	}

	mat := gocv.IMRead(output, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: %s wrote no readable image", ErrMalformedFrame, filepath.Base(s.Path))
	}
	return &mat, nil
}
