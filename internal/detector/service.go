package detector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// service is a long-running model process. Each request is a 4-byte
// big-endian length followed by a JPEG on stdin; each response is one JSON
// line on stdout. The process starts lazily and stops when idle.
type service struct {
	name   string
	script string
	python string
	args   []string

	timeout     time.Duration
	idleTimeout time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	started   bool
	idleTimer *time.Timer
}

func newService(name string, cfg Config) (*service, error) {
	script := cfg.Script
	if script == "" {
		script = findScript(name)
	}
	if script == "" {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServiceNotFound, script, err)
	}

	python := cfg.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	return &service{
		name:        name,
		script:      script,
		python:      python,
		args:        cfg.Args,
		timeout:     timeout,
		idleTimeout: cfg.IdleTimeout,
	}, nil
}

type response struct {
	line []byte
	err  error
}

// request sends frame and returns the raw JSON response line. A request that
// exceeds the timeout kills the process; the next request restarts it.
func (s *service) request(frame *gocv.Mat) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return nil, err
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	stdin, stdout := s.stdin, s.stdout
	done := make(chan response, 1)
	go func() {
		length := make([]byte, 4)
		binary.BigEndian.PutUint32(length, uint32(len(data)))

		if _, err := stdin.Write(length); err != nil {
			done <- response{err: fmt.Errorf("write length: %w", err)}
			return
		}
		if _, err := stdin.Write(data); err != nil {
			done <- response{err: fmt.Errorf("write data: %w", err)}
			return
		}

		line, err := stdout.ReadBytes('\n')
		if err != nil {
			done <- response{err: fmt.Errorf("read response: %w", err)}
			return
		}
		done <- response{line: line}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			slog.Warn("detector: service failed, restarting on next request", "service", s.name, "error", r.err)
			s.kill()
			return nil, r.err
		}
		s.resetIdleTimer()
		return r.line, nil
	case <-timer.C:
		slog.Warn("detector: service timed out, killing it", "service", s.name, "timeout", s.timeout)
		s.kill()
		return nil, fmt.Errorf("%s: no response within %v", s.name, s.timeout)
	}
}

func (s *service) ensureStarted() error {
	if s.started {
		return nil
	}

	args := append([]string{s.script}, s.args...)
	cmd := exec.Command(s.python, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.name, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.started = true

	slog.Info("detector: service started", "service", s.name, "script", s.script, "pid", cmd.Process.Pid)
	return nil
}

// kill stops the process without waiting for a clean exit.
func (s *service) kill() {
	if !s.started {
		return
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.shutdown()
}

func (s *service) shutdown() error {
	if !s.started {
		return nil
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if s.stdin != nil {
		s.stdin.Close()
	}

	err := s.cmd.Wait()
	s.started = false
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil

	return err
}

func (s *service) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

func (s *service) resetIdleTimer() {
	if s.idleTimeout <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.shutdown()
	})
}

func findScript(name string) string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".poetrycam", "scripts", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".poetrycam/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
