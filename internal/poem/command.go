package poem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandRequest is written to the poem command's stdin.
type commandRequest struct {
	Analysis Analysis `json:"analysis"`
}

// commandResponse is read from the poem command's stdout.
type commandResponse struct {
	Poem  string `json:"poem"`
	Error string `json:"error,omitempty"`
}

// CommandPoet runs an external executable to write the poem. The analysis
// is sent as JSON on stdin and the executable answers {"poem": "..."} on
// stdout.
type CommandPoet struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// NewCommandPoet creates a command poet. The command line is split on
// whitespace; the first field is the executable.
func NewCommandPoet(commandLine string, timeout time.Duration) (*CommandPoet, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty poem command")
	}
	return &CommandPoet{Path: fields[0], Args: fields[1:], Timeout: timeout}, nil
}

// Generate implements Poet.
func (c *CommandPoet) Generate(ctx context.Context, a Analysis) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	reqJSON, err := json.Marshal(commandRequest{Analysis: a})
	if err != nil {
		return "", fmt.Errorf("marshal poem request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(reqJSON)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: poem command timed out after %s", ErrServiceUnavailable, c.Timeout)
	}
	if err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return "", fmt.Errorf("%w: poem command failed: %v, stderr: %s", ErrServiceUnavailable, err, s)
		}
		return "", fmt.Errorf("%w: poem command failed: %v", ErrServiceUnavailable, err)
	}

	var resp commandResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("%w: parse poem command output: %v, stdout: %s", ErrBadResponse, err, stdout.String())
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrServiceUnavailable, resp.Error)
	}
	poem := strings.TrimSpace(resp.Poem)
	if poem == "" {
		return "", fmt.Errorf("%w: empty poem", ErrBadResponse)
	}
	return poem, nil
}
