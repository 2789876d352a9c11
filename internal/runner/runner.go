// Package runner executes subscription-mode CLIs (claude, codex) as one-shot
// processes: the prompt goes in on stdin, the transcript comes back capped.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	errPTYUnsupported = errors.New("pty execution is not supported on this platform")
)

// DefaultMaxOutputBytes caps each captured stream when Options leaves it unset.
const DefaultMaxOutputBytes = 2 << 20

type Event struct {
	Type    string         `json:"type"`
	At      string         `json:"at"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type Result struct {
	ExitCode        int
	StartedAt       time.Time
	EndedAt         time.Time
	Duration        time.Duration
	Err             error
	Events          []Event
	Stdout          string
	Stderr          string
	OutputTruncated bool
}

type Options struct {
	Command        string
	Args           []string
	Dir            string
	Env            []string
	Stdin          string
	UsePTY         bool
	MaxOutputBytes int
	OnEvent        func(Event)
}

// Runner is the seam the subscription adapter uses; tests substitute it.
type Runner interface {
	Run(ctx context.Context, opts Options) Result
}

type Exec struct{}

func (Exec) Run(ctx context.Context, opts Options) Result {
	return Run(ctx, opts)
}

func Run(ctx context.Context, opts Options) Result {
	start := time.Now().UTC()
	result := Result{
		ExitCode:  -1,
		StartedAt: start,
	}

	command := strings.TrimSpace(opts.Command)
	if command == "" {
		result.Err = fmt.Errorf("command is required")
		event := newEvent("process_error", "command is empty", nil)
		result.Events = append(result.Events, event)
		dispatchEvent(opts.OnEvent, event)
		return finish(result)
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}

	stdout := newCappedBuffer(opts.MaxOutputBytes)
	stderr := newCappedBuffer(opts.MaxOutputBytes)
	var code int
	var events []Event
	var err error
	if opts.UsePTY {
		code, events, err = runWithPTY(ctx, opts, stdout)
		result.Events = append(result.Events, events...)
		dispatchEvents(opts.OnEvent, events)
		if err == nil || !errors.Is(err, errPTYUnsupported) {
			result.ExitCode = code
			result.Err = err
			result.Stdout = strings.ReplaceAll(stdout.String(), "\r\n", "\n")
			result.OutputTruncated = stdout.Truncated()
			return finish(result)
		}
		fallbackEvent := newEvent("process_warn", "pty unavailable, falling back to stdin pipe", map[string]any{
			"error": err.Error(),
		})
		result.Events = append(result.Events, fallbackEvent)
		dispatchEvent(opts.OnEvent, fallbackEvent)
	}

	code, events, err = runPiped(ctx, opts, stdout, stderr)
	result.Events = append(result.Events, events...)
	dispatchEvents(opts.OnEvent, events)

	result.ExitCode = code
	result.Err = err
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.OutputTruncated = stdout.Truncated() || stderr.Truncated()
	return finish(result)
}

func finish(result Result) Result {
	result.EndedAt = time.Now().UTC()
	result.Duration = result.EndedAt.Sub(result.StartedAt)
	return result
}

func runPiped(ctx context.Context, opts Options, stdout io.Writer, stderr io.Writer) (int, []Event, error) {
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = strings.NewReader(opts.Stdin)

	events := []Event{
		newEvent("process_started", "process started via stdin pipe", map[string]any{
			"command":     opts.Command,
			"mode":        "stdin",
			"stdin_bytes": len(opts.Stdin),
		}),
	}
	err := cmd.Run()
	code := exitCode(cmd, err)
	events = append(events, newEvent("process_ended", "process exited", map[string]any{
		"exit_code": code,
	}))
	return code, events, err
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && errors.Is(err, exec.ErrNotFound) {
		return 127
	}
	if err != nil && errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func newEvent(eventType, message string, data map[string]any) Event {
	cloned := map[string]any(nil)
	if data != nil {
		cloned = maps.Clone(data)
	}
	return Event{
		Type:    eventType,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Message: message,
		Data:    cloned,
	}
}

func dispatchEvents(handler func(Event), events []Event) {
	for _, event := range events {
		dispatchEvent(handler, event)
	}
}

func dispatchEvent(handler func(Event), event Event) {
	if handler != nil {
		handler(event)
	}
}

type cappedBuffer struct {
	max       int
	buf       bytes.Buffer
	truncated bool
	mu        sync.Mutex
}

func newCappedBuffer(max int) *cappedBuffer {
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.max - c.buf.Len()
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) <= remaining {
		_, _ = c.buf.Write(p)
		return len(p), nil
	}
	_, _ = c.buf.Write(p[:remaining])
	c.truncated = true
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *cappedBuffer) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}
