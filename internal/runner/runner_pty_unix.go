//go:build linux || darwin

package runner

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// runWithPTY serves CLIs that refuse to run without a terminal. Stdout and
// stderr arrive interleaved on the pty; the prompt is followed by EOT.
func runWithPTY(ctx context.Context, opts Options, transcript io.Writer) (int, []Event, error) {
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, []Event{
			newEvent("process_error", "failed to start process with pty", map[string]any{
				"error": err.Error(),
			}),
		}, err
	}
	defer func() {
		_ = ptmx.Close()
	}()

	events := []Event{
		newEvent("process_started", "process started via pty mode", map[string]any{
			"command": opts.Command,
			"mode":    "pty",
		}),
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		_, _ = io.Copy(transcript, ptmx)
	}()

	if opts.Stdin != "" {
		if _, writeErr := io.WriteString(ptmx, opts.Stdin+"\n\x04"); writeErr == nil {
			events = append(events, newEvent("prompt_injected", "prompt sent to process pty", map[string]any{
				"bytes": len(opts.Stdin),
			}))
		}
	}

	waitErr := cmd.Wait()
	code := exitCode(cmd, waitErr)
	_ = ptmx.Close()

	select {
	case <-readerDone:
	case <-time.After(400 * time.Millisecond):
	}

	events = append(events, newEvent("process_ended", "process exited", map[string]any{
		"exit_code": code,
	}))
	return code, events, waitErr
}
