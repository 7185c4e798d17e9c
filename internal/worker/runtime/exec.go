// Package runtime provides the Runtime interface for external tool backends.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExecRuntime implements the Runtime interface using raw OS processes.
type ExecRuntime struct {
	// WorkDir is used when StartOptions.WorkDir is empty.
	WorkDir string
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = "."
	}
	return &ExecRuntime{WorkDir: workDir}
}

// Check implements Runtime.Check by resolving each binary on PATH.
func (e *ExecRuntime) Check(ctx context.Context, binaries ...string) error {
	for _, bin := range binaries {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found on PATH", ErrMissingPrerequisite, bin)
		}
	}
	return nil
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = e.WorkDir
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	// Ask politely first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	h := &ExecHandle{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	cmd.Stdout = &h.output
	cmd.Stderr = &h.output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Command[0], err)
	}

	go h.wait()

	return h, nil
}

// ExecHandle represents a running OS process.
type ExecHandle struct {
	cmd    *exec.Cmd
	output syncBuffer
	done   chan struct{}
	result ExitResult
}

func (h *ExecHandle) wait() {
	defer close(h.done)

	err := h.cmd.Wait()
	if err == nil {
		h.result = ExitResult{ExitCode: 0}
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		h.result = ExitResult{ExitCode: exitErr.ExitCode()}
		return
	}
	h.result = ExitResult{ExitCode: -1, Error: err}
}

// Wait implements Handle.Wait.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		// A process killed by an expired context reports the context error.
		if h.result.ExitCode != 0 && ctx.Err() != nil {
			return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
		}
		return h.result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop implements Handle.Stop. It sends SIGTERM and falls back to SIGKILL.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return ctx.Err()
	}
}

// StreamLogs implements Handle.StreamLogs. The combined output is returned
// once the process has exited.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-h.done:
		return io.NopCloser(bytes.NewReader(h.output.Bytes())), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// syncBuffer keeps the tail of the combined process output.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxLogBytes; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf)
}
