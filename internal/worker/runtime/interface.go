// Package runtime provides the Runtime interface for external tool backends.
package runtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrMissingPrerequisite is returned when a required tool or daemon is unavailable.
var ErrMissingPrerequisite = errors.New("missing prerequisite")

// Runtime defines the interface for running external tools such as the
// crop engine and the aggregation engine.
// Implementations include raw process execution, Docker and Kubernetes Jobs.
type Runtime interface {
	// Start begins execution of a command and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)

	// Check verifies that the named binaries can be run by this runtime.
	Check(ctx context.Context, binaries ...string) error
}

// StartOptions contains the parameters for starting a command.
type StartOptions struct {
	// Image is the container image. Ignored by the exec runtime.
	Image string
	// Command is the argument vector. It is never passed through a shell.
	Command []string
	Env     map[string]string
	// WorkDir is the host directory relative paths in Command resolve against.
	WorkDir string
	Timeout time.Duration
}

// ExitResult is the outcome of a finished command.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running command.
type Handle interface {
	// Wait blocks until the command completes and returns the exit code.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop terminates the command if it is still running and releases its resources.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader for the command's combined stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}

// Output is the result of Run.
type Output struct {
	ExitResult
	Logs string
}

// LastLine returns the last non-empty line of the logs, usually the tool's
// error message.
func (o Output) LastLine() string {
	lines := strings.Split(strings.TrimSpace(o.Logs), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// Run starts a command, waits for it and collects its output. A non-zero exit
// code is reported in the result, not as an error.
func Run(ctx context.Context, rt Runtime, opts StartOptions) (Output, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	handle, err := rt.Start(ctx, opts)
	if err != nil {
		return Output{}, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = handle.Stop(stopCtx)
	}()

	result, err := handle.Wait(ctx)
	out := Output{ExitResult: result}

	// The command context may already be done after a timeout.
	logCtx, cancelLogs := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelLogs()

	if rc, logErr := handle.StreamLogs(logCtx); logErr == nil && rc != nil {
		b, _ := io.ReadAll(io.LimitReader(rc, maxLogBytes))
		rc.Close()
		out.Logs = string(b)
	}

	return out, err
}

const maxLogBytes = 64 * 1024

// checkTimeout bounds a prerequisite check, including any image pull.
const checkTimeout = 5 * time.Minute

// checkScript exits 127 after printing the first argument not found on PATH.
const checkScript = `for b in "$@"; do command -v "$b" >/dev/null 2>&1 || { echo "$b"; exit 127; }; done`

// checkCommand returns an argument vector that resolves binaries with the
// shell of a container image.
func checkCommand(binaries []string) []string {
	return append([]string{"sh", "-c", checkScript, "check"}, binaries...)
}
