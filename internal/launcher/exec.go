package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Outcome is the result of one external invocation. A run either
// completed with exit code zero or failed; both variants carry whatever
// output was captured.
type Outcome struct {
	Argv     []string
	Stdout   string
	Stderr   string
	ExitCode int
	// Err is set when the process could not be started or was killed
	// because the context ended. ExitCode is -1 in that case.
	Err      error
	Duration time.Duration
}

// Failed reports whether the invocation did not complete successfully.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.ExitCode != 0
}

// Cancelled reports whether the invocation was stopped by context
// cancellation rather than failing on its own.
func (o Outcome) Cancelled() bool {
	return errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded)
}

// Reason describes why a failed outcome failed.
func (o Outcome) Reason() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.ExitCode != 0:
		return fmt.Sprintf("exit status %d", o.ExitCode)
	default:
		return ""
	}
}

// Command returns the argument vector joined for display.
func (o Outcome) Command() string {
	return strings.Join(o.Argv, " ")
}

// Runner executes an argument vector synchronously.
type Runner interface {
	Run(ctx context.Context, argv []string) Outcome
}

// ExecRunner runs invocations as local child processes.
type ExecRunner struct {
	// Env, when non-nil, replaces the child environment.
	Env []string
	// Dir is the child working directory. Empty means the current one.
	Dir string
}

// NewExecRunner creates a runner that starts local processes.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts argv[0] with the remaining arguments and blocks until it exits.
// No timeout is applied; the process is killed only when ctx ends.
func (r *ExecRunner) Run(ctx context.Context, argv []string) Outcome {
	out := Outcome{Argv: append([]string(nil), argv...)}
	if len(argv) == 0 {
		out.ExitCode = -1
		out.Err = fmt.Errorf("empty command")
		return out
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = r.Env
	cmd.Dir = r.Dir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	err := cmd.Run()
	out.Duration = time.Since(start)
	out.Stdout = stdoutBuf.String()
	out.Stderr = stderrBuf.String()

	if err == nil {
		return out
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		out.Err = fmt.Errorf("invocation interrupted: %w", ctxErr)
		return out
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out
	}

	out.ExitCode = -1
	out.Err = fmt.Errorf("failed to start %s: %w", argv[0], err)
	return out
}
