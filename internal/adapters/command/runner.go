// Package command provides command execution adapters.
package command

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"

	"github.com/enactprotocol/enact-go/internal/ports"
)

// RealRunner executes actual subprocesses.
//
// Processes are started in their own process group so that cancelling
// the context kills the whole tree, not just the direct child.
type RealRunner struct{}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{}
}

// Run executes a command and returns the result.
// A nonzero exit code is reported in the result, not as an error;
// an error is returned only when the process could not be started.
func (r *RealRunner) Run(ctx context.Context, spec ports.CommandSpec) (ports.CommandResult, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return ports.CommandResult{ExitCode: -1}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false

	select {
	case <-ctx.Done():
		// Negative pid signals the whole process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		waitErr = ctx.Err()
	case waitErr = <-done:
	}

	result := ports.CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		case timedOut, errors.Is(waitErr, context.Canceled):
			result.ExitCode = -1
			return result, nil
		default:
			result.ExitCode = -1
			return result, waitErr
		}
	}

	return result, nil
}

// Ensure RealRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*RealRunner)(nil)
