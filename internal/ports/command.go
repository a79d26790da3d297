// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
)

// CommandSpec describes a single subprocess invocation.
type CommandSpec struct {
	// Name is the executable to run.
	Name string

	// Args are the arguments passed to the executable.
	Args []string

	// Env is the full environment for the process in KEY=value form.
	// A nil Env inherits the parent environment.
	Env []string

	// Dir is the working directory. Empty means the caller's directory.
	Dir string

	// Stdin is written to the process's standard input when non-empty.
	Stdin string
}

// CommandResult represents the result of executing a command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// TimedOut reports whether the process was killed because the
	// context deadline expired.
	TimedOut bool
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// CommandRunner executes subprocesses.
//
// Implementations must kill the whole process group when ctx is
// cancelled or its deadline expires, so a terminated execution cannot
// leak children.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}
