package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
)

// Provider errors. ErrInfrastructure marks faults of the execution
// substrate itself (engine down, spawn failure); tool exit codes are
// never infrastructure faults.
var (
	ErrInfrastructure   = errors.New("execution infrastructure fault")
	ErrMountPathMissing = errors.New("mount path does not exist")
	ErrEngineNotFound   = errors.New("container engine not found")
)

// MountSpec maps a host directory into the execution environment.
type MountSpec struct {
	HostPath      string
	ContainerPath string
}

// ParseMountSpec parses "hostPath" or "hostPath:containerPath". The
// container path defaults to defaultRoot when omitted.
func ParseMountSpec(spec, defaultRoot string) (MountSpec, error) {
	if spec == "" {
		return MountSpec{}, fmt.Errorf("empty mount spec")
	}
	host, container, found := strings.Cut(spec, ":")
	if !found {
		container = defaultRoot
	}
	if host == "" || container == "" {
		return MountSpec{}, fmt.Errorf("invalid mount spec %q", spec)
	}
	if !strings.HasPrefix(container, "/") {
		return MountSpec{}, fmt.Errorf("container path %q must be absolute", container)
	}
	return MountSpec{HostPath: host, ContainerPath: container}, nil
}

// Request is one command execution handed to a provider. The command
// string has already been validated, gated, and template-substituted.
type Request struct {
	Manifest *manifest.ToolManifest
	Command  string
	Env      map[string]string
	Timeout  time.Duration
	Mount    *MountSpec

	// ExecutionID ties provider-side resources (container names) back
	// to the pipeline execution that requested them.
	ExecutionID string
}

// RawResult is a provider's unnormalized process outcome. A nonzero
// exit code is a tool-level failure, not a provider error.
type RawResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Provider runs tool commands in a specific environment. Execute
// returns an error only for infrastructure faults; everything the tool
// itself did, including failing, comes back as a RawResult.
type Provider interface {
	Name() string
	Setup(ctx context.Context, m *manifest.ToolManifest) error
	Execute(ctx context.Context, req Request) (RawResult, error)
	Cleanup(ctx context.Context) error
}
