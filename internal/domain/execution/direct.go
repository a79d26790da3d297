package execution

import (
	"context"
	"fmt"
	"os"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/ports"
)

// DirectProvider runs tool commands on the host through the shell.
// It offers no isolation; the safety scanner and verification gate are
// the only barriers between the manifest and the machine.
type DirectProvider struct {
	runner ports.CommandRunner
	logger ports.Logger
}

// NewDirectProvider creates a host execution provider.
func NewDirectProvider(runner ports.CommandRunner, logger ports.Logger) *DirectProvider {
	return &DirectProvider{runner: runner, logger: logger}
}

// Name implements Provider.
func (p *DirectProvider) Name() string { return EnvironmentDirect }

// Setup is a no-op: the host needs no preparation.
func (p *DirectProvider) Setup(ctx context.Context, m *manifest.ToolManifest) error { return nil }

// Execute runs the command via `sh -c` with the resolved variables
// appended to the host environment. A missing mount path fails fast
// before any process starts.
func (p *DirectProvider) Execute(ctx context.Context, req Request) (RawResult, error) {
	if req.Mount != nil {
		if _, err := os.Stat(req.Mount.HostPath); err != nil {
			return RawResult{}, fmt.Errorf("%w: %s", ErrMountPathMissing, req.Mount.HostPath)
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	env := os.Environ()
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	spec := ports.CommandSpec{
		Name: "sh",
		Args: []string{"-c", req.Command},
		Env:  env,
	}
	if req.Mount != nil {
		spec.Dir = req.Mount.HostPath
	}

	p.logger.Debug(ctx, "executing on host", ports.F("command", req.Command))

	res, err := p.runner.Run(ctx, spec)
	if err != nil {
		return RawResult{}, fmt.Errorf("%w: spawning shell: %v", ErrInfrastructure, err)
	}
	return RawResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
	}, nil
}

// Cleanup is a no-op.
func (p *DirectProvider) Cleanup(ctx context.Context) error { return nil }
