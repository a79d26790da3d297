package execution

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/ports"
)

// SandboxConfig controls how containers are launched.
type SandboxConfig struct {
	// Engine is the container CLI, normally "docker" or "podman".
	Engine string

	// DefaultImage runs tools whose manifest has no `from` image.
	DefaultImage string

	// Memory and CPUs cap the container unless the manifest's
	// resources override them.
	Memory string
	CPUs   string

	// WorkspaceRoot is the default container mount point.
	WorkspaceRoot string

	// AllowNetwork leaves networking on even without openWorldHint.
	AllowNetwork bool

	Retry RetryConfig
}

// DefaultSandboxConfig returns the docker defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Engine:        "docker",
		DefaultImage:  "alpine:3",
		Memory:        "512m",
		CPUs:          "1",
		WorkspaceRoot: "/workspace",
		Retry:         DefaultRetryConfig(),
	}
}

// SandboxProvider runs tool commands inside a throwaway container.
// Engine-level faults (daemon not reachable, engine binary missing)
// are retried with backoff; the tool's own exit code never is.
type SandboxProvider struct {
	runner ports.CommandRunner
	logger ports.Logger
	cfg    SandboxConfig
}

// NewSandboxProvider creates a container execution provider.
func NewSandboxProvider(runner ports.CommandRunner, logger ports.Logger, cfg SandboxConfig) *SandboxProvider {
	if cfg.Engine == "" {
		cfg.Engine = "docker"
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "/workspace"
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &SandboxProvider{runner: runner, logger: logger, cfg: cfg}
}

// Name implements Provider.
func (p *SandboxProvider) Name() string { return EnvironmentSandbox }

// Setup checks that the container engine is reachable, retrying while
// the daemon is still coming up.
func (p *SandboxProvider) Setup(ctx context.Context, m *manifest.ToolManifest) error {
	return retryInfra(ctx, p.cfg.Retry, func() error {
		res, err := p.runner.Run(ctx, ports.CommandSpec{
			Name: p.cfg.Engine,
			Args: []string{"version", "--format", "{{.Server.Version}}"},
		})
		if err != nil {
			return fmt.Errorf("%w: %s not found: %v", ErrEngineNotFound, p.cfg.Engine, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%w: %s daemon not ready: %s", ErrInfrastructure, p.cfg.Engine, strings.TrimSpace(res.Stderr))
		}
		return nil
	})
}

// Execute launches a disposable container for the command. The mount's
// host path must already exist; a missing path fails fast rather than
// letting the engine create a root-owned directory.
func (p *SandboxProvider) Execute(ctx context.Context, req Request) (RawResult, error) {
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

	name := p.containerName(req)
	args := p.buildRunArgs(req, name)
	p.logger.Debug(ctx, "launching container",
		ports.F("engine", p.cfg.Engine),
		ports.F("image", p.image(req.Manifest)),
		ports.F("container", name),
	)

	var raw RawResult
	err := retryInfra(ctx, p.cfg.Retry, func() error {
		res, err := p.runner.Run(ctx, ports.CommandSpec{
			Name: p.cfg.Engine,
			Args: args,
		})
		if err != nil {
			return fmt.Errorf("%w: spawning %s: %v", ErrInfrastructure, p.cfg.Engine, err)
		}
		if isEngineFault(res) {
			return fmt.Errorf("%w: %s", ErrInfrastructure, strings.TrimSpace(res.Stderr))
		}
		raw = RawResult{
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			p.removeContainer(name)
		}
		return RawResult{}, err
	}
	if raw.TimedOut {
		p.removeContainer(name)
	}
	return raw, nil
}

// removeContainer force-removes a container through the engine. On
// timeout the deadline kills the engine CLI, not the container: the
// container keeps running under the daemon and --rm never fires, so it
// has to be reaped by name with a fresh context.
func (p *SandboxProvider) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := p.runner.Run(ctx, ports.CommandSpec{
		Name: p.cfg.Engine,
		Args: []string{"rm", "-f", name},
	})
	if err != nil || res.ExitCode != 0 {
		p.logger.Warn(ctx, "failed to remove container",
			ports.F("container", name),
			ports.F("stderr", strings.TrimSpace(res.Stderr)),
		)
		return
	}
	p.logger.Debug(ctx, "removed container", ports.F("container", name))
}

func (p *SandboxProvider) containerName(req Request) string {
	id := req.ExecutionID
	if id == "" {
		id = uuid.New().String()
	}
	return "enact-" + id
}

// Cleanup is a no-op: containers run with --rm and remove themselves,
// and Execute reaps timed-out ones by name before returning.
func (p *SandboxProvider) Cleanup(ctx context.Context) error { return nil }

func (p *SandboxProvider) image(m *manifest.ToolManifest) string {
	if m != nil && m.From != "" {
		return m.From
	}
	return p.cfg.DefaultImage
}

func (p *SandboxProvider) buildRunArgs(req Request, name string) []string {
	args := []string{"run", "--rm", "-i", "--name", name}

	memory := p.cfg.Memory
	if req.Manifest != nil && req.Manifest.Resources.Memory != "" {
		memory = req.Manifest.Resources.Memory
	}
	if memory != "" {
		args = append(args, "--memory", memory)
	}
	if p.cfg.CPUs != "" {
		args = append(args, "--cpus", p.cfg.CPUs)
	}

	// Network stays off unless the tool declares it talks to the
	// outside world, or the operator opted in globally.
	openWorld := req.Manifest != nil && req.Manifest.Annotations.OpenWorldHint
	if !openWorld && !p.cfg.AllowNetwork {
		args = append(args, "--network", "none")
	}

	if req.Mount != nil {
		args = append(args, "-v", req.Mount.HostPath+":"+req.Mount.ContainerPath)
		args = append(args, "-w", req.Mount.ContainerPath)
	} else {
		args = append(args, "-w", p.cfg.WorkspaceRoot)
	}

	for _, kv := range sortedEnv(req.Env) {
		args = append(args, "-e", kv)
	}

	args = append(args, p.image(req.Manifest), "sh", "-c", req.Command)
	return args
}

// isEngineFault distinguishes engine failures from tool failures.
// Docker reserves exit 125 for its own errors; a daemon-connect
// message on stderr is conclusive either way.
func isEngineFault(res ports.CommandResult) bool {
	if res.TimedOut {
		return false
	}
	stderr := strings.ToLower(res.Stderr)
	if strings.Contains(stderr, "cannot connect to the docker daemon") ||
		strings.Contains(stderr, "error during connect") ||
		strings.Contains(stderr, "daemon is not running") {
		return true
	}
	if res.ExitCode == 125 && strings.Contains(stderr, "docker:") {
		return true
	}
	return false
}

func sortedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
