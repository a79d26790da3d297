// Package core wires the pipeline together: validation, safety
// scanning, environment resolution, the verification gate, template
// substitution, and provider dispatch.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enactprotocol/enact-go/internal/domain/audit"
	"github.com/enactprotocol/enact-go/internal/domain/envres"
	"github.com/enactprotocol/enact-go/internal/domain/execution"
	"github.com/enactprotocol/enact-go/internal/domain/gate"
	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/domain/safety"
	"github.com/enactprotocol/enact-go/internal/ports"
)

// State names the phases an execution moves through. Transitions only
// ever move forward; a failure in any phase jumps to StateFailed.
type State string

// Execution states.
const (
	StateValidating    State = "validating"
	StateSafetyChecked State = "safety_checked"
	StateEnvResolved   State = "env_resolved"
	StateVerified      State = "verified"
	StateDispatched    State = "dispatched"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
	StateTimedOut      State = "timed_out"
)

// DefaultTimeout bounds executions whose manifest declares none.
const DefaultTimeout = 30 * time.Second

// ExecuteOptions carry per-call overrides through the pipeline.
type ExecuteOptions struct {
	// SkipVerification and Force are forwarded to the gate; Force
	// additionally overrides blocked safety findings.
	SkipVerification bool
	Force            bool

	// IsLocalFile marks manifests the operator loaded from disk.
	IsLocalFile bool

	// DryRun stops after the gate and reports what would run.
	DryRun bool

	// Timeout overrides the manifest's timeout when positive.
	Timeout time.Duration

	// Mount maps a host directory into the execution environment.
	Mount *execution.MountSpec
}

// Core orchestrates tool execution. The provider may be swapped at
// runtime; everything else is fixed at construction.
type Core struct {
	scanner  *safety.Scanner
	resolver *envres.Resolver
	enforcer *gate.Enforcer
	audit    *audit.Service
	logger   ports.Logger

	mu       sync.Mutex
	provider execution.Provider
}

// New creates a Core with the given collaborators.
func New(
	scanner *safety.Scanner,
	resolver *envres.Resolver,
	enforcer *gate.Enforcer,
	auditSvc *audit.Service,
	provider execution.Provider,
	logger ports.Logger,
) *Core {
	return &Core{
		scanner:  scanner,
		resolver: resolver,
		enforcer: enforcer,
		audit:    auditSvc,
		provider: provider,
		logger:   logger,
	}
}

// SetProvider swaps the execution provider. In-flight executions keep
// the provider they started with.
func (c *Core) SetProvider(p execution.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = p
}

func (c *Core) currentProvider() execution.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

// run tracks one execution's identity and state.
type run struct {
	ctx    context.Context
	id     string
	state  State
	logger ports.Logger
}

func (r *run) advance(s State) {
	r.logger.Debug(r.ctx, "execution state",
		ports.F("execution_id", r.id),
		ports.F("from", string(r.state)),
		ports.F("to", string(s)),
	)
	r.state = s
}

// Execute runs the full pipeline for a parsed manifest. Expected
// failures come back as a failed Result with a typed error; the error
// return is reserved for faults of the pipeline itself.
func (c *Core) Execute(ctx context.Context, m *manifest.ToolManifest, inputs map[string]any, opts ExecuteOptions) *execution.Result {
	r := &run{ctx: ctx, id: uuid.New().String(), state: StateValidating, logger: c.logger}
	meta := execution.Metadata{
		ExecutionID: r.id,
		ToolName:    m.Name,
		Version:     m.Version,
		ExecutedAt:  time.Now().UTC(),
		Command:     m.Command,
	}

	fail := func(code execution.ErrorCode, msg string, details map[string]any) *execution.Result {
		r.advance(StateFailed)
		res := execution.Failure(code, msg, details)
		res.Metadata = meta
		return res
	}

	// Structural validation.
	if err := m.Validate(); err != nil {
		return fail(execution.CodeValidation, err.Error(), nil)
	}

	coerced, err := validateInputs(m.InputSchema, inputs)
	if err != nil {
		return fail(execution.CodeValidation, err.Error(), map[string]any{
			"inputSchema": m.InputSchema,
		})
	}

	// Safety scan runs on the raw template, before substitution can
	// hide a dangerous pattern inside a variable.
	scan := c.scanner.Scan(m.Command, m)
	for _, w := range scan.Warnings {
		c.logger.Warn(ctx, "command safety warning",
			ports.F("tool", m.Name),
			ports.F("reason", w.Reason),
		)
	}
	if !scan.IsSafe && !opts.Force {
		reasons := make([]string, 0, len(scan.Blocked))
		for _, b := range scan.Blocked {
			reasons = append(reasons, b.Reason)
		}
		return fail(execution.CodeCommandUnsafe,
			fmt.Sprintf("command blocked by safety scanner: %s", reasons[0]),
			map[string]any{"blocked": scan.Blocked},
		)
	}
	if !scan.IsSafe && opts.Force {
		c.logger.Warn(ctx, "forcing past blocked safety findings", ports.F("tool", m.Name))
	}
	r.advance(StateSafetyChecked)

	// Environment resolution aborts before any secret-bearing command
	// is built, so the user sees every missing variable at once.
	resolution, err := c.resolver.Resolve(m.Env)
	if err != nil {
		return fail(execution.CodeExecution, fmt.Sprintf("resolving environment: %v", err), nil)
	}
	for _, w := range resolution.Warnings {
		c.logger.Warn(ctx, "environment warning", ports.F("detail", w))
	}
	if len(resolution.Missing) > 0 {
		names := make([]string, 0, len(resolution.Missing))
		for _, miss := range resolution.Missing {
			names = append(names, miss.Name)
		}
		return fail(execution.CodeMissingEnv,
			fmt.Sprintf("missing required environment variables: %v", names),
			map[string]any{"missing": resolution.Missing},
		)
	}
	r.advance(StateEnvResolved)

	decision := c.enforcer.Enforce(ctx, m, gate.Options{
		SkipVerification: opts.SkipVerification,
		Force:            opts.Force,
		IsLocalFile:      opts.IsLocalFile,
	})
	if !decision.Allowed {
		details := map[string]any{"policy": decision.Policy}
		if decision.Verification != nil {
			details["verification"] = decision.Verification
		}
		return fail(decision.Code, decision.Reason, details)
	}
	r.advance(StateVerified)

	command := substitute(m.Command, coerced, resolution.Resolved)
	meta.Command = command

	provider := c.currentProvider()
	meta.Environment = provider.Name()

	if opts.DryRun {
		r.advance(StateSucceeded)
		return &execution.Result{
			Success: true,
			Output: execution.Output{
				Stdout: fmt.Sprintf("dry run: would execute %q via %s", command, provider.Name()),
			},
			Metadata: meta,
		}
	}

	timeout := c.timeoutFor(ctx, m, opts)
	req := execution.Request{
		Manifest:    m,
		Command:     command,
		Env:         resolution.Resolved,
		Timeout:     timeout,
		Mount:       opts.Mount,
		ExecutionID: r.id,
	}

	if err := provider.Setup(ctx, m); err != nil {
		c.logAudit(ctx, meta, 0, false, err.Error())
		return fail(execution.CodeProviderFault, err.Error(), nil)
	}

	r.advance(StateDispatched)
	started := time.Now()
	raw, err := provider.Execute(ctx, req)
	elapsed := time.Since(started)

	if cleanupErr := provider.Cleanup(ctx); cleanupErr != nil {
		c.logger.Warn(ctx, "provider cleanup failed", ports.F("error", cleanupErr.Error()))
	}

	if err != nil {
		c.logAudit(ctx, meta, elapsed, false, err.Error())
		return fail(execution.CodeProviderFault, err.Error(), nil)
	}

	if raw.TimedOut {
		r.advance(StateTimedOut)
		if auditErr := c.audit.LogTimeout(ctx, m.Name, meta.ExecutionID, meta.Environment, timeout); auditErr != nil {
			c.logger.Error(ctx, "failed to write timeout audit record", ports.F("error", auditErr.Error()))
		}
		res := execution.Failure(execution.CodeTimeout,
			fmt.Sprintf("execution exceeded timeout of %s", timeout),
			map[string]any{"timeout": timeout.String()},
		)
		res.Output = execution.Output{Stdout: raw.Stdout, Stderr: raw.Stderr}
		res.Metadata = meta
		return res
	}

	if raw.ExitCode != 0 {
		c.logAudit(ctx, meta, elapsed, false, fmt.Sprintf("exit code %d", raw.ExitCode))
		res := execution.Failure(execution.CodeExecution,
			fmt.Sprintf("command exited with code %d", raw.ExitCode),
			map[string]any{"exitCode": raw.ExitCode},
		)
		res.Output = execution.Output{Stdout: raw.Stdout, Stderr: raw.Stderr}
		res.Metadata = meta
		r.advance(StateFailed)
		return res
	}

	r.advance(StateSucceeded)
	c.logAudit(ctx, meta, elapsed, true, "")
	return &execution.Result{
		Success:  true,
		Output:   execution.Output{Stdout: raw.Stdout, Stderr: raw.Stderr},
		Metadata: meta,
	}
}

func (c *Core) logAudit(ctx context.Context, meta execution.Metadata, elapsed time.Duration, success bool, errMsg string) {
	if err := c.audit.LogExecution(ctx, meta.ToolName, meta.ExecutionID, meta.Environment, elapsed, success, errMsg); err != nil {
		c.logger.Error(ctx, "failed to write execution audit record", ports.F("error", err.Error()))
	}
}

func (c *Core) timeoutFor(ctx context.Context, m *manifest.ToolManifest, opts ExecuteOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if m.Timeout != "" {
		if d, err := time.ParseDuration(m.Timeout); err == nil && d > 0 {
			return d
		}
		c.logger.Warn(ctx, "invalid timeout in manifest, using default",
			ports.F("tool", m.Name),
			ports.F("timeout", m.Timeout),
		)
	}
	return DefaultTimeout
}
