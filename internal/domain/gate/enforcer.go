// Package gate decides whether a manifest may run. Every request
// passes through here after safety scanning and before dispatch, and
// every decision is written to the audit trail.
package gate

import (
	"context"

	"github.com/enactprotocol/enact-go/internal/domain/audit"
	"github.com/enactprotocol/enact-go/internal/domain/execution"
	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/domain/trust"
	"github.com/enactprotocol/enact-go/internal/ports"
)

// Options are the caller-requested overrides for one enforcement.
type Options struct {
	// SkipVerification requests bypassing signature checks. Honored
	// only for local files; ignored for anything fetched remotely.
	SkipVerification bool

	// Force requests overriding safety warnings upstream. It carries
	// no weight here: a missing signature is never forceable.
	Force bool

	// IsLocalFile marks manifests read from the local filesystem,
	// which the operator implicitly vouches for.
	IsLocalFile bool
}

// Decision is the gate's verdict for one manifest.
type Decision struct {
	Allowed bool
	Reason  string
	Policy  string

	// Code is set only on denial.
	Code execution.ErrorCode

	// Verification is present when signatures were actually checked.
	Verification *trust.VerificationResult
}

// Enforcer applies the verification policy, with a narrower set of
// escape hatches for local files than for remote tools.
type Enforcer struct {
	verifier *trust.Verifier
	audit    *audit.Service
	logger   ports.Logger
	policy   trust.Policy
}

// NewEnforcer creates a gate bound to one policy.
func NewEnforcer(verifier *trust.Verifier, auditSvc *audit.Service, logger ports.Logger, policy trust.Policy) *Enforcer {
	return &Enforcer{
		verifier: verifier,
		audit:    auditSvc,
		logger:   logger,
		policy:   policy,
	}
}

// Policy returns the policy the gate enforces.
func (e *Enforcer) Policy() trust.Policy { return e.policy }

// Enforce decides whether the manifest may run. Local files may skip
// verification or run unsigned; remote tools may do neither, and
// opts.Force never converts an unsigned denial into an approval.
func (e *Enforcer) Enforce(ctx context.Context, m *manifest.ToolManifest, opts Options) Decision {
	decision := e.decide(ctx, m, opts)
	e.record(ctx, m, opts, decision)
	return decision
}

func (e *Enforcer) decide(ctx context.Context, m *manifest.ToolManifest, opts Options) Decision {
	if opts.SkipVerification {
		if opts.IsLocalFile {
			return Decision{
				Allowed: true,
				Policy:  e.policy.Name,
				Reason:  "signature verification skipped for local file",
			}
		}
		// A remote tool cannot opt out of verification. Fall through
		// and verify as if the flag were never passed.
		e.logger.Warn(ctx, "ignoring skip-verification for remote tool",
			ports.F("tool", m.Name),
		)
	}

	if len(m.Signatures) == 0 {
		if opts.IsLocalFile {
			return Decision{
				Allowed: true,
				Policy:  e.policy.Name,
				Reason:  "unsigned local file allowed; the operator vouches for local tools",
			}
		}
		return Decision{
			Allowed: false,
			Policy:  e.policy.Name,
			Code:    execution.CodeNoSignatures,
			Reason:  "tool has no signatures; sign it with 'enact sign' or add a trusted signer",
		}
	}

	result := e.verifier.Verify(m, e.policy)
	if !result.IsValid {
		return Decision{
			Allowed:      false,
			Policy:       e.policy.Name,
			Code:         execution.CodeVerificationFailed,
			Reason:       result.Message,
			Verification: &result,
		}
	}
	return Decision{
		Allowed:      true,
		Policy:       e.policy.Name,
		Reason:       result.Message,
		Verification: &result,
	}
}

// record writes the audit event. It runs on every path, allowed or
// denied, and a failed write never alters the decision.
func (e *Enforcer) record(ctx context.Context, m *manifest.ToolManifest, opts Options, d Decision) {
	err := e.audit.LogGateDecision(ctx, m.Name, m.Version, d.Policy, d.Allowed, d.Reason, audit.Overrides{
		SkipVerification: opts.SkipVerification,
		Force:            opts.Force,
		IsLocalFile:      opts.IsLocalFile,
	})
	if err != nil {
		e.logger.Error(ctx, "failed to write gate audit record",
			ports.F("tool", m.Name),
			ports.F("error", err.Error()),
		)
	}
}
