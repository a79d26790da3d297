package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/enactprotocol/enact-go/internal/domain/execution"
	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/domain/trust"
)

// ErrToolNotFound reports that a manifest source has no tool by the
// requested name.
var ErrToolNotFound = errors.New("tool not found")

// ManifestSource loads manifests by hierarchical tool name.
type ManifestSource interface {
	Load(name string) (*manifest.ToolManifest, error)
	Exists(name string) bool
}

// DirectorySource resolves tool names against a directory tree:
// "acme/tools/greet" maps to <root>/acme/tools/greet.yaml.
type DirectorySource struct {
	root string
}

// NewDirectorySource creates a source rooted at dir.
func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{root: dir}
}

func (s *DirectorySource) path(name string) (string, bool) {
	// Reject names that could escape the root.
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return "", false
	}
	for _, ext := range []string{".yaml", ".yml"} {
		p := filepath.Join(s.root, filepath.FromSlash(name)+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// Load implements ManifestSource.
func (s *DirectorySource) Load(name string) (*manifest.ToolManifest, error) {
	p, ok := s.path(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return m, nil
}

// Exists implements ManifestSource.
func (s *DirectorySource) Exists(name string) bool {
	_, ok := s.path(name)
	return ok
}

// API is the library-facing surface over the execution pipeline.
type API struct {
	core     *Core
	source   ManifestSource
	verifier *trust.Verifier
	policy   trust.Policy
}

// NewAPI wraps a Core with name-based lookup and verification.
func NewAPI(core *Core, source ManifestSource, verifier *trust.Verifier, policy trust.Policy) *API {
	return &API{core: core, source: source, verifier: verifier, policy: policy}
}

// Core exposes the underlying orchestrator.
func (a *API) Core() *Core { return a.core }

// ExecuteByName looks a tool up by name and runs it. Tools loaded by
// name come from a registry or shared directory, so they are not
// treated as operator-vouched local files.
func (a *API) ExecuteByName(ctx context.Context, name string, inputs map[string]any, opts ExecuteOptions) *execution.Result {
	m, err := a.source.Load(name)
	if err != nil {
		code := execution.CodeExecution
		if errors.Is(err, ErrToolNotFound) {
			code = execution.CodeToolNotFound
		}
		res := execution.Failure(code, err.Error(), nil)
		res.Metadata.ToolName = name
		return res
	}
	// Locality is a property of how the manifest reached us, not of
	// the caller's options: name resolution is never local.
	opts.IsLocalFile = false
	return a.core.Execute(ctx, m, inputs, opts)
}

// ExecuteRaw parses manifest bytes supplied by the caller and runs
// them. The caller states via opts.IsLocalFile whether the bytes came
// off the local disk.
func (a *API) ExecuteRaw(ctx context.Context, data []byte, inputs map[string]any, opts ExecuteOptions) *execution.Result {
	m, err := manifest.Parse(data)
	if err != nil {
		return execution.Failure(execution.CodeValidation, err.Error(), nil)
	}
	return a.core.Execute(ctx, m, inputs, opts)
}

// VerifyTool checks a named tool's signatures without executing it.
// An empty policyName falls back to the API's configured policy.
func (a *API) VerifyTool(name, policyName string) (trust.VerificationResult, error) {
	m, err := a.source.Load(name)
	if err != nil {
		return trust.VerificationResult{}, err
	}
	policy := a.policy
	if policyName != "" {
		policy, err = trust.PolicyFromString(policyName)
		if err != nil {
			return trust.VerificationResult{}, err
		}
	}
	return a.verifier.Verify(m, policy), nil
}

// ToolExists reports whether the source can resolve the name.
func (a *API) ToolExists(name string) bool {
	return a.source.Exists(name)
}
