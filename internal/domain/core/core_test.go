package core

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enactprotocol/enact-go/internal/adapters/logging"
	"github.com/enactprotocol/enact-go/internal/domain/audit"
	"github.com/enactprotocol/enact-go/internal/domain/envres"
	"github.com/enactprotocol/enact-go/internal/domain/execution"
	"github.com/enactprotocol/enact-go/internal/domain/gate"
	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/domain/safety"
	"github.com/enactprotocol/enact-go/internal/domain/trust"
)

// fakeProvider records requests and replays a scripted outcome.
type fakeProvider struct {
	mu           sync.Mutex
	calls        []execution.Request
	raw          execution.RawResult
	err          error
	setupErr     error
	setupCalls   int
	cleanupCalls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Setup(_ context.Context, _ *manifest.ToolManifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setupCalls++
	return f.setupErr
}

func (f *fakeProvider) Cleanup(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
	return nil
}

func (f *fakeProvider) Execute(_ context.Context, req execution.Request) (execution.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.raw, f.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) lastCall() execution.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type coreFixture struct {
	core     *Core
	provider *fakeProvider
	key      *ecdsa.PrivateKey
	store    *trust.Store
}

func newCoreFixture(t *testing.T, layers ...envres.Layer) *coreFixture {
	t.Helper()

	store := trust.NewStore(t.TempDir())
	key, err := trust.GenerateKey()
	require.NoError(t, err)
	pem, err := trust.EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	_, err = store.Add(pem, "signer", trust.SourceUser)
	require.NoError(t, err)

	provider := &fakeProvider{raw: execution.RawResult{ExitCode: 0, Stdout: "ok\n"}}
	logger := logging.NewNopLogger()
	auditSvc := audit.NewService(audit.NopLogger{})
	enforcer := gate.NewEnforcer(trust.NewVerifier(store), auditSvc, logger, trust.PermissivePolicy())

	c := New(
		safety.NewScanner(),
		envres.NewResolver(layers...).WithoutProcessEnv(),
		enforcer,
		auditSvc,
		provider,
		logger,
	)
	return &coreFixture{core: c, provider: provider, key: key, store: store}
}

func (fx *coreFixture) signedManifest(t *testing.T, yaml string) *manifest.ToolManifest {
	t.Helper()
	m, err := manifest.Parse([]byte(yaml))
	require.NoError(t, err)
	require.NoError(t, trust.Sign(m, fx.key, trust.Identity{ID: "alice@acme.dev", Role: trust.RoleAuthor}))
	return m
}

func parseManifest(t *testing.T, yaml string) *manifest.ToolManifest {
	t.Helper()
	m, err := manifest.Parse([]byte(yaml))
	require.NoError(t, err)
	return m
}

func TestExecuteHappyPath(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/greet
description: Greets the caller
command: echo hello ${name}
version: 2.0.0
inputSchema:
  type: object
  properties:
    name:
      type: string
  required:
    - name
`)
	res := fx.core.Execute(context.Background(), m, map[string]any{"name": "world"}, ExecuteOptions{})

	require.True(t, res.Success, "unexpected failure: %+v", res.Error)
	assert.Equal(t, "ok\n", res.Output.Stdout)
	assert.Equal(t, "acme/tools/greet", res.Metadata.ToolName)
	assert.Equal(t, "2.0.0", res.Metadata.Version)
	assert.Equal(t, "fake", res.Metadata.Environment)
	assert.Equal(t, "echo hello world", res.Metadata.Command)
	assert.NotEmpty(t, res.Metadata.ExecutionID)

	require.Equal(t, 1, fx.provider.callCount())
	assert.Equal(t, "echo hello world", fx.provider.lastCall().Command)
	assert.Equal(t, res.Metadata.ExecutionID, fx.provider.lastCall().ExecutionID)

	// Dispatch runs the full provider lifecycle around the command.
	assert.Equal(t, 1, fx.provider.setupCalls)
	assert.Equal(t, 1, fx.provider.cleanupCalls)
}

func TestExecuteSetupFailureIsProviderFault(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	fx.provider.setupErr = fmt.Errorf("%w: docker not found", execution.ErrEngineNotFound)

	m := fx.signedManifest(t, `
name: acme/tools/greet
description: Greets
command: echo hi
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeProviderFault, res.Error.Code)
	assert.Contains(t, res.Error.Message, "docker not found")
	assert.Zero(t, fx.provider.callCount(), "command must not dispatch when setup fails")
}

func TestExecuteUnsignedRemoteNeverReachesProvider(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := parseManifest(t, `
name: acme/tools/plain
description: Unsigned
command: echo hi
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{Force: true})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeNoSignatures, res.Error.Code)
	assert.Zero(t, fx.provider.callCount(), "provider must not run for unsigned remote tools")
}

func TestExecuteUnsignedLocalRuns(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := parseManifest(t, `
name: acme/tools/plain
description: Unsigned
command: echo hi
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{IsLocalFile: true})

	require.True(t, res.Success)
	assert.Equal(t, 1, fx.provider.callCount())
}

func TestExecuteMissingEnvAbortsBeforeGate(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/deploy
description: Deploys
command: deploy --token ${DEPLOY_TOKEN}
env:
  DEPLOY_TOKEN:
    description: API token for the deploy service
    source: https://acme.dev/tokens
    required: true
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeMissingEnv, res.Error.Code)
	assert.Contains(t, res.Error.Message, "DEPLOY_TOKEN")

	missing, ok := res.Error.Details["missing"].([]envres.Missing)
	require.True(t, ok)
	require.Len(t, missing, 1)
	assert.Equal(t, "https://acme.dev/tokens", missing[0].Source)
	assert.Zero(t, fx.provider.callCount())
}

func TestExecuteEnvLayerFeedsSubstitution(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	layerPath := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(layerPath, []byte("API_URL: https://api.acme.dev\n"), 0o600))

	fx := newCoreFixture(t, envres.Layer{Name: "project", Path: layerPath})
	m := fx.signedManifest(t, `
name: acme/tools/ping
description: Pings the API
command: curl ${API_URL}/health
env:
  API_URL:
    required: true
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.True(t, res.Success, "unexpected failure: %+v", res.Error)
	assert.Equal(t, "curl https://api.acme.dev/health", fx.provider.lastCall().Command)
	assert.Equal(t, "https://api.acme.dev", fx.provider.lastCall().Env["API_URL"])
}

func TestExecuteBlockedCommandRequiresForce(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	yaml := `
name: acme/tools/wipe
description: Wipes a directory
command: rm -rf / --no-preserve-root
`
	blocked := fx.core.Execute(context.Background(), parseManifest(t, yaml), nil, ExecuteOptions{IsLocalFile: true})
	require.False(t, blocked.Success)
	assert.Equal(t, execution.CodeCommandUnsafe, blocked.Error.Code)
	assert.Zero(t, fx.provider.callCount())

	forced := fx.core.Execute(context.Background(), parseManifest(t, yaml), nil, ExecuteOptions{IsLocalFile: true, Force: true})
	require.True(t, forced.Success)
	assert.Equal(t, 1, fx.provider.callCount())
}

func TestExecuteMissingRequiredInput(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/greet
description: Greets
command: echo ${name}
inputSchema:
  type: object
  required:
    - name
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeValidation, res.Error.Code)
	assert.Contains(t, res.Error.Message, "name")
}

func TestExecuteCoercesNumericInput(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/serve
description: Serves
command: serve --port ${port}
inputSchema:
  type: object
  properties:
    port:
      type: integer
`)
	res := fx.core.Execute(context.Background(), m, map[string]any{"port": 8080}, ExecuteOptions{})

	require.True(t, res.Success, "unexpected failure: %+v", res.Error)
	assert.Equal(t, "serve --port 8080", fx.provider.lastCall().Command)
}

func TestExecuteUnresolvedPlaceholderLeftVerbatim(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/echo
description: Echoes
command: echo ${missing_thing}
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.True(t, res.Success)
	assert.Equal(t, "echo ${missing_thing}", fx.provider.lastCall().Command)
}

func TestExecuteTimeoutResult(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	fx.provider.raw = execution.RawResult{ExitCode: -1, TimedOut: true, Stderr: "killed"}
	m := fx.signedManifest(t, `
name: acme/tools/slow
description: Sleeps
command: sleep 600
timeout: 1s
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeTimeout, res.Error.Code)
	assert.Contains(t, res.Error.Message, "1s")
	assert.Equal(t, "killed", res.Output.Stderr)
}

func TestExecuteNonzeroExitIsExecutionError(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	fx.provider.raw = execution.RawResult{ExitCode: 3, Stderr: "bad flag"}
	m := fx.signedManifest(t, `
name: acme/tools/cli
description: Fails
command: cli --bad-flag
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeExecution, res.Error.Code)
	assert.Equal(t, 3, res.Error.Details["exitCode"])
	assert.Equal(t, "bad flag", res.Output.Stderr)
}

func TestExecuteProviderFault(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	fx.provider.err = errors.New("docker daemon unreachable")
	m := fx.signedManifest(t, `
name: acme/tools/sandboxed
description: Sandboxed
command: echo hi
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.False(t, res.Success)
	assert.Equal(t, execution.CodeProviderFault, res.Error.Code)
}

func TestExecuteDryRunStopsBeforeDispatch(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/greet
description: Greets
command: echo hello
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{DryRun: true})

	require.True(t, res.Success)
	assert.Contains(t, res.Output.Stdout, "echo hello")
	assert.Zero(t, fx.provider.callCount())
}

func TestExecuteTimeoutPrecedence(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)

	m := fx.signedManifest(t, `
name: acme/tools/slow
description: Slow
command: sleep 5
timeout: 2m
`)
	fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})
	assert.Equal(t, 2*time.Minute, fx.provider.lastCall().Timeout)

	fx.core.Execute(context.Background(), m, nil, ExecuteOptions{Timeout: 5 * time.Second})
	assert.Equal(t, 5*time.Second, fx.provider.lastCall().Timeout)
}

func TestExecuteDefaultTimeout(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	m := fx.signedManifest(t, `
name: acme/tools/quick
description: Quick
command: echo hi
`)
	fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})
	assert.Equal(t, DefaultTimeout, fx.provider.lastCall().Timeout)
}

func TestSetProviderSwapsDispatchTarget(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	second := &fakeProvider{raw: execution.RawResult{ExitCode: 0, Stdout: "second\n"}}
	fx.core.SetProvider(second)

	m := fx.signedManifest(t, `
name: acme/tools/greet
description: Greets
command: echo hi
`)
	res := fx.core.Execute(context.Background(), m, nil, ExecuteOptions{})

	require.True(t, res.Success)
	assert.Equal(t, "second\n", res.Output.Stdout)
	assert.Zero(t, fx.provider.callCount())
	assert.Equal(t, 1, second.callCount())
}

func TestDirectorySourceAndExecuteByName(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	root := t.TempDir()
	toolDir := filepath.Join(root, "acme", "tools")
	require.NoError(t, os.MkdirAll(toolDir, 0o755))

	m := fx.signedManifest(t, `
name: acme/tools/greet
description: Greets
command: echo hi
`)
	data, err := m.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "greet.yaml"), data, 0o600))

	api := NewAPI(fx.core, NewDirectorySource(root), trust.NewVerifier(fx.store), trust.PermissivePolicy())

	assert.True(t, api.ToolExists("acme/tools/greet"))
	assert.False(t, api.ToolExists("acme/tools/nope"))

	res := api.ExecuteByName(context.Background(), "acme/tools/greet", nil, ExecuteOptions{})
	require.True(t, res.Success, "unexpected failure: %+v", res.Error)

	missing := api.ExecuteByName(context.Background(), "acme/tools/nope", nil, ExecuteOptions{})
	require.False(t, missing.Success)
	assert.Equal(t, execution.CodeToolNotFound, missing.Error.Code)

	verification, err := api.VerifyTool("acme/tools/greet", "")
	require.NoError(t, err)
	assert.True(t, verification.IsValid)

	// A per-call policy overrides the one the API was built with: a
	// single author signature cannot satisfy enterprise.
	stricter, err := api.VerifyTool("acme/tools/greet", "enterprise")
	require.NoError(t, err)
	assert.False(t, stricter.IsValid)
	assert.Equal(t, "enterprise", stricter.Policy)

	_, err = api.VerifyTool("acme/tools/greet", "lenient")
	require.Error(t, err)
}

func TestExecuteByNameIgnoresLocalFileFlag(t *testing.T) {
	t.Parallel()

	fx := newCoreFixture(t)
	root := t.TempDir()
	toolDir := filepath.Join(root, "acme", "tools")
	require.NoError(t, os.MkdirAll(toolDir, 0o755))

	m := parseManifest(t, `
name: acme/tools/plain
description: Unsigned
command: echo hi
`)
	data, err := m.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "plain.yaml"), data, 0o600))

	api := NewAPI(fx.core, NewDirectorySource(root), trust.NewVerifier(fx.store), trust.PermissivePolicy())

	// Name resolution never yields an operator-vouched local file, so
	// the caller cannot smuggle an unsigned registry tool past the gate.
	res := api.ExecuteByName(context.Background(), "acme/tools/plain", nil, ExecuteOptions{IsLocalFile: true})
	require.False(t, res.Success)
	assert.Equal(t, execution.CodeNoSignatures, res.Error.Code)
	assert.Zero(t, fx.provider.callCount())
}

func TestDirectorySourceRejectsTraversal(t *testing.T) {
	t.Parallel()

	src := NewDirectorySource(t.TempDir())
	assert.False(t, src.Exists("../etc/passwd"))
	assert.False(t, src.Exists("/etc/passwd"))
}
