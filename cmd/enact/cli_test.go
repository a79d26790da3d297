package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputs(t *testing.T) {
	tests := []struct {
		name      string
		pairs     []string
		want      map[string]any
		wantError bool
	}{
		{
			name:  "empty",
			pairs: nil,
			want:  nil,
		},
		{
			name:  "single pair",
			pairs: []string{"name=world"},
			want:  map[string]any{"name": "world"},
		},
		{
			name:  "value containing equals",
			pairs: []string{"query=a=b"},
			want:  map[string]any{"query": "a=b"},
		},
		{
			name:      "missing value separator",
			pairs:     []string{"name"},
			wantError: true,
		},
		{
			name:      "empty key",
			pairs:     []string{"=value"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInputs(tt.pairs)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsManifestPath(t *testing.T) {
	assert.True(t, isManifestPath("./greet.yaml"))
	assert.True(t, isManifestPath("/abs/path/tool.yml"))
	assert.True(t, isManifestPath("greet.yaml"))
	assert.False(t, isManifestPath("acme/tools/greet"))
}

func TestPrintErrorTo(t *testing.T) {
	var buf bytes.Buffer
	printErrorTo(&buf, errors.New("something broke"))
	assert.Equal(t, "Error: something broke\n", buf.String())
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// Exercises keygen, sign, verify, and run against a real shell with
// an isolated home directory.
func TestSignVerifyRunRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	work := t.TempDir()
	manifestPath := filepath.Join(work, "greet.yaml")
	manifestYAML := `name: acme/tools/greet
description: Greets the caller
command: echo hello ${name}
inputSchema:
  type: object
  properties:
    name:
      type: string
  required:
    - name
`
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifestYAML), 0o600))

	keyPrefix := filepath.Join(home, "signing-key")
	require.NoError(t, runCLI(t, "keygen", "--out", keyPrefix, "--trust"))

	_, err := os.Stat(keyPrefix + ".pem")
	require.NoError(t, err)
	_, err = os.Stat(keyPrefix + ".pub.pem")
	require.NoError(t, err)

	require.NoError(t, runCLI(t, "sign", manifestPath,
		"--key", keyPrefix+".pem",
		"--signer", "alice@acme.dev",
	))

	// The signature must be persisted in the manifest file.
	signed, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	assert.Contains(t, string(signed), "signatures:")

	require.NoError(t, runCLI(t, "verify", manifestPath))

	require.NoError(t, runCLI(t, "run", manifestPath, "--input", "name=world"))
}

func TestRunRejectsConflictingProviderFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	runSandbox, runDirect = true, true
	t.Cleanup(func() { runSandbox, runDirect = false, false })

	err := runRun(runCmd, []string{"whatever.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestVerifyUnsignedManifestFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	work := t.TempDir()
	manifestPath := filepath.Join(work, "plain.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`name: acme/tools/plain
description: Unsigned
command: echo hi
`), 0o600))

	err := runCLI(t, "verify", manifestPath)
	require.Error(t, err)
}
