package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonicalOf(t *testing.T, data string) []byte {
	t.Helper()
	m, err := Parse([]byte(data))
	require.NoError(t, err)
	c, err := m.Canonicalize()
	require.NoError(t, err)
	return c
}

func TestCanonicalize_FieldOrderIndependence(t *testing.T) {
	t.Parallel()

	a := canonicalOf(t, `
name: t/x
description: d
command: echo hi
timeout: 30s
env:
  B_VAR: {required: true}
  A_VAR: {required: false, description: z}
`)
	b := canonicalOf(t, `
env:
  A_VAR: {description: z, required: false}
  B_VAR: {required: true}
timeout: 30s
command: echo hi
description: d
name: t/x
`)

	assert.Equal(t, a, b)
}

func TestCanonicalize_EmptyFieldEquivalence(t *testing.T) {
	t.Parallel()

	bare := canonicalOf(t, `
name: t/x
description: d
command: echo hi
`)
	withEmpties := canonicalOf(t, `
name: t/x
description: d
command: echo hi
annotations: {}
env: {}
from: ""
inputSchema: null
`)

	assert.Equal(t, bare, withEmpties)
}

func TestCanonicalize_NonCriticalFieldsIgnored(t *testing.T) {
	t.Parallel()

	plain := canonicalOf(t, `
name: t/x
description: d
command: echo hi
`)
	decorated := canonicalOf(t, `
name: t/x
description: d
command: echo hi
tags: [a, b]
license: MIT
authors:
  - name: Alice
outputSchema:
  type: object
resources:
  memory: 2Gi
`)

	assert.Equal(t, plain, decorated)
}

func TestCanonicalize_SignaturesExcluded(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte("name: t/x\ndescription: d\ncommand: echo hi\n"))
	require.NoError(t, err)
	before, err := m.Hash()
	require.NoError(t, err)

	m.SetSignature("somekey", SignatureRecord{Algorithm: "sha256", Signer: "alice", Value: "zzz"})
	after, err := m.Hash()
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestCanonicalize_CriticalFieldChangesHash(t *testing.T) {
	t.Parallel()

	m1, err := Parse([]byte("name: t/x\ndescription: d\ncommand: echo hi\n"))
	require.NoError(t, err)
	m2, err := Parse([]byte("name: t/x\ndescription: d\ncommand: echo bye\n"))
	require.NoError(t, err)

	h1, err := m1.HashHex()
	require.NoError(t, err)
	h2, err := m2.HashHex()
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestCanonicalize_DeterministicBytes(t *testing.T) {
	t.Parallel()

	c := canonicalOf(t, `
name: t/x
description: d
command: echo hi
annotations:
  readOnlyHint: true
`)

	assert.Equal(t,
		`{"name":"t/x","description":"d","command":"echo hi","annotations":{"readOnlyHint":true}}`,
		string(c))
}

func TestCanonicalize_NestedKeySorting(t *testing.T) {
	t.Parallel()

	c := canonicalOf(t, `
name: t/x
description: d
command: echo hi
inputSchema:
  type: object
  properties:
    zebra: {type: string}
    apple: {type: number}
  required: [zebra]
`)

	assert.Equal(t,
		`{"name":"t/x","description":"d","command":"echo hi",`+
			`"inputSchema":{"properties":{"apple":{"type":"number"},"zebra":{"type":"string"}},`+
			`"required":["zebra"],"type":"object"}}`,
		string(c))
}

func TestCanonicalize_MutationAfterParse(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte("name: t/x\ndescription: d\ncommand: echo hi\n"))
	require.NoError(t, err)
	before, err := m.Hash()
	require.NoError(t, err)

	m.Command = "echo bye"
	after, err := m.Hash()
	require.NoError(t, err)

	assert.NotEqual(t, before, after, "mutating a critical field must change the hash")
}

func TestCanonicalize_BuiltManifest(t *testing.T) {
	t.Parallel()

	// A manifest constructed in code canonicalizes the same as its
	// parsed equivalent.
	built := &ToolManifest{Name: "t/x", Description: "d", Command: "echo hi"}
	bc, err := built.Canonicalize()
	require.NoError(t, err)

	parsed := canonicalOf(t, "name: t/x\ndescription: d\ncommand: echo hi\n")
	assert.Equal(t, parsed, bc)
}
