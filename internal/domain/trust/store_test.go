package trust

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func newTestKey(t *testing.T) ([]byte, string) {
	t.Helper()
	priv, err := GenerateKey()
	require.NoError(t, err)
	pemBytes, err := EncodePublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)
	b64, err := EncodePublicKeyBase64(&priv.PublicKey)
	require.NoError(t, err)
	return pemBytes, b64
}

func TestStore_AddListRemove(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "trusted-keys"))
	pemBytes, _ := newTestKey(t)

	key, err := store.Add(pemBytes, "alice", SourceUser)
	require.NoError(t, err)
	assert.Equal(t, "alice.pem", key.Filename)
	assert.Len(t, key.ID, 16)

	keys, err := store.List()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)

	require.NoError(t, store.Remove("alice"))
	assert.Equal(t, 0, store.Count())
}

func TestStore_AddDuplicateName(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	pemBytes, _ := newTestKey(t)

	_, err := store.Add(pemBytes, "dup", SourceUser)
	require.NoError(t, err)
	_, err = store.Add(pemBytes, "dup", SourceUser)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestStore_AddRejectsGarbage(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	_, err := store.Add([]byte("not a key"), "bad", SourceUser)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestStore_RemoveMissing(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	assert.ErrorIs(t, store.Remove("ghost"), ErrKeyNotFound)
}

func TestStore_Lookup(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	pemBytes, b64 := newTestKey(t)
	added, err := store.Add(pemBytes, "", SourceOrganization)
	require.NoError(t, err)

	// Lookup by canonical base64.
	got, found := store.Lookup(b64)
	require.True(t, found)
	assert.Equal(t, added.ID, got.ID)

	// Lookup by full PEM with extra whitespace survives normalization.
	sloppy := "  " + strings.ReplaceAll(string(pemBytes), "\n", "\r\n") + "\n\n"
	_, found = store.Lookup(sloppy)
	assert.True(t, found)

	// Unknown key.
	_, otherB64 := newTestKey(t)
	_, found = store.Lookup(otherB64)
	assert.False(t, found)
}

func TestStore_EmptyDir(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "never-created"))
	keys, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, 0, store.Count())
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	pemBytes, b64 := newTestKey(t)

	tests := []struct {
		name  string
		input string
	}{
		{"plain base64", b64},
		{"base64 with newlines", b64[:20] + "\n" + b64[20:]},
		{"pem", string(pemBytes)},
		{"pem with crlf", strings.ReplaceAll(string(pemBytes), "\n", "\r\n")},
		{"pem with indentation", "  " + strings.ReplaceAll(string(pemBytes), "\n", "\n  ")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, b64, NormalizeKey(tt.input))
		})
	}
}

func TestParsePublicKeyPEM_SSHFormat(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKey()
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	authorized := ssh.MarshalAuthorizedKey(sshPub)

	parsed, err := ParsePublicKeyPEM(authorized)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))

	// A store accepts the SSH form directly and persists it as PEM.
	store := NewStore(t.TempDir())
	key, err := store.Add(authorized, "ci-signer", SourceUser)
	require.NoError(t, err)
	assert.Contains(t, key.PEM, "BEGIN PUBLIC KEY")
}

func TestParsePrivateKeyPEM_RoundTrip(t *testing.T) {
	t.Parallel()

	priv, err := GenerateKey()
	require.NoError(t, err)
	pemBytes, err := EncodePrivateKeyPEM(priv)
	require.NoError(t, err)

	parsed, err := ParsePrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.True(t, parsed.PublicKey.Equal(&priv.PublicKey))
}
