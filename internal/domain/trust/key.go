// Package trust provides key management, manifest signing, and
// role-aware multi-signature verification.
package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Key errors.
var (
	ErrInvalidKey     = errors.New("invalid public key")
	ErrNotECDSAP256   = errors.New("key is not ECDSA P-256")
	ErrInvalidPrivate = errors.New("invalid private key")
)

// KeySource records where a trusted key came from.
type KeySource string

// Key sources.
const (
	SourceDefault      KeySource = "default"
	SourceOrganization KeySource = "organization"
	SourceUser         KeySource = "user"
)

// fingerprintLen is the number of hex characters kept as the key ID.
const fingerprintLen = 16

// TrustedKey is a public key the verifier will accept signatures from.
type TrustedKey struct {
	// ID is the first 16 hex chars of the SHA-256 fingerprint.
	ID string

	// PEM is the key in PEM form as stored on disk.
	PEM string

	// Filename is the file the key was loaded from, if any.
	Filename string

	// Source records who provisioned the key.
	Source KeySource

	// AddedAt is when the key entered the store.
	AddedAt time.Time
}

// Base64 returns the canonical base64 form of the key: the PKIX DER
// bytes, which equal the PEM body stripped of headers and whitespace.
func (k TrustedKey) Base64() string {
	return NormalizeKey(k.PEM)
}

// Fingerprint returns the full SHA-256 fingerprint over the PEM bytes.
func (k TrustedKey) Fingerprint() string {
	sum := sha256.Sum256([]byte(k.PEM))
	return hex.EncodeToString(sum[:])
}

// PublicKey parses the stored PEM into an ECDSA public key.
func (k TrustedKey) PublicKey() (*ecdsa.PublicKey, error) {
	return ParsePublicKeyPEM([]byte(k.PEM))
}

// KeyID derives the short key identifier from raw key file bytes.
func KeyID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// NormalizeKey converts either a PEM block or a bare base64 string into
// the canonical base64 form, tolerating header, footer, and whitespace
// variance.
func NormalizeKey(s string) string {
	if strings.Contains(s, "-----BEGIN") {
		var body strings.Builder
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "-----") {
				continue
			}
			body.WriteString(line)
		}
		return body.String()
	}
	return strings.Join(strings.Fields(s), "")
}

// ParsePublicKeyPEM parses a PEM-encoded ECDSA P-256 public key.
// SSH authorized_keys format is accepted too and converted.
func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "ecdsa-sha2-") || strings.HasPrefix(trimmed, "ssh-") {
		return parseSSHPublicKey(data)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}
	return parsePKIXECDSA(block.Bytes)
}

// ParsePublicKeyBase64 parses the canonical base64 (PKIX DER) key form.
func ParsePublicKeyBase64(s string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(NormalizeKey(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return parsePKIXECDSA(der)
}

func parsePKIXECDSA(der []byte) (*ecdsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	ecKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrNotECDSAP256
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: curve %s", ErrNotECDSAP256, ecKey.Curve.Params().Name)
	}
	return ecKey, nil
}

// parseSSHPublicKey converts an OpenSSH-format ECDSA key.
func parseSSHPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	sshKey, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	cryptoKey, ok := sshKey.(ssh.CryptoPublicKey)
	if !ok {
		return nil, ErrNotECDSAP256
	}
	ecKey, ok := cryptoKey.CryptoPublicKey().(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrNotECDSAP256
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: curve %s", ErrNotECDSAP256, ecKey.Curve.Params().Name)
	}
	return ecKey, nil
}

// EncodePublicKeyPEM encodes an ECDSA public key as PKIX PEM.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// EncodePublicKeyBase64 returns the canonical base64 form of a key.
func EncodePublicKeyBase64(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// GenerateKey creates a new ECDSA P-256 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParsePrivateKeyPEM parses an EC or PKCS#8 PEM private key.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPrivate)
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivate, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidPrivate)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes an ECDSA private key as SEC1 PEM.
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
