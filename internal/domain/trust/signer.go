package trust

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
)

// Signing errors.
var (
	ErrNilPrivateKey = errors.New("private key is nil")
	ErrEmptySigner   = errors.New("signer identity is required")
)

// Identity names who is signing and in what role.
type Identity struct {
	ID   string
	Role string
}

// rawSignatureLen is r‖s for P-256: two 32-byte scalars.
const rawSignatureLen = 64

// Sign computes the manifest's canonical hash, signs it with ECDSA
// P-256, and inserts the signature record keyed by the base64 public
// key. Re-signing with the same key overwrites the previous record.
func Sign(m *manifest.ToolManifest, key *ecdsa.PrivateKey, ident Identity) error {
	if key == nil {
		return ErrNilPrivateKey
	}
	if ident.ID == "" {
		return ErrEmptySigner
	}
	if err := m.Validate(); err != nil {
		return err
	}

	hash, err := m.Hash()
	if err != nil {
		return err
	}

	r, s, err := ecdsa.Sign(rand.Reader, key, hash)
	if err != nil {
		return fmt.Errorf("signing failed: %w", err)
	}

	// Fixed-width raw r‖s, not ASN.1 DER.
	raw := make([]byte, rawSignatureLen)
	r.FillBytes(raw[:rawSignatureLen/2])
	s.FillBytes(raw[rawSignatureLen/2:])

	pubB64, err := EncodePublicKeyBase64(&key.PublicKey)
	if err != nil {
		return err
	}

	m.SetSignature(pubB64, manifest.SignatureRecord{
		Algorithm: AlgorithmSHA256,
		Type:      SignatureTypeECDSAP256,
		Signer:    ident.ID,
		Role:      ident.Role,
		Created:   time.Now().UTC().Format(time.RFC3339),
		Value:     base64.StdEncoding.EncodeToString(raw),
	})
	return nil
}

// verifyRaw checks a raw r‖s signature against a hash.
func verifyRaw(pub *ecdsa.PublicKey, hash, raw []byte) bool {
	if len(raw) != rawSignatureLen {
		return false
	}
	r := new(big.Int).SetBytes(raw[:rawSignatureLen/2])
	s := new(big.Int).SetBytes(raw[rawSignatureLen/2:])
	return ecdsa.Verify(pub, hash, r, s)
}
