package trust

import (
	"encoding/base64"
	"fmt"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
)

// VerifiedSigner describes one signature that passed all checks.
type VerifiedSigner struct {
	Signer string `json:"signer"`
	Role   string `json:"role,omitempty"`
	KeyID  string `json:"keyId"`
}

// SignatureError describes why one signature entry was rejected.
// A rejected entry never aborts verification of the others.
type SignatureError struct {
	Key    string `json:"key"`
	Signer string `json:"signer,omitempty"`
	Reason string `json:"reason"`
}

// VerificationResult is the full outcome of verifying a manifest
// against a policy.
type VerificationResult struct {
	IsValid         bool             `json:"isValid"`
	Policy          string           `json:"policy"`
	ValidSignatures int              `json:"validSignatures"`
	TotalSignatures int              `json:"totalSignatures"`
	VerifiedSigners []VerifiedSigner `json:"verifiedSigners,omitempty"`
	Errors          []SignatureError `json:"errors,omitempty"`
	Message         string           `json:"message"`
}

// Verifier checks manifest signatures against a trust store.
type Verifier struct {
	store *Store
}

// NewVerifier creates a verifier backed by the given trust store.
func NewVerifier(store *Store) *Verifier {
	return &Verifier{store: store}
}

// Verify evaluates every signature entry independently, then applies
// the policy thresholds. Zero trusted keys and zero signatures are
// special-cased before any cryptographic work.
func (v *Verifier) Verify(m *manifest.ToolManifest, policy Policy) VerificationResult {
	result := VerificationResult{
		Policy:          policy.Name,
		TotalSignatures: len(m.Signatures),
	}

	if v.store.Count() == 0 {
		result.Message = "no trusted keys configured; add keys with 'enact trust add'"
		return result
	}

	if len(m.Signatures) == 0 {
		result.Message = "no signatures found on manifest"
		return result
	}

	hash, err := m.Hash()
	if err != nil {
		result.Message = fmt.Sprintf("cannot canonicalize manifest: %v", err)
		return result
	}

	roles := make(map[string]bool)
	for keyB64, record := range m.Signatures {
		if rejected := v.checkSignature(keyB64, record, hash, policy, &result, roles); rejected {
			continue
		}
	}

	missing := policy.MissingRoles(roles)
	result.IsValid = result.ValidSignatures > 0 &&
		result.ValidSignatures >= policy.MinimumSignatures &&
		len(missing) == 0

	switch {
	case result.IsValid:
		result.Message = fmt.Sprintf("%d valid signature(s) satisfy policy %q", result.ValidSignatures, policy.Name)
	case result.ValidSignatures < policy.MinimumSignatures:
		result.Message = fmt.Sprintf("policy %q requires %d signature(s), got %d valid",
			policy.Name, policy.MinimumSignatures, result.ValidSignatures)
	default:
		result.Message = fmt.Sprintf("policy %q is missing required role(s): %v", policy.Name, missing)
	}

	return result
}

// checkSignature validates one entry; returns true if it was rejected.
func (v *Verifier) checkSignature(
	keyB64 string,
	record manifest.SignatureRecord,
	hash []byte,
	policy Policy,
	result *VerificationResult,
	roles map[string]bool,
) bool {
	reject := func(reason string) bool {
		result.Errors = append(result.Errors, SignatureError{
			Key:    shortKey(keyB64),
			Signer: record.Signer,
			Reason: reason,
		})
		return true
	}

	if record.Type != SignatureTypeECDSAP256 {
		return reject(fmt.Sprintf("unsupported signature type %q", record.Type))
	}

	if !policy.AllowsAlgorithm(record.Algorithm) {
		return reject(fmt.Sprintf("algorithm %q not allowed by policy", record.Algorithm))
	}

	if !policy.AllowsSigner(record.Signer) {
		return reject(fmt.Sprintf("signer %q not in the trusted signer list", record.Signer))
	}

	trusted, found := v.store.Lookup(keyB64)
	if !found {
		return reject("public key is not trusted")
	}

	pub, err := ParsePublicKeyBase64(keyB64)
	if err != nil {
		return reject(fmt.Sprintf("malformed public key: %v", err))
	}

	raw, err := base64.StdEncoding.DecodeString(record.Value)
	if err != nil {
		return reject(fmt.Sprintf("malformed signature value: %v", err))
	}

	if !verifyRaw(pub, hash, raw) {
		return reject("signature does not match manifest content")
	}

	result.ValidSignatures++
	result.VerifiedSigners = append(result.VerifiedSigners, VerifiedSigner{
		Signer: record.Signer,
		Role:   record.Role,
		KeyID:  trusted.ID,
	})
	if record.Role != "" {
		roles[record.Role] = true
	}
	return false
}

// shortKey abbreviates a base64 key for error messages.
func shortKey(k string) string {
	if len(k) > 24 {
		return k[:24] + "..."
	}
	return k
}
