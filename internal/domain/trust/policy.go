package trust

import (
	"fmt"
	"strings"
)

// AlgorithmSHA256 is the only hash algorithm signatures may declare.
const AlgorithmSHA256 = "sha256"

// SignatureTypeECDSAP256 is the signature scheme used for manifests.
const SignatureTypeECDSAP256 = "ecdsa-p256"

// Signing roles recognized by the canonical policies.
const (
	RoleAuthor   = "author"
	RoleReviewer = "reviewer"
	RoleApprover = "approver"
)

// Policy defines the rules a manifest's signature set must satisfy.
type Policy struct {
	// Name identifies the policy in audit records and CLI flags.
	Name string

	// MinimumSignatures is the number of valid signatures required.
	MinimumSignatures int

	// RequiredRoles must all appear among the verified signers.
	RequiredRoles []string

	// TrustedSigners, when non-empty, is an allow-list of signer
	// identities; signatures from anyone else are rejected.
	TrustedSigners []string

	// AllowedAlgorithms lists acceptable hash algorithms.
	AllowedAlgorithms []string
}

// PermissivePolicy accepts any single valid signature.
func PermissivePolicy() Policy {
	return Policy{
		Name:              "permissive",
		MinimumSignatures: 1,
		AllowedAlgorithms: []string{AlgorithmSHA256},
	}
}

// EnterprisePolicy requires an author and a reviewer.
func EnterprisePolicy() Policy {
	return Policy{
		Name:              "enterprise",
		MinimumSignatures: 2,
		RequiredRoles:     []string{RoleAuthor, RoleReviewer},
		AllowedAlgorithms: []string{AlgorithmSHA256},
	}
}

// ParanoidPolicy requires author, reviewer, and approver.
func ParanoidPolicy() Policy {
	return Policy{
		Name:              "paranoid",
		MinimumSignatures: 3,
		RequiredRoles:     []string{RoleAuthor, RoleReviewer, RoleApprover},
		AllowedAlgorithms: []string{AlgorithmSHA256},
	}
}

// PolicyFromString resolves a policy by name.
func PolicyFromString(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "permissive":
		return PermissivePolicy(), nil
	case "enterprise":
		return EnterprisePolicy(), nil
	case "paranoid":
		return ParanoidPolicy(), nil
	default:
		return Policy{}, fmt.Errorf("unknown verification policy: %s", s)
	}
}

// AllowsAlgorithm reports whether the policy accepts the given algorithm.
func (p Policy) AllowsAlgorithm(alg string) bool {
	for _, a := range p.AllowedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// AllowsSigner reports whether the signer identity passes the allow-list.
// An empty allow-list accepts everyone.
func (p Policy) AllowsSigner(signer string) bool {
	if len(p.TrustedSigners) == 0 {
		return true
	}
	for _, s := range p.TrustedSigners {
		if s == signer {
			return true
		}
	}
	return false
}

// MissingRoles returns the required roles not present in the given set.
func (p Policy) MissingRoles(present map[string]bool) []string {
	var missing []string
	for _, role := range p.RequiredRoles {
		if !present[role] {
			missing = append(missing, role)
		}
	}
	return missing
}
