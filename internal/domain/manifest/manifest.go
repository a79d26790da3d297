// Package manifest defines the tool manifest model, its ingestion from
// YAML or JSON, and the canonical byte form used for signing.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest errors.
var (
	ErrMissingName        = errors.New("manifest name is required")
	ErrMissingDescription = errors.New("manifest description is required")
	ErrMissingCommand     = errors.New("manifest command is required")
	ErrInvalidName        = errors.New("invalid manifest name")
	ErrInvalidManifest    = errors.New("invalid manifest")
)

// namePattern matches hierarchical tool identifiers such as "org/category/tool".
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+(/[a-zA-Z0-9_.-]+)*$`)

// EnvVar declares an environment variable a tool needs at run time.
type EnvVar struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Default     string `yaml:"default,omitempty" json:"default,omitempty"`
}

// Annotations carry behavior hints. All hints default to false.
type Annotations struct {
	ReadOnlyHint    bool `yaml:"readOnlyHint,omitempty" json:"readOnlyHint,omitempty"`
	DestructiveHint bool `yaml:"destructiveHint,omitempty" json:"destructiveHint,omitempty"`
	IdempotentHint  bool `yaml:"idempotentHint,omitempty" json:"idempotentHint,omitempty"`
	OpenWorldHint   bool `yaml:"openWorldHint,omitempty" json:"openWorldHint,omitempty"`
}

// Resources are scheduling hints for sandboxed execution.
type Resources struct {
	Memory string `yaml:"memory,omitempty" json:"memory,omitempty"`
	Gpu    string `yaml:"gpu,omitempty" json:"gpu,omitempty"`
	Disk   string `yaml:"disk,omitempty" json:"disk,omitempty"`
}

// SignatureRecord is one signature over the manifest's canonical hash.
// Records are immutable once stored; re-signing with the same public key
// overwrites by map key.
type SignatureRecord struct {
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	Type      string `yaml:"type" json:"type"`
	Signer    string `yaml:"signer" json:"signer"`
	Role      string `yaml:"role,omitempty" json:"role,omitempty"`
	Created   string `yaml:"created" json:"created"`
	Value     string `yaml:"value" json:"value"`
}

// Author identifies a manifest author. Not part of the trust boundary.
type Author struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
}

// ToolManifest is a named, versioned shell command with declared inputs,
// environment requirements, and behavior hints.
type ToolManifest struct {
	Enact       string `yaml:"enact,omitempty" json:"enact,omitempty"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Command     string `yaml:"command" json:"command"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	From        string `yaml:"from,omitempty" json:"from,omitempty"`
	Timeout     string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	InputSchema  map[string]any `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
	OutputSchema map[string]any `yaml:"outputSchema,omitempty" json:"outputSchema,omitempty"`

	Env         map[string]EnvVar `yaml:"env,omitempty" json:"env,omitempty"`
	Annotations Annotations       `yaml:"annotations,omitempty" json:"annotations,omitempty"`
	Resources   Resources         `yaml:"resources,omitempty" json:"resources,omitempty"`

	Tags    []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	License string   `yaml:"license,omitempty" json:"license,omitempty"`
	Authors []Author `yaml:"authors,omitempty" json:"authors,omitempty"`

	Signatures map[string]SignatureRecord `yaml:"signatures,omitempty" json:"signatures,omitempty"`

	// raw holds the original serialized bytes. Re-serialization can
	// silently alter non-critical fields, so the bytes as authored are
	// kept alongside the parsed form.
	raw []byte

	// doc is the alias-normalized document the canonicalizer consumes.
	doc map[string]any
}

// fieldAliases maps legacy field names to their canonical form.
// Normalization happens once at ingestion; nothing downstream sees the
// aliased names.
var fieldAliases = map[string]string{
	"protocol_version": "enact",
	"protocolVersion":  "enact",
	"input_schema":     "inputSchema",
	"output_schema":    "outputSchema",
	"env_vars":         "env",
}

// Parse decodes a YAML or JSON manifest, normalizes legacy field aliases,
// and retains the raw bytes for later inspection.
func Parse(data []byte) (*ToolManifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
	}

	doc = normalizeAliases(doc)

	// Re-encode the normalized document into the typed form so the
	// struct and the canonical document never disagree.
	normalized, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var m ToolManifest
	if err := yaml.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	m.raw = data
	m.doc = doc
	return &m, nil
}

// ParseFile reads and parses a manifest file.
func ParseFile(path string) (*ToolManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// normalizeAliases rewrites legacy top-level field names to their
// canonical form. Canonical names win when both are present.
func normalizeAliases(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		canonical, ok := fieldAliases[k]
		if !ok {
			out[k] = v
			continue
		}
		if _, exists := doc[canonical]; !exists {
			out[canonical] = v
		}
	}
	return out
}

// Raw returns the original serialized bytes the manifest was parsed from.
func (m *ToolManifest) Raw() []byte {
	return m.raw
}

// Document returns the alias-normalized document form of the manifest.
// Manifests constructed in code rather than parsed rebuild it on demand.
func (m *ToolManifest) Document() map[string]any {
	if m.doc != nil {
		return m.doc
	}
	return m.buildDocument()
}

// buildDocument reconstructs the document form from the typed fields.
func (m *ToolManifest) buildDocument() map[string]any {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

// Marshal serializes the manifest, signatures included, for writing
// back to disk.
func (m *ToolManifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// invalidate drops cached document state after a mutation.
func (m *ToolManifest) invalidate() {
	m.doc = nil
}

// SetSignature inserts or overwrites the signature for the given public key.
func (m *ToolManifest) SetSignature(publicKey string, record SignatureRecord) {
	if m.Signatures == nil {
		m.Signatures = make(map[string]SignatureRecord)
	}
	m.Signatures[publicKey] = record
	m.invalidate()
}

// Validate checks the structural invariants: name, description, and
// command must always be present.
func (m *ToolManifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	if strings.TrimSpace(m.Description) == "" {
		return ErrMissingDescription
	}
	if strings.TrimSpace(m.Command) == "" {
		return ErrMissingCommand
	}
	return nil
}
