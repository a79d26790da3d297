package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// criticalFields is the fixed, ordered set of fields covered by a
// signature. Fields outside this set (tags, license, authors, examples,
// outputSchema, docs, resources) never influence the canonical bytes:
// signatures survive cosmetic edits.
var criticalFields = []string{
	"enact",
	"name",
	"description",
	"command",
	"from",
	"env",
	"timeout",
	"inputSchema",
	"annotations",
	"version",
}

// Canonicalize produces the deterministic byte representation of the
// manifest's security-critical fields. Two manifests that differ only in
// field order, nested key order, or the presence of empty critical
// fields canonicalize identically.
func (m *ToolManifest) Canonicalize() ([]byte, error) {
	// Always rebuild from the typed fields: the parse-time document
	// would mask mutations made after parsing, and every critical
	// field lives on the struct.
	doc := m.buildDocument()
	if doc == nil {
		return nil, fmt.Errorf("%w: cannot build document form", ErrInvalidManifest)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, field := range criticalFields {
		v, ok := doc[field]
		if !ok || isEmptyValue(v) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeJSONString(&buf, field)
		buf.WriteByte(':')
		if err := writeCanonical(&buf, v); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Hash returns SHA-256 over the canonical bytes. Signatures are not part
// of the critical-field set, so the hash is independent of them.
func (m *ToolManifest) Hash() ([]byte, error) {
	canonical, err := m.Canonicalize()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// HashHex returns the canonical hash as a hex string.
func (m *ToolManifest) HashHex() (string, error) {
	h, err := m.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h), nil
}

// isEmptyValue reports whether a critical field must be omitted: absent,
// null, empty object, and empty string are all equivalent to "not set".
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case map[any]any:
		return len(val) == 0
	default:
		return false
	}
}

// writeCanonical serializes a value as JSON with map keys sorted
// lexicographically at every nesting level and no superfluous whitespace.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case map[any]any:
		// yaml can yield non-string keys; coerce them.
		converted := make(map[string]any, len(val))
		for k, item := range val {
			converted[fmt.Sprintf("%v", k)] = item
		}
		return writeCanonical(buf, converted)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("cannot canonicalize value %v: %w", val, err)
		}
		buf.Write(data)
		return nil
	}
}

// writeJSONString writes a JSON-escaped string.
func writeJSONString(buf *bytes.Buffer, s string) {
	data, _ := json.Marshal(s)
	buf.Write(data)
}
