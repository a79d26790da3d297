// Package envres resolves a tool's declared environment variables from
// layered stores: package-scoped file, project-local file, then the
// process environment, in ascending precedence.
package envres

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
)

// varNamePattern constrains assignment-side variable names.
var varNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// immutableKey is the reserved store key listing variables that later
// layers may not override. Variable names are uppercase, so the
// lowercase key cannot collide with one.
const immutableKey = "immutable"

// Layer is one file-backed value source.
type Layer struct {
	// Name identifies the layer in warnings ("package", "project").
	Name string

	// Path is the YAML file holding variable assignments.
	Path string
}

// Missing reports a required variable with no resolved value, with
// enough detail for an operator to remediate.
type Missing struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Resolution is the outcome of resolving a manifest's env declarations.
type Resolution struct {
	// Resolved maps declared variable names to their final values.
	Resolved map[string]string

	// Missing lists required variables that could not be resolved.
	Missing []Missing

	// Warnings are non-fatal findings: dropped invalid names and
	// suspicious-looking values that were kept as-is.
	Warnings []string
}

// Resolver merges layered variable stores.
type Resolver struct {
	layers     []Layer
	processEnv bool
}

// NewResolver creates a resolver over the given file layers, ordered by
// ascending precedence. The process environment is the final, highest
// precedence layer.
func NewResolver(layers ...Layer) *Resolver {
	return &Resolver{layers: layers, processEnv: true}
}

// WithoutProcessEnv disables the process environment layer. Used by
// tests and by callers that need hermetic resolution.
func (r *Resolver) WithoutProcessEnv() *Resolver {
	return &Resolver{layers: r.layers, processEnv: false}
}

// Resolve merges all layers and reports the value of every declared
// variable. Required variables with no value land in Missing.
func (r *Resolver) Resolve(declared map[string]manifest.EnvVar) (Resolution, error) {
	res := Resolution{Resolved: make(map[string]string)}

	merged := make(map[string]string)
	immutable := make(map[string]bool)

	for _, layer := range r.layers {
		values, frozen, err := loadLayer(layer)
		if err != nil {
			return Resolution{}, err
		}
		r.mergeLayer(layer.Name, values, frozen, merged, immutable, &res)
	}

	if r.processEnv {
		values := processEnvValues()
		r.mergeLayer("process", values, nil, merged, immutable, &res)
	}

	for name, decl := range declared {
		if !varNamePattern.MatchString(name) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("dropped declared variable %q: name must match %s", name, varNamePattern.String()))
			continue
		}

		value, ok := merged[name]
		if !ok && decl.Default != "" {
			value, ok = decl.Default, true
		}
		if !ok {
			if decl.Required {
				res.Missing = append(res.Missing, Missing{
					Name:        name,
					Description: decl.Description,
					Source:      decl.Source,
				})
			}
			continue
		}

		res.Resolved[name] = value
	}

	return res, nil
}

// mergeLayer applies one layer's values over the accumulated map,
// honoring immutability markers from earlier layers.
func (r *Resolver) mergeLayer(
	layerName string,
	values map[string]string,
	frozen []string,
	merged map[string]string,
	immutable map[string]bool,
	res *Resolution,
) {
	for name, value := range values {
		if !varNamePattern.MatchString(name) {
			// Process environment is full of names that are not ours
			// to police; only file layers get the warning.
			if layerName != "process" {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("layer %s: dropped variable %q: invalid name", layerName, name))
			}
			continue
		}
		if immutable[name] {
			continue
		}
		if warn := sanitizeWarning(name, value); warn != "" && layerName != "process" {
			res.Warnings = append(res.Warnings, warn)
		}
		merged[name] = value
	}

	for _, name := range frozen {
		immutable[name] = true
	}
}

// loadLayer reads one YAML store via koanf. A missing file is an empty
// layer, not an error.
func loadLayer(layer Layer) (map[string]string, []string, error) {
	if layer.Path == "" {
		return nil, nil, nil
	}
	if _, err := os.Stat(layer.Path); os.IsNotExist(err) {
		return nil, nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(layer.Path), kyaml.Parser()); err != nil {
		return nil, nil, fmt.Errorf("failed to load env layer %s: %w", layer.Name, err)
	}

	values := make(map[string]string)
	for _, key := range k.Keys() {
		if key == immutableKey || strings.HasPrefix(key, immutableKey+".") {
			continue
		}
		// Values are coerced to strings, never silently altered.
		values[key] = k.String(key)
	}

	return values, k.Strings(immutableKey), nil
}

// processEnvValues snapshots the process environment via koanf.
func processEnvValues() map[string]string {
	k := koanf.New(".")
	// An empty prefix and identity callback keep names untouched.
	_ = k.Load(env.Provider("", ".", func(s string) string { return s }), nil)

	values := make(map[string]string)
	for _, key := range k.Keys() {
		values[key] = k.String(key)
	}
	return values
}

// sanitizeWarning flags values containing newlines or shell
// substitution sequences. The value is kept: operators may be setting
// legitimate secrets containing those characters.
func sanitizeWarning(name, value string) string {
	switch {
	case strings.Contains(value, "\n"):
		return fmt.Sprintf("variable %s contains a newline; kept as-is", name)
	case strings.Contains(value, "$("):
		return fmt.Sprintf("variable %s contains a shell substitution sequence; kept as-is", name)
	case strings.Contains(value, "`"):
		return fmt.Sprintf("variable %s contains backticks; kept as-is", name)
	default:
		return ""
	}
}
