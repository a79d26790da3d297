package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// validateInputs checks the provided inputs against the manifest's
// input schema and returns them as strings ready for substitution.
// Scalar values are coerced toward the declared type where the
// conversion is lossless; anything else is a validation error.
func validateInputs(schema map[string]any, inputs map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(inputs))

	properties, _ := schema["properties"].(map[string]any)

	var missing []string
	for _, name := range requiredNames(schema) {
		if _, ok := inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required inputs: %s", strings.Join(missing, ", "))
	}

	for name, value := range inputs {
		declaredType := ""
		if prop, ok := properties[name].(map[string]any); ok {
			declaredType, _ = prop["type"].(string)
		}
		s, err := coerceInput(name, value, declaredType)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func requiredNames(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// coerceInput renders one input as the string the command template
// will receive, enforcing the declared type when one exists.
func coerceInput(name string, value any, declaredType string) (string, error) {
	switch declaredType {
	case "", "string":
		return stringify(value), nil
	case "number", "integer":
		switch v := value.(type) {
		case int, int64, float64:
			return stringify(v), nil
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return "", fmt.Errorf("input %s: expected %s, got %q", name, declaredType, v)
			}
			return v, nil
		default:
			return "", fmt.Errorf("input %s: expected %s, got %T", name, declaredType, value)
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case string:
			if v != "true" && v != "false" {
				return "", fmt.Errorf("input %s: expected boolean, got %q", name, v)
			}
			return v, nil
		default:
			return "", fmt.Errorf("input %s: expected boolean, got %T", name, value)
		}
	default:
		// Arrays and objects have no sensible shell rendering.
		return "", fmt.Errorf("input %s: unsupported schema type %q", name, declaredType)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
