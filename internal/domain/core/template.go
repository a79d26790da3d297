package core

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// substitute expands ${name} placeholders from inputs and resolved
// environment variables, inputs winning on collision. Placeholders
// with no binding are left verbatim so the shell, or the user reading
// an error, sees exactly what was unresolved.
func substitute(command string, inputs map[string]string, env map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(command, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := inputs[name]; ok {
			return v
		}
		if v, ok := env[name]; ok {
			return v
		}
		return match
	})
}
