// Package execution defines the execution provider contract, the
// direct-host and sandboxed-container implementations, and the typed
// result model every execution path returns.
package execution

import (
	"time"
)

// ErrorCode classifies expected failures. Callers branch on codes, not
// on error strings.
type ErrorCode string

// Error codes, one per failure class.
const (
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeCommandUnsafe      ErrorCode = "COMMAND_UNSAFE"
	CodeMissingEnv         ErrorCode = "MISSING_ENV"
	CodeNoSignatures       ErrorCode = "NO_SIGNATURES_FOUND"
	CodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeExecution          ErrorCode = "EXECUTION_ERROR"
	CodeProviderFault      ErrorCode = "PROVIDER_FAULT"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
)

// Environments a tool can run in.
const (
	EnvironmentDirect  = "direct"
	EnvironmentSandbox = "sandbox"
)

// ExecutionError is the typed failure carried by a Result.
type ExecutionError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Output holds the captured process streams.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr,omitempty"`
}

// Metadata describes one execute() call. Created once; never mutated
// after the result is returned.
type Metadata struct {
	ExecutionID string    `json:"executionId"`
	ToolName    string    `json:"toolName"`
	Version     string    `json:"version,omitempty"`
	ExecutedAt  time.Time `json:"executedAt"`
	Environment string    `json:"environment"`
	Command     string    `json:"command"`
}

// Result is the normalized outcome of a single execution attempt.
type Result struct {
	Success  bool            `json:"success"`
	Output   Output          `json:"output"`
	Error    *ExecutionError `json:"error,omitempty"`
	Metadata Metadata        `json:"metadata"`
}

// Failure builds a failed result with the given code and message.
func Failure(code ErrorCode, message string, details map[string]any) *Result {
	return &Result{
		Success: false,
		Error: &ExecutionError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
