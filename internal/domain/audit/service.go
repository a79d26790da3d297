package audit

import (
	"context"
	"os/user"
	"time"
)

// Service provides high-level audit logging operations.
type Service struct {
	logger Logger
}

// NewService creates a new audit service with the given logger.
func NewService(logger Logger) *Service {
	return &Service{logger: logger}
}

// getCurrentUser returns the current system user.
func getCurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// LogGateDecision records a verification-gate decision. Called for
// every decision, allowed or denied.
func (s *Service) LogGateDecision(ctx context.Context, tool, version, policy string, allowed bool, reason string, overrides Overrides) error {
	eventType := EventGateAllowed
	decision := "allowed"
	severity := SeverityInfo
	if !allowed {
		eventType = EventGateDenied
		decision = "denied"
		severity = SeverityWarning
	}

	event := NewEvent(eventType)
	event.Severity = severity
	event.User = getCurrentUser()
	event.Tool = tool
	event.Version = version
	event.Policy = policy
	event.Decision = decision
	event.Reason = reason
	event.Overrides = &overrides
	event.Success = allowed

	return s.logger.Log(ctx, event)
}

// LogExecution records a completed tool execution.
func (s *Service) LogExecution(ctx context.Context, tool, executionID, environment string, duration time.Duration, success bool, errMsg string) error {
	event := NewEvent(EventToolExecuted)
	event.User = getCurrentUser()
	event.Tool = tool
	event.ExecutionID = executionID
	event.Environment = environment
	event.Duration = duration
	event.Success = success
	if errMsg != "" {
		event.Error = errMsg
		event.Severity = SeverityWarning
	}

	return s.logger.Log(ctx, event)
}

// LogTimeout records an execution killed by its deadline.
func (s *Service) LogTimeout(ctx context.Context, tool, executionID, environment string, timeout time.Duration) error {
	event := NewEvent(EventToolTimedOut)
	event.Severity = SeverityWarning
	event.User = getCurrentUser()
	event.Tool = tool
	event.ExecutionID = executionID
	event.Environment = environment
	event.Duration = timeout
	event.Success = false

	return s.logger.Log(ctx, event)
}

// LogSigned records a manifest signing.
func (s *Service) LogSigned(ctx context.Context, tool, signer, role string) error {
	event := NewEvent(EventToolSigned)
	event.User = getCurrentUser()
	event.Tool = tool
	event.Signer = signer
	event.Success = true
	if role != "" {
		event.Details = map[string]any{"role": role}
	}

	return s.logger.Log(ctx, event)
}

// LogVerification records a standalone signature verification.
func (s *Service) LogVerification(ctx context.Context, tool, policy string, valid bool, message string) error {
	eventType := EventSignatureVerified
	severity := SeverityInfo
	if !valid {
		eventType = EventSignatureFailed
		severity = SeverityWarning
	}

	event := NewEvent(eventType)
	event.Severity = severity
	event.User = getCurrentUser()
	event.Tool = tool
	event.Policy = policy
	event.Success = valid
	event.Reason = message

	return s.logger.Log(ctx, event)
}

// LogKeyAdded records a trust store addition.
func (s *Service) LogKeyAdded(ctx context.Context, keyID, filename string) error {
	event := NewEvent(EventTrustKeyAdded)
	event.User = getCurrentUser()
	event.KeyID = keyID
	event.Success = true
	event.Details = map[string]any{"filename": filename}

	return s.logger.Log(ctx, event)
}

// LogKeyRemoved records a trust store removal.
func (s *Service) LogKeyRemoved(ctx context.Context, keyID string) error {
	event := NewEvent(EventTrustKeyRemoved)
	event.User = getCurrentUser()
	event.KeyID = keyID
	event.Success = true

	return s.logger.Log(ctx, event)
}
