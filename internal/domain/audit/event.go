// Package audit provides security event logging for the trust and
// execution pipeline. Every verification-gate decision produces an
// event; the gate does not offer a way to switch this off.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types for gate decisions.
const (
	EventGateAllowed EventType = "gate_allowed"
	EventGateDenied  EventType = "gate_denied"
)

// Event types for execution.
const (
	EventToolExecuted EventType = "tool_executed"
	EventToolTimedOut EventType = "tool_timed_out"
)

// Event types for signing and trust operations.
const (
	EventToolSigned        EventType = "tool_signed"
	EventSignatureVerified EventType = "signature_verified"
	EventSignatureFailed   EventType = "signature_failed"
	EventTrustKeyAdded     EventType = "trust_key_added"
	EventTrustKeyRemoved   EventType = "trust_key_removed"
)

// Severity represents the importance level of an event.
type Severity string

// Severity levels.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Overrides records which caller overrides were requested for a gate
// decision, whether or not they had any effect.
type Overrides struct {
	SkipVerification bool `json:"skip_verification,omitempty"`
	Force            bool `json:"force,omitempty"`
	IsLocalFile      bool `json:"is_local_file,omitempty"`
}

// Event represents a single audit log entry.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type of the event.
	Type EventType `json:"event"`

	// Severity level.
	Severity Severity `json:"severity"`

	// User who triggered the event (if known).
	User string `json:"user,omitempty"`

	// Tool is the manifest name the event concerns.
	Tool string `json:"tool,omitempty"`

	// Version of the tool manifest.
	Version string `json:"version,omitempty"`

	// Policy is the verification policy in effect.
	Policy string `json:"policy,omitempty"`

	// Decision records the gate outcome ("allowed"/"denied").
	Decision string `json:"decision,omitempty"`

	// Reason explains the decision.
	Reason string `json:"reason,omitempty"`

	// Overrides requested by the caller.
	Overrides *Overrides `json:"overrides,omitempty"`

	// ExecutionID correlates gate and execution events.
	ExecutionID string `json:"execution_id,omitempty"`

	// Environment is "direct" or "sandbox" for execution events.
	Environment string `json:"environment,omitempty"`

	// Signer identity for signing/verification events.
	Signer string `json:"signer,omitempty"`

	// KeyID for trust operations.
	KeyID string `json:"key_id,omitempty"`

	// Duration of the operation.
	Duration time.Duration `json:"-"`

	// Success indicates if the operation succeeded.
	Success bool `json:"success"`

	// Error message if the operation failed.
	Error string `json:"error,omitempty"`

	// Details contains additional event-specific data.
	Details map[string]any `json:"details,omitempty"`

	// EventHash is the SHA256 hash of this event (computed before writing).
	EventHash string `json:"event_hash,omitempty"`
}

// MarshalJSON implements json.Marshaler with duration as milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		Alias
		DurationMs int64 `json:"duration_ms,omitempty"`
	}{
		Alias:      Alias(e),
		DurationMs: e.Duration.Milliseconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler with duration from milliseconds.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		*Alias
		DurationMs int64 `json:"duration_ms,omitempty"`
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	e.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// NewEvent creates an event with ID, timestamp, and default severity set.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  SeverityInfo,
	}
}

// Validate checks that the event has all required fields.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("event timestamp is required")
	}
	if e.Severity == "" {
		return errors.New("event severity is required")
	}
	return nil
}

// ComputeHash calculates the SHA256 hash of the event content.
// The hash is computed over all fields except EventHash itself.
func (e *Event) ComputeHash() string {
	eventCopy := *e
	eventCopy.EventHash = ""

	data, err := json.Marshal(eventCopy)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyHash checks if the event's hash matches its content.
func (e Event) VerifyHash() bool {
	if e.EventHash == "" {
		return true
	}
	return e.ComputeHash() == e.EventHash
}
