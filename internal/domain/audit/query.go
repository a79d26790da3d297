package audit

import (
	"strings"
	"time"
)

// QueryFilter defines criteria for filtering audit events.
type QueryFilter struct {
	// EventTypes filters by event type (empty = all types).
	EventTypes []EventType

	// Severities filters by severity level (empty = all levels).
	Severities []Severity

	// Tool filters by tool name (case-insensitive contains).
	Tool string

	// User filters by user (case-insensitive contains).
	User string

	// ExecutionID filters by exact execution ID.
	ExecutionID string

	// Since filters events after this time.
	Since time.Time

	// Until filters events before this time.
	Until time.Time

	// FailuresOnly includes only failed events.
	FailuresOnly bool

	// Limit maximum number of results (0 = no limit).
	Limit int
}

// Matches returns true if the event matches the filter.
func (f QueryFilter) Matches(event Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if event.Severity == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Tool != "" && !strings.Contains(strings.ToLower(event.Tool), strings.ToLower(f.Tool)) {
		return false
	}

	if f.User != "" && !strings.Contains(strings.ToLower(event.User), strings.ToLower(f.User)) {
		return false
	}

	if f.ExecutionID != "" && event.ExecutionID != f.ExecutionID {
		return false
	}

	if !f.Since.IsZero() && event.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && event.Timestamp.After(f.Until) {
		return false
	}

	if f.FailuresOnly && event.Success {
		return false
	}

	return true
}
