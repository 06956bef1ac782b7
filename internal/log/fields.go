// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldRequestID  = "request_id"
	FieldLegRole    = "leg_role"
	FieldLegID      = "leg_id"
	FieldConference = "conference"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldStep      = "step"

	// State fields
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"
	FieldLegStatus  = "leg_status"
	FieldEventType  = "event_type"
	FieldDurationMS = "duration_ms"

	// Network fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
	FieldStatus  = "status_code"
)
