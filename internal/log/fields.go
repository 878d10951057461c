// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldMessageID = "message_id"
	FieldChannelID = "channel_id"
	FieldLogin     = "login"
	FieldBasename  = "basename"
	FieldVideoID   = "video_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"

	// Webhook fields
	FieldSubType  = "sub_type"
	FieldSubID    = "sub_id"
	FieldRetry    = "retry"
	FieldInstance = "instance"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
