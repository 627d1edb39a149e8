// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldPlayerID      = "player_id"
	FieldSessionID     = "session_id"
	FieldRoomID        = "room_id"
	FieldConnectionID  = "connection_id"

	// Gameplay fields
	FieldRollIndex    = "roll_index"
	FieldServerRollID = "server_roll_id"
	FieldPhase        = "phase"
	FieldRound        = "round"
	FieldSeat         = "seat"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
)
