// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID  = "run_id"
	FieldGameID = "game_id"
	FieldGUID   = "guid"
	FieldCardID = "card_id"
	FieldPolicy = "policy"

	// Loop fields
	FieldAction    = "action"
	FieldCounter   = "counter"
	FieldScore     = "score"
	FieldState     = "state"
	FieldOutcome   = "outcome"
	FieldFrames    = "frames"
	FieldFPS       = "fps"
	FieldComponent = "component"

	// Transport fields
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldAttempt   = "attempt"
	FieldBaseURL   = "base_url"
	FieldPath      = "path"
)
