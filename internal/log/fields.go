// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"
	FieldSessionID = "session_id"

	// Pipeline fields
	FieldComponent     = "component"
	FieldGoal          = "goal"
	FieldMatchType     = "match_type"
	FieldTemplateID    = "template_id"
	FieldAffirmationID = "affirmation_id"

	// Audio fields
	FieldVoiceID     = "voice_id"
	FieldPaceID      = "pace_id"
	FieldFingerprint = "fingerprint"

	// Cache / limiter fields
	FieldCacheKey   = "cache_key"
	FieldLimitClass = "limit_class"
)
