package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldRequestID  = "request_id"
	FieldLocationID = "location_id"

	// Verification fields
	FieldMethod  = "method"
	FieldOutcome = "outcome"
	FieldAttempt = "attempt"

	// State fields
	FieldOldStep = "old_step"
	FieldNewStep = "new_step"

	// Queue fields
	FieldQueueDepth = "queue_depth"
	FieldSyncTarget = "sync_target"

	FieldComponent = "component"
)
