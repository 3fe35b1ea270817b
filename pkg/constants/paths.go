package constants

const (
	PathHealth = "/health"
	PathReady  = "/ready"

	// Tuition-backend REST paths consumed by internal/backend.
	PathLiveClasses    = "/api/live-classes"
	PathLiveClassStart = "/api/live-classes/start"
	PathLiveClassEnd   = "/api/live-classes/end"
	PathSubjects       = "/api/subjects"
)
