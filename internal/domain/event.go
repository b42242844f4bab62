package domain

// ProgressEvent is an open structured payload pushed through the progress
// broker. No schema is enforced; the broker serializes events as-is. The keys
// below are the ones the queue and engine agree on.
type ProgressEvent map[string]any

// Well-known progress event keys.
const (
	EventKeyJobID     = "job_id"
	EventKeySong      = "song"
	EventKeyStatus    = "status"
	EventKeyPercent   = "percent"
	EventKeyCompleted = "completed"
	EventKeyTotal     = "total"
	EventKeyError     = "error"
)

// Per-track progress statuses emitted by the engine. Terminal events carry
// the job's own status string instead.
const (
	EventStatusDownloading = "downloading"
	EventStatusDone        = "done"
	EventStatusFailed      = "failed"
)

// Int reads an integer-valued key, tolerating the float64 that a JSON
// round-trip produces.
func (e ProgressEvent) Int(key string) int {
	switch v := e[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
