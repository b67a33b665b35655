package api

// SubmitResponse is returned with 202 Accepted once a request is queued.
// The outcome is reported later on the event feed.
type SubmitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Package   string `json:"package"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	QueueDepth      int    `json:"queue_depth"`
	Outstanding     int    `json:"outstanding"`
	GuardReferences int    `json:"guard_references"`
	GuardActive     bool   `json:"guard_active"`
	WorkerState     string `json:"worker_state"`
}
