package source

import "fmt"

// BackendError reports a failed or malformed response from the query
// backend. Category carries the backend's error classification (for the
// Prometheus HTTP API: "client_error", "server_error", "bad_response", ...).
type BackendError struct {
	Category string
	Reason   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (%s): %s", e.Category, e.Reason)
}

// TimeoutError reports that a range query exceeded its deadline, either the
// client-side request timeout or a timeout reported by the backend.
type TimeoutError struct {
	Reason string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend timeout: %s", e.Reason)
}
