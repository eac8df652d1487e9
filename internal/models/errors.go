package models

import "fmt"

// APIError is a structured application error returned by the backend as a
// `{success: false, error: ...}` body. It is distinct from transport
// failures: pollers retry transport errors within their deadline but treat
// an APIError as a terminal response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}
