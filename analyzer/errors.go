package analyzer

import (
	"fmt"
)

// RejectedError is returned when the webhook answered but refused the request,
// either with a non-2xx status or with a falsy success field
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("Request failed: %d", e.StatusCode)
}

// MalformedError is only produced under the strict payload policy
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed webhook payload: %s", e.Reason)
}

// TransportError wraps any failure to reach the webhook or read its reply
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("webhook transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
