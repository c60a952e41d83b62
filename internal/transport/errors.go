package transport

import (
	"errors"
	"fmt"
)

// RejectedError is a permanent server-side rejection (validation,
// authorization). Rejected sends are never retried.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by server (%d): %s", e.StatusCode, e.Reason)
}

// IsRejected reports whether err is a permanent server rejection. Every
// other send failure (timeout, unreachable network, 5xx) is treated as
// connectivity-related and eligible for queueing and retry.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}
