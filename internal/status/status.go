package status

import (
	"fmt"
	"slices"
)

// Status is the delivery status of a message record.
type Status string

const (
	// Sending means a network send attempt is in flight.
	Sending Status = "sending"
	// Pending means the message is queued for a later send attempt.
	Pending Status = "pending"
	// Sent means the server accepted the message and assigned a durable id.
	Sent Status = "sent"
	// Error means the message failed permanently. The user may retry,
	// which re-enters the send path as a new attempt.
	Error Status = "error"
	// Received is the status of inbound messages from the counterpart.
	// It takes no part in the outbound state machine.
	Received Status = "received"
)

// validTransitions defines the allowed outbound status transitions.
// Sent is terminal. Error is terminal for the record itself; a user
// retry creates a fresh attempt rather than mutating the failed one.
var validTransitions = map[Status][]Status{
	Sending: {Sent, Error, Pending},
	Pending: {Sending, Sent, Error},
	Sent:    {},
	Error:   {Sending, Pending},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Transition validates a status change, returning an error when disallowed.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid status transition from %s to %s", from, to)
	}
	return nil
}

// Valid reports whether s is a known message status.
func Valid(s Status) bool {
	switch s {
	case Sending, Pending, Sent, Error, Received:
		return true
	}
	return false
}
