package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxEvents is the default maximum number of events one command may emit.
const DefaultMaxEvents = 1000

// QuotaEnforcer counts the events a single command emits and enforces a
// maximum.
//
// Each command gets its own enforcer. A multi-product sale with an oversized
// line list is the usual way to hit the limit; the command fails and its
// transaction rolls back before anything is written.
type QuotaEnforcer struct {
	maxEvents int
	current   int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxEvents int) *QuotaEnforcer {
	return &QuotaEnforcer{maxEvents: maxEvents}
}

// Check increments the event counter and validates against the limit.
// Returns EventsExceededError if the quota is exceeded.
func (q *QuotaEnforcer) Check(flowToken string) error {
	q.current++
	if q.current > q.maxEvents {
		return &EventsExceededError{
			FlowToken: flowToken,
			Events:    q.current,
			Limit:     q.maxEvents,
		}
	}
	return nil
}

// Reset resets the counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current event count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxEvents returns the limit.
func (q *QuotaEnforcer) MaxEvents() int {
	return q.maxEvents
}

// EventsExceededError is returned when a command emits more events than allowed.
type EventsExceededError struct {
	FlowToken string
	Events    int
	Limit     int
}

// Error implements the error interface.
func (e *EventsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded event quota: %d events > %d limit",
		e.FlowToken, e.Events, e.Limit)
}

// IsEventsExceededError returns true if the error is an EventsExceededError.
// Uses errors.As to handle wrapped errors.
func IsEventsExceededError(err error) bool {
	var ee *EventsExceededError
	return errors.As(err, &ee)
}
