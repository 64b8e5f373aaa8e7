package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure of the engine itself rather than of a
// domain rule. Domain failures are *core.Error values and pass through
// unchanged.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// FlowToken identifies the affected command, if any.
	FlowToken string

	// Command names the affected command, if any.
	Command string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates a command emitted too many events.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeStopped indicates the engine no longer accepts commands.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"

	// ErrCodeDeliveryFailed indicates the collectible ledger rejected an outbox entry.
	ErrCodeDeliveryFailed RuntimeErrorCode = "DELIVERY_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.FlowToken != "" && e.Command != "" {
		return fmt.Sprintf("%s: %s (flow=%s, command=%s)", e.Code, e.Message, e.FlowToken, e.Command)
	}
	if e.Command != "" {
		return fmt.Sprintf("%s: %s (command=%s)", e.Code, e.Message, e.Command)
	}
	if e.FlowToken != "" {
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.FlowToken)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and EventsExceededError.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQuotaExceeded
	}
	return IsEventsExceededError(err)
}

// IsStoppedError returns true if the engine refused a command because it stopped.
func IsStoppedError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeStopped
}

// IsDeliveryError returns true if outbox delivery failed.
func IsDeliveryError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeDeliveryFailed
}

func newStoppedError(command string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStopped,
		Message: "engine is not accepting commands",
		Command: command,
	}
}

func newDeliveryError(flowToken string, outboxID int64, ref string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeDeliveryFailed,
		Message:   err.Error(),
		FlowToken: flowToken,
		Details: map[string]string{
			"outbox": fmt.Sprintf("%d", outboxID),
			"ref":    ref,
		},
	}
}
