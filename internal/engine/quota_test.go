package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		err := q.Check("flow-1")
		assert.NoError(t, err, "event %d should be allowed", i+1)
	}

	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxEvents())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check("flow-1"))
	}

	err := q.Check("flow-1")
	require.Error(t, err)

	var ee *EventsExceededError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "flow-1", ee.FlowToken)
	assert.Equal(t, 6, ee.Events)
	assert.Equal(t, 5, ee.Limit)
}

func TestQuotaEnforcer_Reset(t *testing.T) {
	q := NewQuotaEnforcer(5)
	for i := 0; i < 5; i++ {
		q.Check("flow-1")
	}
	assert.Equal(t, 5, q.Current())

	q.Reset()
	assert.Equal(t, 0, q.Current())
	assert.NoError(t, q.Check("flow-1"))
}

func TestQuota_ZeroLimit(t *testing.T) {
	q := NewQuotaEnforcer(0)

	err := q.Check("flow-1")
	require.Error(t, err)
	assert.True(t, IsEventsExceededError(err))
}

func TestEventsExceededError_Error(t *testing.T) {
	err := &EventsExceededError{FlowToken: "flow-abc", Events: 1001, Limit: 1000}

	msg := err.Error()
	assert.Contains(t, msg, "flow-abc")
	assert.Contains(t, msg, "1001")
	assert.Contains(t, msg, "1000")
}

func TestIsQuotaError(t *testing.T) {
	q := NewQuotaEnforcer(1)
	q.Check("flow-1")
	err := q.Check("flow-1")

	assert.True(t, IsQuotaError(err))
	assert.True(t, IsQuotaError(fmt.Errorf("wrapped: %w", err)))
	assert.True(t, IsQuotaError(&RuntimeError{Code: ErrCodeQuotaExceeded}))
	assert.False(t, IsQuotaError(&RuntimeError{Code: ErrCodeStopped}))
	assert.False(t, IsQuotaError(nil))
	assert.False(t, IsQuotaError(assert.AnError))
}

func TestRuntimeError_Message(t *testing.T) {
	err := &RuntimeError{Code: ErrCodeStopped, Message: "engine is not accepting commands", Command: "pack.mint"}
	assert.Equal(t, "ENGINE_STOPPED: engine is not accepting commands (command=pack.mint)", err.Error())
	assert.True(t, IsStoppedError(fmt.Errorf("submit: %w", err)))

	derr := newDeliveryError("flow-1", 3, "rare/0", assert.AnError)
	assert.True(t, IsDeliveryError(derr))
	assert.Equal(t, "3", derr.Details["outbox"])
	assert.Contains(t, derr.Error(), "flow=flow-1")
}

func TestQuota_DefaultMaxEvents(t *testing.T) {
	assert.Equal(t, 1000, DefaultMaxEvents)
}
