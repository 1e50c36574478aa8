package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitOpenError(t *testing.T) {
	err := &CircuitOpenError{Stage: "delivery"}
	assert.Contains(t, err.Error(), "delivery")
	assert.True(t, IsCircuitOpen(err))
	assert.True(t, IsCircuitOpen(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsCircuitOpen(stderrors.New("other")))
}

func TestStageTimeoutError(t *testing.T) {
	err := &StageTimeoutError{Stage: "langgraph_workflow", Timeout: 30 * time.Second}
	assert.Contains(t, err.Error(), "langgraph_workflow")
	assert.Contains(t, err.Error(), "30s")
	assert.True(t, IsStageTimeout(err))
	assert.False(t, IsStageTimeout(&CircuitOpenError{Stage: "delivery"}))
}

func TestStageFailureErrorUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := &StageFailureError{Stage: "preprocessing", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "preprocessing")
}

func TestCollaboratorConfigError(t *testing.T) {
	err := &CollaboratorConfigError{Collaborator: "postprocessor", Reason: "base URL is not configured"}
	assert.True(t, IsCollaboratorConfig(err))
	assert.True(t, IsCollaboratorConfig(&StageFailureError{Stage: "postprocessing", Err: err}))
	assert.Contains(t, err.Error(), "postprocessor")
}
