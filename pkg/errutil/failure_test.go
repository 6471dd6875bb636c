package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReasonOfWrappedFailure(t *testing.T) {
	base := Fail(ReasonConnectionFailed, "dial 10.0.0.1:22", errors.New("connection refused"))
	wrapped := fmt.Errorf("host web-1: %w", base)

	require.Equal(t, ReasonConnectionFailed, ReasonOf(wrapped))
	require.True(t, ReasonOf(wrapped).Transient())
	require.Equal(t, CategoryExecution, ReasonOf(wrapped).Category())
	require.Contains(t, wrapped.Error(), "ExecutionError(ConnectionFailed)")
}

func TestReasonOfPlainError(t *testing.T) {
	require.Equal(t, Reason(""), ReasonOf(nil))
	require.Equal(t, ReasonInternal, ReasonOf(errors.New("boom")))
	require.False(t, ReasonNonZeroExit.Transient())
}

func TestFailureHTTPStatus(t *testing.T) {
	err := Fail(ReasonNoTargets, "", nil)
	require.Equal(t, StatusUnprocessableEntity, StatusOf(err))
	require.Equal(t, http.StatusUnprocessableEntity, StatusOf(err).HTTPStatus())

	require.Equal(t, http.StatusNotFound, StatusOf(NotFound("job run not found", nil)).HTTPStatus())
	require.True(t, IsStatus(Conflict("already terminal", nil), StatusConflict))
}
