package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError([]string{"初始状态不能为空", "终止状态集合不能为空"})
	assert.Contains(t, err.Error(), "初始状态不能为空")
	assert.Contains(t, err.Error(), "终止状态集合不能为空")
	assert.Len(t, err.Violations, 2)
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	withAllowed := NewInvalidTransitionError("目标状态不可达", []string{"a -> b"})
	assert.Contains(t, withAllowed.Error(), "a -> b")

	withoutAllowed := NewInvalidTransitionError("实例已完结", nil)
	assert.Contains(t, withoutAllowed.Error(), "实例已完结")
	assert.NotContains(t, withoutAllowed.Error(), "可用流转")
}

func TestActionExecutionErrorUnwrap(t *testing.T) {
	cause := errors.New("连接超时")
	err := NewActionExecutionError("act-1", true, cause)

	require.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable)

	wrapped := fmt.Errorf("执行失败: %w", err)
	var actionErr *ActionExecutionError
	require.True(t, errors.As(wrapped, &actionErr))
	assert.Equal(t, "act-1", actionErr.ActionID)
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("外层: %w", NewConcurrencyConflictError("版本失效"))

	var conflictErr *ConcurrencyConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Contains(t, conflictErr.Detail, "版本失效")
}
