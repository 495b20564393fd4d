package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionRetryable(t *testing.T) {
	tests := []struct {
		name   string
		action WorkflowAction
		want   bool
	}{
		{
			name:   "未执行且有剩余次数",
			action: WorkflowAction{Attempts: 1, MaxAttempts: 3},
			want:   true,
		},
		{
			name:   "已执行不可重试",
			action: WorkflowAction{Executed: true, Attempts: 1, MaxAttempts: 3},
			want:   false,
		},
		{
			name:   "终结失败不可重试",
			action: WorkflowAction{TerminallyFailed: true, Attempts: 2, MaxAttempts: 3},
			want:   false,
		},
		{
			name:   "次数耗尽不可重试",
			action: WorkflowAction{Attempts: 3, MaxAttempts: 3},
			want:   false,
		},
		{
			name:   "从未执行过",
			action: WorkflowAction{Attempts: 0, MaxAttempts: 3},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.action.Retryable())
		})
	}
}

func TestInstanceIsTerminal(t *testing.T) {
	assert.False(t, (&WorkflowInstance{Status: InstanceStatusActive}).IsTerminal())
	assert.False(t, (&WorkflowInstance{Status: InstanceStatusPaused}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: InstanceStatusCompleted}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: InstanceStatusCancelled}).IsTerminal())
}
