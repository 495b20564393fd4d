package models

import (
	"time"

	"gorm.io/datatypes"
)

// WorkflowAction 工作流动作（区别于纯状态流转的副作用操作）
type WorkflowAction struct {
	BaseModel

	// 标识
	ActionID string `gorm:"size:36;not null;uniqueIndex" json:"action_id"` // 对外业务ID（UUID）

	// 归属：实例级动作或定义级模板动作，至少其一
	InstanceID   *uint `gorm:"index" json:"instance_id"`
	DefinitionID *uint `gorm:"index" json:"definition_id"`

	// 动作类型与触发条件
	ActionType   string     `gorm:"size:30;not null;index" json:"action_type"` // auto_transition/reminder/escalate
	TriggerType  string     `gorm:"size:20;not null" json:"trigger_type"`      // time/event
	EventCode    string     `gorm:"size:100;index" json:"event_code"`          // 事件触发的事件编码
	ScheduledFor *time.Time `gorm:"index" json:"scheduled_for"`                // 时间触发的计划时间

	// 执行参数
	TargetStateID   string         `gorm:"size:100" json:"target_state_id"` // auto_transition的目标状态
	Recipient       uint           `json:"recipient"`                       // reminder/escalate的接收人
	Message         string         `gorm:"size:500" json:"message"`
	RequireDelivery bool           `gorm:"default:false" json:"require_delivery"` // 投递失败是否视为动作失败
	Params          datatypes.JSON `gorm:"type:jsonb" json:"params"`

	// 执行状态：executed=true后整行不可再变
	Executed         bool       `gorm:"default:false;index" json:"executed"`
	ExecutedAt       *time.Time `json:"executed_at"`
	Outcome          string     `gorm:"size:20" json:"outcome"` // success/failed
	OutcomeDetail    string     `gorm:"type:text" json:"outcome_detail"`
	Attempts         int        `gorm:"default:0" json:"attempts"`
	MaxAttempts      int        `gorm:"default:3" json:"max_attempts"`
	TerminallyFailed bool       `gorm:"default:false;index" json:"terminally_failed"` // 重试耗尽，待人工跟进

	// 审计
	CreatedBy uint `json:"created_by"`
}

// TableName 指定表名
func (WorkflowAction) TableName() string {
	return "workflow_actions"
}

// 动作类型常量
const (
	ActionTypeAutoTransition = "auto_transition" // 自动流转
	ActionTypeReminder       = "reminder"        // 到期提醒
	ActionTypeEscalate       = "escalate"        // 超期升级
)

// 触发条件常量
const (
	TriggerTypeTime  = "time"
	TriggerTypeEvent = "event"
)

// 执行结果常量
const (
	ActionOutcomeSuccess = "success"
	ActionOutcomeFailed  = "failed"
)

// Retryable 判断动作是否仍可重试
func (a *WorkflowAction) Retryable() bool {
	return !a.Executed && !a.TerminallyFailed && a.Attempts < a.MaxAttempts
}
