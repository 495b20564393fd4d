package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkflowInstance 工作流实例（一个运行中的业务案件）
type WorkflowInstance struct {
	BaseModel

	// 标识
	InstanceID   string `gorm:"size:36;not null;uniqueIndex" json:"instance_id"` // 对外业务ID（UUID）
	DefinitionID uint   `gorm:"not null;index" json:"definition_id"`             // 创建后不可变
	Title        string `gorm:"size:200;not null" json:"title"`

	// 来源业务对象（可选）
	OriginType string `gorm:"size:50" json:"origin_type"` // 如 work_order/inspection
	OriginID   string `gorm:"size:100" json:"origin_id"`

	// 运行状态
	CurrentStateID string         `gorm:"size:100;not null" json:"current_state_id"`
	Status         string         `gorm:"size:20;not null;index" json:"status"` // active/paused/completed/cancelled
	Priority       int            `gorm:"default:2;index" json:"priority"`      // 1低 2中 3高 4紧急
	Context        datatypes.JSON `gorm:"type:jsonb" json:"context"`            // 随流转携带的业务数据
	Deadline       *time.Time     `gorm:"index" json:"deadline"`

	// 时间统计
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	PausedAt    *time.Time `json:"paused_at"`                      // 当前暂停开始时间
	ResumedAt   *time.Time `json:"resumed_at"`                     // 最近一次恢复时间
	ExecSeconds int64      `gorm:"default:0" json:"exec_seconds"` // 累计执行时长（秒，不含暂停）

	// 参与人
	InitiatorID uint  `gorm:"not null;index" json:"initiator_id"`
	AssigneeID  uint  `gorm:"index" json:"assignee_id"` // 当前责任人
	ApproverID  *uint `json:"approver_id"`              // 当前审批人（可选）

	// 升级控制
	LastEscalatedAt *time.Time `gorm:"index" json:"last_escalated_at"`

	// 并发控制（写入时乐观校验）
	RowVersion int `gorm:"default:1" json:"row_version"`

	// 软删除：离开active后的实例只做软关闭，物理清除需管理员显式操作
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联
	Definition WorkflowDefinition `gorm:"foreignKey:DefinitionID" json:"definition,omitempty"`
}

// TableName 指定表名
func (WorkflowInstance) TableName() string {
	return "workflow_instances"
}

// WorkflowInstanceHistory 实例流转历史（只追加）
type WorkflowInstanceHistory struct {
	ID         uint           `gorm:"primarykey" json:"id"`
	InstanceID uint           `gorm:"not null;index" json:"instance_id"`
	FromState  string         `gorm:"size:100" json:"from_state"`
	ToState    string         `gorm:"size:100" json:"to_state"`
	ActorID    uint           `gorm:"not null" json:"actor_id"`
	Comment    string         `gorm:"size:500" json:"comment"`
	Extra      datatypes.JSON `gorm:"type:jsonb" json:"extra"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
}

// TableName 指定表名
func (WorkflowInstanceHistory) TableName() string {
	return "workflow_instance_histories"
}

// WorkflowInstanceComment 实例评论
type WorkflowInstanceComment struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	InstanceID uint      `gorm:"not null;index" json:"instance_id"`
	AuthorID   uint      `gorm:"not null" json:"author_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Visibility string    `gorm:"size:20;default:'public'" json:"visibility"` // public/internal
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 指定表名
func (WorkflowInstanceComment) TableName() string {
	return "workflow_instance_comments"
}

// 实例状态常量
const (
	InstanceStatusActive    = "active"
	InstanceStatusPaused    = "paused"
	InstanceStatusCompleted = "completed"
	InstanceStatusCancelled = "cancelled"
)

// 优先级常量
const (
	PriorityLow      = 1
	PriorityMedium   = 2
	PriorityHigh     = 3
	PriorityCritical = 4
)

// 评论可见性常量
const (
	CommentVisibilityPublic   = "public"
	CommentVisibilityInternal = "internal"
)

// IsTerminal 判断实例是否处于终态
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status == InstanceStatusCompleted || i.Status == InstanceStatusCancelled
}
