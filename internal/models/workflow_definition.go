package models

import (
	"time"
)

// WorkflowDefinition 工作流定义
type WorkflowDefinition struct {
	BaseModel

	// 基本信息
	Name         string `gorm:"size:200;not null" json:"name"`
	Code         string `gorm:"size:100;not null;uniqueIndex" json:"code"`
	Description  string `gorm:"size:500" json:"description"`
	Type         string `gorm:"size:50" json:"type"`          // 业务类型，如 repair/inspection
	Category     string `gorm:"size:50" json:"category"`      // 分类
	TriggerEvent string `gorm:"size:100" json:"trigger_event"` // 触发事件标记

	// 状态图定义
	Graph JSON `gorm:"type:jsonb;not null" json:"graph"` // WorkflowGraph JSON

	// 生命周期
	Version    int   `gorm:"default:1" json:"version"`
	IsActive   bool  `gorm:"default:true;index" json:"is_active"`
	IsTemplate bool  `gorm:"default:false" json:"is_template"`
	SectorID   *uint `gorm:"index" json:"sector_id"` // 所属部门（可选）

	// 审计
	CreatedBy uint `gorm:"not null" json:"created_by"`
	UpdatedBy uint `json:"updated_by"`
}

// TableName 指定表名
func (WorkflowDefinition) TableName() string {
	return "workflow_definitions"
}

// WorkflowDefinitionRevision 定义历史版本（结构性变更时追加，不可变）
type WorkflowDefinitionRevision struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	DefinitionID uint      `gorm:"not null;index" json:"definition_id"`
	Version      int       `gorm:"not null" json:"version"`  // 被替换前的版本号
	Snapshot     JSON      `gorm:"type:jsonb;not null" json:"snapshot"` // 完整定义快照
	ChangedBy    uint      `json:"changed_by"`
	CreatedAt    time.Time `json:"created_at"`

	// 关联
	Definition WorkflowDefinition `gorm:"foreignKey:DefinitionID" json:"definition,omitempty"`
}

// TableName 指定表名
func (WorkflowDefinitionRevision) TableName() string {
	return "workflow_definition_revisions"
}

// WorkflowGraph 状态图结构
type WorkflowGraph struct {
	States         []WorkflowState      `json:"states"`          // 状态列表
	Transitions    []WorkflowTransition `json:"transitions"`     // 流转列表
	InitialStateID string               `json:"initial_state_id"` // 初始状态
	FinalStateIDs  []string             `json:"final_state_ids"`  // 终止状态集合
}

// WorkflowState 状态节点
type WorkflowState struct {
	ID          string `json:"id"`          // 状态唯一ID
	Name        string `json:"name"`        // 状态名称
	Description string `json:"description"` // 状态描述
}

// WorkflowTransition 状态流转
type WorkflowTransition struct {
	FromStateID  string   `json:"from_state_id"` // 源状态ID
	ToStateID    string   `json:"to_state_id"`   // 目标状态ID
	Label        string   `json:"label"`         // 流转名称，如 "提交审批"
	AllowedRoles []string `json:"allowed_roles"` // 允许使用的角色编码，空表示不限
}

// StateByID 按ID查找状态
func (g *WorkflowGraph) StateByID(stateID string) *WorkflowState {
	for i := range g.States {
		if g.States[i].ID == stateID {
			return &g.States[i]
		}
	}
	return nil
}

// TransitionsFrom 返回从指定状态出发的所有流转
func (g *WorkflowGraph) TransitionsFrom(stateID string) []WorkflowTransition {
	var result []WorkflowTransition
	for _, t := range g.Transitions {
		if t.FromStateID == stateID {
			result = append(result, t)
		}
	}
	return result
}

// FindTransition 查找指定源/目标的流转
func (g *WorkflowGraph) FindTransition(fromStateID, toStateID string) *WorkflowTransition {
	for i := range g.Transitions {
		if g.Transitions[i].FromStateID == fromStateID && g.Transitions[i].ToStateID == toStateID {
			return &g.Transitions[i]
		}
	}
	return nil
}

// IsFinalState 判断是否终止状态
func (g *WorkflowGraph) IsFinalState(stateID string) bool {
	for _, id := range g.FinalStateIDs {
		if id == stateID {
			return true
		}
	}
	return false
}
