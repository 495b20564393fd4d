package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mwp/internal/models"
	apperrors "mwp/pkg/errors"
	"mwp/pkg/pagination"

	"gorm.io/gorm"
)

// DefinitionService 工作流定义服务：负责定义的CRUD、结构校验与版本留存
type DefinitionService struct {
	db *gorm.DB
}

// NewDefinitionService 创建工作流定义服务
func NewDefinitionService(db *gorm.DB) *DefinitionService {
	return &DefinitionService{db: db}
}

// CreateDefinitionRequest 创建定义请求
type CreateDefinitionRequest struct {
	Name         string               `json:"name" binding:"required,max=200"`
	Code         string               `json:"code" binding:"required,max=100"`
	Description  string               `json:"description" binding:"max=500"`
	Type         string               `json:"type" binding:"max=50"`
	Category     string               `json:"category" binding:"max=50"`
	TriggerEvent string               `json:"trigger_event" binding:"max=100"`
	Graph        models.WorkflowGraph `json:"graph" binding:"required"`
	IsTemplate   bool                 `json:"is_template"`
	SectorID     *uint                `json:"sector_id"`
}

// UpdateDefinitionRequest 更新定义请求（全量或部分）
type UpdateDefinitionRequest struct {
	Name         string                `json:"name" binding:"max=200"`
	Description  string                `json:"description" binding:"max=500"`
	Type         string                `json:"type" binding:"max=50"`
	Category     string                `json:"category" binding:"max=50"`
	TriggerEvent string                `json:"trigger_event" binding:"max=100"`
	Graph        *models.WorkflowGraph `json:"graph"` // 结构性变更，触发版本号递增与快照
	IsActive     *bool                 `json:"is_active"`
	SectorID     *uint                 `json:"sector_id"`
}

// ValidateGraph 校验状态图结构，返回全部违反的约束
func (s *DefinitionService) ValidateGraph(graph *models.WorkflowGraph) error {
	var violations []string

	if len(graph.States) == 0 {
		violations = append(violations, "状态图必须包含至少一个状态")
	}

	// 状态ID在定义内唯一
	stateSet := make(map[string]bool)
	for _, state := range graph.States {
		if state.ID == "" {
			violations = append(violations, "状态ID不能为空")
			continue
		}
		if stateSet[state.ID] {
			violations = append(violations, fmt.Sprintf("状态ID重复: %s", state.ID))
		}
		stateSet[state.ID] = true
		if state.Name == "" {
			violations = append(violations, fmt.Sprintf("状态 %s 的名称不能为空", state.ID))
		}
	}

	// 流转的源/目标必须引用已声明的状态
	for _, t := range graph.Transitions {
		if !stateSet[t.FromStateID] {
			violations = append(violations, fmt.Sprintf("流转的源状态不存在: %s", t.FromStateID))
		}
		if !stateSet[t.ToStateID] {
			violations = append(violations, fmt.Sprintf("流转的目标状态不存在: %s", t.ToStateID))
		}
	}

	// 初始状态必须属于状态集合
	if graph.InitialStateID == "" {
		violations = append(violations, "初始状态不能为空")
	} else if !stateSet[graph.InitialStateID] {
		violations = append(violations, fmt.Sprintf("初始状态不存在: %s", graph.InitialStateID))
	}

	// 终止状态集合非空且都属于状态集合
	if len(graph.FinalStateIDs) == 0 {
		violations = append(violations, "终止状态集合不能为空")
	}
	finalSeen := make(map[string]bool)
	for _, id := range graph.FinalStateIDs {
		if !stateSet[id] {
			violations = append(violations, fmt.Sprintf("终止状态不存在: %s", id))
		}
		if finalSeen[id] {
			violations = append(violations, fmt.Sprintf("终止状态重复: %s", id))
		}
		finalSeen[id] = true
	}

	if len(violations) > 0 {
		return apperrors.NewValidationError(violations)
	}
	return nil
}

// Create 创建工作流定义
func (s *DefinitionService) Create(userID uint, req CreateDefinitionRequest) (*models.WorkflowDefinition, error) {
	// 校验状态图
	if err := s.ValidateGraph(&req.Graph); err != nil {
		return nil, err
	}

	// 验证code唯一
	var count int64
	if err := s.db.Model(&models.WorkflowDefinition{}).
		Where("code = ?", req.Code).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperrors.NewConflictError("定义代码已存在: " + req.Code)
	}

	graphJSON, err := json.Marshal(req.Graph)
	if err != nil {
		return nil, fmt.Errorf("序列化状态图失败: %v", err)
	}

	definition := &models.WorkflowDefinition{
		Name:         req.Name,
		Code:         req.Code,
		Description:  req.Description,
		Type:         req.Type,
		Category:     req.Category,
		TriggerEvent: req.TriggerEvent,
		Graph:        graphJSON,
		Version:      1,
		IsActive:     true,
		IsTemplate:   req.IsTemplate,
		SectorID:     req.SectorID,
		CreatedBy:    userID,
		UpdatedBy:    userID,
	}

	if err := s.db.Create(definition).Error; err != nil {
		return nil, err
	}

	return definition, nil
}

// Update 更新工作流定义
// 结构性变更（状态图）会把更新前的完整定义快照进版本表并递增版本号；
// 非结构性变更（名称、描述、启用标记）不递增版本号
func (s *DefinitionService) Update(definitionID uint, userID uint, req UpdateDefinitionRequest) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition
	if err := s.db.First(&definition, definitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("工作流定义", definitionID)
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"updated_by": userID,
		"updated_at": time.Now(),
	}

	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.Type != "" {
		updates["type"] = req.Type
	}
	if req.Category != "" {
		updates["category"] = req.Category
	}
	if req.TriggerEvent != "" {
		updates["trigger_event"] = req.TriggerEvent
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.SectorID != nil {
		updates["sector_id"] = *req.SectorID
	}

	structural := req.Graph != nil
	if structural {
		// 结构校验合并后的结果
		if err := s.ValidateGraph(req.Graph); err != nil {
			return nil, err
		}

		graphJSON, err := json.Marshal(req.Graph)
		if err != nil {
			return nil, fmt.Errorf("序列化状态图失败: %v", err)
		}
		updates["graph"] = graphJSON
		updates["version"] = gorm.Expr("version + 1")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if structural {
			// 把更新前的完整定义追加进版本表
			snapshot, err := json.Marshal(definition)
			if err != nil {
				return fmt.Errorf("序列化定义快照失败: %v", err)
			}
			revision := &models.WorkflowDefinitionRevision{
				DefinitionID: definition.ID,
				Version:      definition.Version,
				Snapshot:     snapshot,
				ChangedBy:    userID,
			}
			if err := tx.Create(revision).Error; err != nil {
				return err
			}
		}

		return tx.Model(&definition).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	// 重新加载数据
	if err := s.db.First(&definition, definition.ID).Error; err != nil {
		return nil, err
	}

	return &definition, nil
}

// Delete 删除工作流定义，存在活跃实例时拒绝
func (s *DefinitionService) Delete(definitionID uint) error {
	var definition models.WorkflowDefinition
	if err := s.db.First(&definition, definitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("工作流定义", definitionID)
		}
		return err
	}

	var activeCount int64
	if err := s.db.Model(&models.WorkflowInstance{}).
		Where("definition_id = ? AND status = ?", definitionID, models.InstanceStatusActive).
		Count(&activeCount).Error; err != nil {
		return err
	}
	if activeCount > 0 {
		return apperrors.NewConflictError(fmt.Sprintf("该定义仍有 %d 个活跃实例，不能删除", activeCount))
	}

	return s.db.Delete(&models.WorkflowDefinition{}, definitionID).Error
}

// Duplicate 复制定义：深拷贝状态图，版本归1，归属复制发起人
func (s *DefinitionService) Duplicate(definitionID uint, userID uint, newCode, newName string) (*models.WorkflowDefinition, error) {
	var source models.WorkflowDefinition
	if err := s.db.First(&source, definitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("工作流定义", definitionID)
		}
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.WorkflowDefinition{}).
		Where("code = ?", newCode).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperrors.NewConflictError("定义代码已存在: " + newCode)
	}

	// Graph是JSONB原文，整体复制即深拷贝
	graphCopy := make(models.JSON, len(source.Graph))
	copy(graphCopy, source.Graph)

	duplicate := &models.WorkflowDefinition{
		Name:         newName,
		Code:         newCode,
		Description:  source.Description,
		Type:         source.Type,
		Category:     source.Category,
		TriggerEvent: source.TriggerEvent,
		Graph:        graphCopy,
		Version:      1,
		IsActive:     true,
		IsTemplate:   source.IsTemplate,
		SectorID:     source.SectorID,
		CreatedBy:    userID,
		UpdatedBy:    userID,
	}

	if err := s.db.Create(duplicate).Error; err != nil {
		return nil, err
	}

	return duplicate, nil
}

// GetByID 根据ID获取定义
func (s *DefinitionService) GetByID(definitionID uint) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition
	if err := s.db.First(&definition, definitionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("工作流定义", definitionID)
		}
		return nil, err
	}
	return &definition, nil
}

// List 获取定义列表
func (s *DefinitionService) List(params *pagination.PageParams, search string, activeOnly bool) ([]models.WorkflowDefinition, int64, error) {
	var definitions []models.WorkflowDefinition
	var total int64

	query := s.db.Model(&models.WorkflowDefinition{})

	if search != "" {
		searchPattern := "%" + search + "%"
		query = query.Where("name LIKE ? OR code LIKE ? OR description LIKE ?",
			searchPattern, searchPattern, searchPattern)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Offset(params.GetOffset()).Limit(params.GetLimit()).
		Order("created_at DESC").
		Find(&definitions).Error; err != nil {
		return nil, 0, err
	}

	return definitions, total, nil
}

// GetRevisions 获取定义的历史版本（按版本号倒序）
func (s *DefinitionService) GetRevisions(definitionID uint, params *pagination.PageParams) ([]models.WorkflowDefinitionRevision, int64, error) {
	var revisions []models.WorkflowDefinitionRevision
	var total int64

	query := s.db.Model(&models.WorkflowDefinitionRevision{}).
		Where("definition_id = ?", definitionID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Offset(params.GetOffset()).Limit(params.GetLimit()).
		Order("version DESC").
		Find(&revisions).Error; err != nil {
		return nil, 0, err
	}

	return revisions, total, nil
}

// Enable 启用定义（非结构性变更，不递增版本）
func (s *DefinitionService) Enable(definitionID uint, userID uint) error {
	return s.setActive(definitionID, userID, true)
}

// Disable 禁用定义
func (s *DefinitionService) Disable(definitionID uint, userID uint) error {
	return s.setActive(definitionID, userID, false)
}

func (s *DefinitionService) setActive(definitionID uint, userID uint, active bool) error {
	result := s.db.Model(&models.WorkflowDefinition{}).
		Where("id = ?", definitionID).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_by": userID,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError("工作流定义", definitionID)
	}
	return nil
}

// ParseGraph 解析定义中的状态图
func (s *DefinitionService) ParseGraph(definition *models.WorkflowDefinition) (*models.WorkflowGraph, error) {
	var graph models.WorkflowGraph
	if err := json.Unmarshal(definition.Graph, &graph); err != nil {
		return nil, fmt.Errorf("解析状态图失败: %v", err)
	}
	return &graph, nil
}
