package services

import (
	"time"

	"mwp/internal/models"

	"gorm.io/gorm"
)

// StatisticsService 工作流统计服务
type StatisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) *StatisticsService {
	return &StatisticsService{db: db}
}

// InstanceStats 实例统计
type InstanceStats struct {
	Total          int64            `json:"total"`
	ByStatus       map[string]int64 `json:"by_status"`
	ByPriority     map[int]int64    `json:"by_priority"`
	OverdueCount   int64            `json:"overdue_count"`
	AvgExecSeconds float64          `json:"avg_exec_seconds"` // 已完成实例的平均处理时长（不含暂停）
}

// ActionStats 动作统计
type ActionStats struct {
	Total            int64            `json:"total"`
	Pending          int64            `json:"pending"`
	Executed         int64            `json:"executed"`
	TerminallyFailed int64            `json:"terminally_failed"`
	ByType           map[string]int64 `json:"by_type"`
}

// DefinitionUsage 单个定义的使用统计
type DefinitionUsage struct {
	DefinitionID   uint    `json:"definition_id"`
	Name           string  `json:"name"`
	Code           string  `json:"code"`
	Total          int64   `json:"total"`
	Active         int64   `json:"active"`
	Completed      int64   `json:"completed"`
	AvgExecSeconds float64 `json:"avg_exec_seconds"`
}

// GetInstanceStats 获取实例统计
func (s *StatisticsService) GetInstanceStats() (*InstanceStats, error) {
	stats := &InstanceStats{}

	if err := s.db.Model(&models.WorkflowInstance{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	// 按状态统计
	var statusStats []struct {
		Status string
		Count  int64
	}
	if err := s.db.Model(&models.WorkflowInstance{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusStats).Error; err != nil {
		return nil, err
	}
	stats.ByStatus = make(map[string]int64)
	for _, ss := range statusStats {
		stats.ByStatus[ss.Status] = ss.Count
	}

	// 按优先级统计
	var priorityStats []struct {
		Priority int
		Count    int64
	}
	if err := s.db.Model(&models.WorkflowInstance{}).
		Select("priority, COUNT(*) as count").
		Group("priority").
		Scan(&priorityStats).Error; err != nil {
		return nil, err
	}
	stats.ByPriority = make(map[int]int64)
	for _, ps := range priorityStats {
		stats.ByPriority[ps.Priority] = ps.Count
	}

	// 超期未完结
	if err := s.db.Model(&models.WorkflowInstance{}).
		Where("status = ? AND deadline IS NOT NULL AND deadline < ?", models.InstanceStatusActive, time.Now()).
		Count(&stats.OverdueCount).Error; err != nil {
		return nil, err
	}

	// 平均处理时长只统计已完成实例的exec_seconds，暂停时间已在运行时扣除
	var avgResult struct {
		Avg float64
	}
	if err := s.db.Model(&models.WorkflowInstance{}).
		Select("COALESCE(AVG(exec_seconds), 0) as avg").
		Where("status = ?", models.InstanceStatusCompleted).
		Scan(&avgResult).Error; err != nil {
		return nil, err
	}
	stats.AvgExecSeconds = avgResult.Avg

	return stats, nil
}

// GetActionStats 获取动作统计
func (s *StatisticsService) GetActionStats() (*ActionStats, error) {
	stats := &ActionStats{}

	if err := s.db.Model(&models.WorkflowAction{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.WorkflowAction{}).
		Where("executed = ? AND terminally_failed = ?", false, false).
		Count(&stats.Pending).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.WorkflowAction{}).
		Where("executed = ?", true).
		Count(&stats.Executed).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.WorkflowAction{}).
		Where("terminally_failed = ?", true).
		Count(&stats.TerminallyFailed).Error; err != nil {
		return nil, err
	}

	var typeStats []struct {
		ActionType string
		Count      int64
	}
	if err := s.db.Model(&models.WorkflowAction{}).
		Select("action_type, COUNT(*) as count").
		Group("action_type").
		Scan(&typeStats).Error; err != nil {
		return nil, err
	}
	stats.ByType = make(map[string]int64)
	for _, ts := range typeStats {
		stats.ByType[ts.ActionType] = ts.Count
	}

	return stats, nil
}

// GetDefinitionUsage 获取各定义的实例使用统计
func (s *StatisticsService) GetDefinitionUsage() ([]DefinitionUsage, error) {
	var rows []struct {
		DefinitionID uint
		Total        int64
		Active       int64
		Completed    int64
		AvgExec      float64
	}
	err := s.db.Model(&models.WorkflowInstance{}).
		Select(`definition_id,
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'active') as active,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COALESCE(AVG(exec_seconds) FILTER (WHERE status = 'completed'), 0) as avg_exec`).
		Group("definition_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return []DefinitionUsage{}, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.DefinitionID)
	}
	var definitions []models.WorkflowDefinition
	if err := s.db.Where("id IN ?", ids).Find(&definitions).Error; err != nil {
		return nil, err
	}
	nameByID := make(map[uint]models.WorkflowDefinition, len(definitions))
	for _, def := range definitions {
		nameByID[def.ID] = def
	}

	usage := make([]DefinitionUsage, 0, len(rows))
	for _, row := range rows {
		entry := DefinitionUsage{
			DefinitionID:   row.DefinitionID,
			Total:          row.Total,
			Active:         row.Active,
			Completed:      row.Completed,
			AvgExecSeconds: row.AvgExec,
		}
		if def, ok := nameByID[row.DefinitionID]; ok {
			entry.Name = def.Name
			entry.Code = def.Code
		}
		usage = append(usage, entry)
	}
	return usage, nil
}
