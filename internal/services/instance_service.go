package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mwp/internal/models"
	"mwp/pkg/config"
	apperrors "mwp/pkg/errors"
	"mwp/pkg/lock"
	"mwp/pkg/logger"
	"mwp/pkg/pagination"
	"mwp/pkg/queue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InstanceService 工作流实例运行时：状态机推进、暂停/恢复、历史与评论
type InstanceService struct {
	db          *gorm.DB
	defService  *DefinitionService
	perm        PermissionChecker
	locks       *lock.KeyedLock
	lockWait    time.Duration
	notifyQueue *queue.NotifyQueue // 可为nil（事件推送降级为仅日志）
	logger      *logrus.Logger
}

// 实例锁表为进程级共享，保证调度器与API层对同一实例互斥
var instanceLocks = lock.NewKeyedLock()

// NewInstanceService 创建实例运行时服务
func NewInstanceService(db *gorm.DB, perm PermissionChecker, notifyQueue *queue.NotifyQueue) *InstanceService {
	if perm == nil {
		perm = NewRolePermissionChecker()
	}
	return &InstanceService{
		db:          db,
		defService:  NewDefinitionService(db),
		perm:        perm,
		locks:       instanceLocks,
		lockWait:    config.GetConfig().Engine.LockWaitTimeout,
		notifyQueue: notifyQueue,
		logger:      logger.GetLogger(),
	}
}

// CreateInstanceRequest 创建实例请求
type CreateInstanceRequest struct {
	DefinitionID uint                   `json:"definition_id" binding:"required"`
	Title        string                 `json:"title" binding:"required,max=200"`
	OriginType   string                 `json:"origin_type" binding:"max=50"`
	OriginID     string                 `json:"origin_id" binding:"max=100"`
	Priority     int                    `json:"priority" binding:"omitempty,min=1,max=4"`
	Context      map[string]interface{} `json:"context"`
	Deadline     *time.Time             `json:"deadline"`
	AssigneeID   uint                   `json:"assignee_id"`
	ApproverID   *uint                  `json:"approver_id"`
}

// InstanceEvent 实例事件（推送到Redis供WebSocket订阅）
type InstanceEvent struct {
	InstanceID string    `json:"instance_id"`
	EventType  string    `json:"event_type"` // created/transitioned/paused/reactivated/cancelled/completed/commented
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state,omitempty"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CreateInstance 从定义实例化一个运行案件
// 定义缺失或未启用时返回NotFoundError
func (s *InstanceService) CreateInstance(req CreateInstanceRequest, actor *Actor) (*models.WorkflowInstance, error) {
	definition, err := s.defService.GetByID(req.DefinitionID)
	if err != nil {
		return nil, err
	}
	if !definition.IsActive {
		return nil, apperrors.NewNotFoundError("可用的工作流定义", req.DefinitionID)
	}

	graph, err := s.defService.ParseGraph(definition)
	if err != nil {
		return nil, err
	}

	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return nil, fmt.Errorf("序列化实例上下文失败: %v", err)
	}

	priority := req.Priority
	if priority == 0 {
		priority = models.PriorityMedium
	}
	assignee := req.AssigneeID
	if assignee == 0 {
		assignee = actor.UserID
	}

	now := time.Now()
	instance := &models.WorkflowInstance{
		InstanceID:     uuid.New().String(),
		DefinitionID:   definition.ID,
		Title:          req.Title,
		OriginType:     req.OriginType,
		OriginID:       req.OriginID,
		CurrentStateID: graph.InitialStateID,
		Status:         models.InstanceStatusActive,
		Priority:       priority,
		Context:        contextJSON,
		Deadline:       req.Deadline,
		StartedAt:      now,
		InitiatorID:    actor.UserID,
		AssigneeID:     assignee,
		ApproverID:     req.ApproverID,
		RowVersion:     1,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(instance).Error; err != nil {
			return err
		}
		// 记录初始历史
		history := &models.WorkflowInstanceHistory{
			InstanceID: instance.ID,
			FromState:  "",
			ToState:    graph.InitialStateID,
			ActorID:    actor.UserID,
			Comment:    "实例创建",
			CreatedAt:  now,
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(&InstanceEvent{
		InstanceID: instance.InstanceID,
		EventType:  "created",
		ToState:    graph.InitialStateID,
		Actor:      actor.Username,
		OccurredAt: now,
	})

	return instance, nil
}

// AvailableTransitions 返回当前状态出发、且操作人有权使用的流转
func (s *InstanceService) AvailableTransitions(instanceID string, actor *Actor) ([]models.WorkflowTransition, error) {
	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}

	graph, err := s.loadGraph(instance)
	if err != nil {
		return nil, err
	}

	var available []models.WorkflowTransition
	for _, t := range graph.TransitionsFrom(instance.CurrentStateID) {
		transition := t
		if s.perm.CanUseTransition(actor, &transition, instance) {
			available = append(available, transition)
		}
	}
	return available, nil
}

// Transition 把实例推进到目标状态
// 同一实例上的流转通过实例锁串行化；锁等待超时返回ConcurrencyConflictError
func (s *InstanceService) Transition(instanceID string, targetStateID string, actor *Actor, comment string, extra map[string]interface{}) (*models.WorkflowInstance, error) {
	// 实例级互斥：不同实例完全并行
	if !s.locks.Acquire(instanceID, s.lockWait) {
		return nil, apperrors.NewConcurrencyConflictError("实例正在流转中: " + instanceID)
	}
	defer s.locks.Release(instanceID)

	// 持锁后重读，保证基于最新状态判定
	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}

	graph, err := s.loadGraph(instance)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusActive {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("实例状态为 %s，只有active状态允许流转", instance.Status), nil)
	}

	transition := graph.FindTransition(instance.CurrentStateID, targetStateID)
	if transition == nil {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("不存在从 %s 到 %s 的流转", instance.CurrentStateID, targetStateID),
			s.describeTransitions(graph.TransitionsFrom(instance.CurrentStateID)))
	}

	if !s.perm.CanUseTransition(actor, transition, instance) {
		return nil, apperrors.NewForbiddenError("无权使用流转: " + transition.Label)
	}

	now := time.Now()
	completing := graph.IsFinalState(targetStateID)

	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("序列化流转附加数据失败: %v", err)
	}

	updates := map[string]interface{}{
		"current_state_id": targetStateID,
		"row_version":      gorm.Expr("row_version + 1"),
		"updated_at":       now,
	}
	if completing {
		updates["status"] = models.InstanceStatusCompleted
		updates["finished_at"] = now
		updates["exec_seconds"] = instance.ExecSeconds + s.activeSpanSeconds(instance, now)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 乐观校验行版本，防外部写入者丢更新
		result := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND row_version = ?", instance.ID, instance.RowVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NewConcurrencyConflictError("实例已被其他操作修改: " + instanceID)
		}

		history := &models.WorkflowInstanceHistory{
			InstanceID: instance.ID,
			FromState:  instance.CurrentStateID,
			ToState:    targetStateID,
			ActorID:    actor.UserID,
			Comment:    comment,
			Extra:      extraJSON,
			CreatedAt:  now,
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, err
	}

	eventType := "transitioned"
	if completing {
		eventType = "completed"
	}
	s.publishEvent(&InstanceEvent{
		InstanceID: instance.InstanceID,
		EventType:  eventType,
		FromState:  instance.CurrentStateID,
		ToState:    targetStateID,
		Actor:      actor.Username,
		OccurredAt: now,
	})

	// 返回更新后的实例
	return s.GetByInstanceID(instanceID)
}

// Pause 暂停实例
func (s *InstanceService) Pause(instanceID string, reason string, actor *Actor) (*models.WorkflowInstance, error) {
	if !s.locks.Acquire(instanceID, s.lockWait) {
		return nil, apperrors.NewConcurrencyConflictError("实例正在流转中: " + instanceID)
	}
	defer s.locks.Release(instanceID)

	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status != models.InstanceStatusActive {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("实例状态为 %s，只有active状态可以暂停", instance.Status), nil)
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND row_version = ?", instance.ID, instance.RowVersion).
			Updates(map[string]interface{}{
				"status":       models.InstanceStatusPaused,
				"paused_at":    now,
				"exec_seconds": instance.ExecSeconds + s.activeSpanSeconds(instance, now),
				"row_version":  gorm.Expr("row_version + 1"),
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NewConcurrencyConflictError("实例已被其他操作修改: " + instanceID)
		}

		history := &models.WorkflowInstanceHistory{
			InstanceID: instance.ID,
			FromState:  instance.CurrentStateID,
			ToState:    instance.CurrentStateID,
			ActorID:    actor.UserID,
			Comment:    "暂停: " + reason,
			CreatedAt:  now,
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(&InstanceEvent{
		InstanceID: instance.InstanceID,
		EventType:  "paused",
		Actor:      actor.Username,
		OccurredAt: now,
	})

	return s.GetByInstanceID(instanceID)
}

// Reactivate 恢复已暂停的实例
func (s *InstanceService) Reactivate(instanceID string, actor *Actor) (*models.WorkflowInstance, error) {
	if !s.locks.Acquire(instanceID, s.lockWait) {
		return nil, apperrors.NewConcurrencyConflictError("实例正在流转中: " + instanceID)
	}
	defer s.locks.Release(instanceID)

	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status != models.InstanceStatusPaused {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("实例状态为 %s，只有paused状态可以恢复", instance.Status), nil)
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND row_version = ?", instance.ID, instance.RowVersion).
			Updates(map[string]interface{}{
				"status":      models.InstanceStatusActive,
				"paused_at":   nil,
				"resumed_at":  now,
				"row_version": gorm.Expr("row_version + 1"),
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NewConcurrencyConflictError("实例已被其他操作修改: " + instanceID)
		}

		history := &models.WorkflowInstanceHistory{
			InstanceID: instance.ID,
			FromState:  instance.CurrentStateID,
			ToState:    instance.CurrentStateID,
			ActorID:    actor.UserID,
			Comment:    "恢复执行",
			CreatedAt:  now,
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(&InstanceEvent{
		InstanceID: instance.InstanceID,
		EventType:  "reactivated",
		Actor:      actor.Username,
		OccurredAt: now,
	})

	return s.GetByInstanceID(instanceID)
}

// Cancel 取消实例（仅active状态允许）
func (s *InstanceService) Cancel(instanceID string, reason string, actor *Actor) (*models.WorkflowInstance, error) {
	if !s.locks.Acquire(instanceID, s.lockWait) {
		return nil, apperrors.NewConcurrencyConflictError("实例正在流转中: " + instanceID)
	}
	defer s.locks.Release(instanceID)

	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}
	if instance.Status != models.InstanceStatusActive {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("实例状态为 %s，只有active状态可以取消", instance.Status), nil)
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WorkflowInstance{}).
			Where("id = ? AND row_version = ?", instance.ID, instance.RowVersion).
			Updates(map[string]interface{}{
				"status":       models.InstanceStatusCancelled,
				"finished_at":  now,
				"exec_seconds": instance.ExecSeconds + s.activeSpanSeconds(instance, now),
				"row_version":  gorm.Expr("row_version + 1"),
				"updated_at":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.NewConcurrencyConflictError("实例已被其他操作修改: " + instanceID)
		}

		history := &models.WorkflowInstanceHistory{
			InstanceID: instance.ID,
			FromState:  instance.CurrentStateID,
			ToState:    instance.CurrentStateID,
			ActorID:    actor.UserID,
			Comment:    "取消: " + reason,
			CreatedAt:  now,
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(&InstanceEvent{
		InstanceID: instance.InstanceID,
		EventType:  "cancelled",
		Actor:      actor.Username,
		OccurredAt: now,
	})

	return s.GetByInstanceID(instanceID)
}

// AddComment 添加评论，任何状态下都允许
func (s *InstanceService) AddComment(instanceID string, text string, actor *Actor, public bool) (*models.WorkflowInstanceComment, error) {
	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}

	visibility := models.CommentVisibilityPublic
	if !public {
		visibility = models.CommentVisibilityInternal
	}

	comment := &models.WorkflowInstanceComment{
		InstanceID: instance.ID,
		AuthorID:   actor.UserID,
		Content:    text,
		Visibility: visibility,
	}
	if err := s.db.Create(comment).Error; err != nil {
		return nil, err
	}

	s.publishEvent(&InstanceEvent{
		InstanceID: instance.InstanceID,
		EventType:  "commented",
		Actor:      actor.Username,
		OccurredAt: time.Now(),
	})

	return comment, nil
}

// GetByInstanceID 按业务ID获取实例
func (s *InstanceService) GetByInstanceID(instanceID string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance
	if err := s.db.Where("instance_id = ?", instanceID).First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("工作流实例", instanceID)
		}
		return nil, err
	}
	return &instance, nil
}

// GetHistory 获取实例流转历史
func (s *InstanceService) GetHistory(instanceID string) ([]models.WorkflowInstanceHistory, error) {
	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}

	var histories []models.WorkflowInstanceHistory
	if err := s.db.Where("instance_id = ?", instance.ID).
		Order("created_at ASC, id ASC").
		Find(&histories).Error; err != nil {
		return nil, err
	}
	return histories, nil
}

// GetComments 获取实例评论，internal评论只对管理员和参与人可见
func (s *InstanceService) GetComments(instanceID string, actor *Actor) ([]models.WorkflowInstanceComment, error) {
	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return nil, err
	}

	query := s.db.Where("instance_id = ?", instance.ID)
	if !actor.IsAdmin && actor.UserID != instance.AssigneeID && actor.UserID != instance.InitiatorID {
		query = query.Where("visibility = ?", models.CommentVisibilityPublic)
	}

	var comments []models.WorkflowInstanceComment
	if err := query.Order("created_at ASC, id ASC").Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

// InstanceListFilter 实例列表过滤条件
type InstanceListFilter struct {
	Status       string
	DefinitionID uint
	AssigneeID   uint
	OverdueOnly  bool
	Search       string
}

// List 获取实例列表
func (s *InstanceService) List(params *pagination.PageParams, filter InstanceListFilter) ([]models.WorkflowInstance, int64, error) {
	var instances []models.WorkflowInstance
	var total int64

	query := s.db.Model(&models.WorkflowInstance{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.DefinitionID != 0 {
		query = query.Where("definition_id = ?", filter.DefinitionID)
	}
	if filter.AssigneeID != 0 {
		query = query.Where("assignee_id = ?", filter.AssigneeID)
	}
	if filter.OverdueOnly {
		query = query.Where("status = ? AND deadline IS NOT NULL AND deadline <= ?",
			models.InstanceStatusActive, time.Now())
	}
	if filter.Search != "" {
		query = query.Where("title LIKE ?", "%"+filter.Search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Offset(params.GetOffset()).Limit(params.GetLimit()).
		Order("created_at DESC").
		Find(&instances).Error; err != nil {
		return nil, 0, err
	}

	return instances, total, nil
}

// FindOverdue 查询超期实例：active且deadline<=now
func (s *InstanceService) FindOverdue(now time.Time) ([]models.WorkflowInstance, error) {
	var instances []models.WorkflowInstance
	err := s.db.Where("status = ? AND deadline IS NOT NULL AND deadline <= ?",
		models.InstanceStatusActive, now).
		Find(&instances).Error
	return instances, err
}

// FindNearDue 查询临期实例：deadline落在前瞻窗口内且优先级达到阈值
func (s *InstanceService) FindNearDue(now time.Time, window time.Duration, minPriority int) ([]models.WorkflowInstance, error) {
	var instances []models.WorkflowInstance
	err := s.db.Where("status = ? AND deadline > ? AND deadline <= ? AND priority >= ?",
		models.InstanceStatusActive, now, now.Add(window), minPriority).
		Find(&instances).Error
	return instances, err
}

// MarkEscalated 记录实例最近一次升级时间（升级动作执行成功后调用）
func (s *InstanceService) MarkEscalated(instanceID string, at time.Time) error {
	return s.db.Model(&models.WorkflowInstance{}).
		Where("instance_id = ?", instanceID).
		Update("last_escalated_at", at).Error
}

// Delete 软关闭实例：已离开active的实例只做软删除
func (s *InstanceService) Delete(instanceID string) error {
	instance, err := s.GetByInstanceID(instanceID)
	if err != nil {
		return err
	}
	if instance.Status == models.InstanceStatusActive {
		return apperrors.NewConflictError("活跃实例不能删除，请先取消或完成")
	}
	return s.db.Delete(instance).Error
}

// Purge 物理清除实例及其历史、评论，仅管理员显式调用
func (s *InstanceService) Purge(instanceID string, actor *Actor) error {
	if !actor.IsAdmin {
		return apperrors.NewForbiddenError("只有管理员可以清除实例")
	}

	var instance models.WorkflowInstance
	if err := s.db.Unscoped().Where("instance_id = ?", instanceID).First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("工作流实例", instanceID)
		}
		return err
	}
	if instance.Status == models.InstanceStatusActive {
		return apperrors.NewConflictError("活跃实例不能清除")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", instance.ID).
			Delete(&models.WorkflowInstanceHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id = ?", instance.ID).
			Delete(&models.WorkflowInstanceComment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id = ?", instance.ID).
			Delete(&models.WorkflowAction{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&instance).Error
	})
}

// loadGraph 加载实例归属定义的状态图
func (s *InstanceService) loadGraph(instance *models.WorkflowInstance) (*models.WorkflowGraph, error) {
	definition, err := s.defService.GetByID(instance.DefinitionID)
	if err != nil {
		return nil, err
	}
	return s.defService.ParseGraph(definition)
}

// activeSpanSeconds 本段活跃时长：自最近一次恢复（或启动）至now
func (s *InstanceService) activeSpanSeconds(instance *models.WorkflowInstance, now time.Time) int64 {
	since := instance.StartedAt
	if instance.ResumedAt != nil && instance.ResumedAt.After(since) {
		since = *instance.ResumedAt
	}
	seconds := int64(now.Sub(since).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}

// describeTransitions 把流转列表转成可读描述，用于错误提示
func (s *InstanceService) describeTransitions(transitions []models.WorkflowTransition) []string {
	var result []string
	for _, t := range transitions {
		if t.Label != "" {
			result = append(result, fmt.Sprintf("%s -> %s (%s)", t.FromStateID, t.ToStateID, t.Label))
		} else {
			result = append(result, fmt.Sprintf("%s -> %s", t.FromStateID, t.ToStateID))
		}
	}
	return result
}

// publishEvent 发布实例事件，失败只记日志不影响主流程
func (s *InstanceService) publishEvent(event *InstanceEvent) {
	if s.notifyQueue == nil {
		return
	}
	if err := s.notifyQueue.PublishEvent("instances", event); err != nil {
		s.logger.WithError(err).WithField("instance_id", event.InstanceID).
			Warn("发布实例事件失败")
	}
}
