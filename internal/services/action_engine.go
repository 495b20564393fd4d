package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"mwp/internal/models"
	"mwp/pkg/config"
	apperrors "mwp/pkg/errors"
	"mwp/pkg/logger"
	"mwp/pkg/pagination"
	"mwp/pkg/queue"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ActionEngine 动作引擎：执行挂在实例/定义上的非流转类动作，带有界重试
type ActionEngine struct {
	db              *gorm.DB
	instanceService *InstanceService
	notifyQueue     *queue.NotifyQueue
	workers         int
	maxAttempts     int
	logger          *logrus.Logger
}

// NewActionEngine 创建动作引擎
func NewActionEngine(db *gorm.DB, instanceService *InstanceService, notifyQueue *queue.NotifyQueue) *ActionEngine {
	cfg := config.GetConfig()
	return &ActionEngine{
		db:              db,
		instanceService: instanceService,
		notifyQueue:     notifyQueue,
		workers:         cfg.Engine.ActionWorkers,
		maxAttempts:     cfg.Engine.MaxActionAttempts,
		logger:          logger.GetLogger(),
	}
}

// ScheduleActionRequest 调度动作请求
type ScheduleActionRequest struct {
	InstanceID      string                 `json:"instance_id"`                       // 实例级动作
	DefinitionID    uint                   `json:"definition_id"`                     // 定义级模板动作
	ActionType      string                 `json:"action_type" binding:"required"`    // auto_transition/reminder/escalate
	TriggerType     string                 `json:"trigger_type" binding:"required"`   // time/event
	EventCode       string                 `json:"event_code"`
	ScheduledFor    *time.Time             `json:"scheduled_for"`
	TargetStateID   string                 `json:"target_state_id"`
	Recipient       uint                   `json:"recipient"`
	Message         string                 `json:"message"`
	RequireDelivery bool                   `json:"require_delivery"`
	Params          map[string]interface{} `json:"params"`
	MaxAttempts     int                    `json:"max_attempts"`
}

// ActionOutcome 单个动作的执行结果
type ActionOutcome struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Success    bool   `json:"success"`
	Terminal   bool   `json:"terminal"` // 已终结（成功执行或重试耗尽）
	Detail     string `json:"detail,omitempty"`
}

// ScheduleAction 登记一个待执行动作
func (e *ActionEngine) ScheduleAction(req ScheduleActionRequest, actor *Actor) (*models.WorkflowAction, error) {
	if !isValidActionType(req.ActionType) {
		return nil, apperrors.NewValidationError([]string{"无效的动作类型: " + req.ActionType})
	}

	var violations []string
	switch req.TriggerType {
	case models.TriggerTypeTime:
		if req.ScheduledFor == nil {
			violations = append(violations, "时间触发的动作必须指定scheduled_for")
		}
	case models.TriggerTypeEvent:
		if req.EventCode == "" {
			violations = append(violations, "事件触发的动作必须指定event_code")
		}
	default:
		violations = append(violations, "无效的触发条件: "+req.TriggerType)
	}
	if req.ActionType == models.ActionTypeAutoTransition && req.TargetStateID == "" {
		violations = append(violations, "自动流转动作必须指定target_state_id")
	}
	if req.InstanceID == "" && req.DefinitionID == 0 {
		violations = append(violations, "动作必须归属实例或定义")
	}
	if len(violations) > 0 {
		return nil, apperrors.NewValidationError(violations)
	}

	action := &models.WorkflowAction{
		ActionID:        uuid.New().String(),
		ActionType:      req.ActionType,
		TriggerType:     req.TriggerType,
		EventCode:       req.EventCode,
		ScheduledFor:    req.ScheduledFor,
		TargetStateID:   req.TargetStateID,
		Recipient:       req.Recipient,
		Message:         req.Message,
		RequireDelivery: req.RequireDelivery,
		MaxAttempts:     req.MaxAttempts,
	}
	if action.MaxAttempts <= 0 {
		action.MaxAttempts = e.maxAttempts
	}
	if actor != nil {
		action.CreatedBy = actor.UserID
	}

	if req.InstanceID != "" {
		instance, err := e.instanceService.GetByInstanceID(req.InstanceID)
		if err != nil {
			return nil, err
		}
		action.InstanceID = &instance.ID
	}
	if req.DefinitionID != 0 {
		var definition models.WorkflowDefinition
		if err := e.db.First(&definition, req.DefinitionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.NewNotFoundError("工作流定义", req.DefinitionID)
			}
			return nil, err
		}
		action.DefinitionID = &definition.ID
	}

	if req.Params != nil {
		paramsJSON, err := json.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("序列化动作参数失败: %v", err)
		}
		action.Params = paramsJSON
	}

	if err := e.db.Create(action).Error; err != nil {
		return nil, err
	}

	return action, nil
}

// RunDue 执行所有到期动作
// 动作之间相互隔离，单个失败不影响其余；并发由工作池限定
func (e *ActionEngine) RunDue(now time.Time) []ActionOutcome {
	var due []models.WorkflowAction
	err := e.db.Where("executed = ? AND terminally_failed = ? AND trigger_type = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?",
		false, false, models.TriggerTypeTime, now).
		Order("scheduled_for ASC").
		Find(&due).Error
	if err != nil {
		e.logger.WithError(err).Error("查询到期动作失败")
		return nil
	}

	return e.executeAll(due, now)
}

// FireEvent 触发事件：执行匹配事件编码的待执行动作
// instanceID非空时只触发该实例上的动作
func (e *ActionEngine) FireEvent(eventCode string, instanceID string, now time.Time) ([]ActionOutcome, error) {
	query := e.db.Where("executed = ? AND terminally_failed = ? AND trigger_type = ? AND event_code = ?",
		false, false, models.TriggerTypeEvent, eventCode)

	if instanceID != "" {
		instance, err := e.instanceService.GetByInstanceID(instanceID)
		if err != nil {
			return nil, err
		}
		query = query.Where("instance_id = ?", instance.ID)
	}

	var matched []models.WorkflowAction
	if err := query.Find(&matched).Error; err != nil {
		return nil, err
	}

	return e.executeAll(matched, now), nil
}

// executeAll 用有界工作池执行一批动作
func (e *ActionEngine) executeAll(actions []models.WorkflowAction, now time.Time) []ActionOutcome {
	if len(actions) == 0 {
		return nil
	}

	workers := e.workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan models.WorkflowAction)
	results := make(chan ActionOutcome, len(actions))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for action := range jobs {
				results <- e.executeOne(&action, now)
			}
		}()
	}

	for _, action := range actions {
		jobs <- action
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]ActionOutcome, 0, len(actions))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// executeOne 执行单个动作并记录结果，panic也被隔离
func (e *ActionEngine) executeOne(action *models.WorkflowAction, now time.Time) (outcome ActionOutcome) {
	outcome = ActionOutcome{ActionID: action.ActionID, ActionType: action.ActionType}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("动作执行panic: %v", r)
			execErr := apperrors.NewActionExecutionError(action.ActionID, true, fmt.Errorf("panic: %v", r))
			outcome = e.recordFailure(action, now, execErr)
		}
	}()

	// executed=true的动作不可再执行
	if action.Executed {
		outcome.Detail = "动作已执行"
		return outcome
	}

	err := e.dispatch(action)
	if err != nil {
		return e.recordFailure(action, now, err)
	}

	// 成功：标记executed，此后整行不可变
	updates := map[string]interface{}{
		"executed":       true,
		"executed_at":    now,
		"outcome":        models.ActionOutcomeSuccess,
		"outcome_detail": "",
		"attempts":       gorm.Expr("attempts + 1"),
	}
	if err := e.db.Model(action).Updates(updates).Error; err != nil {
		e.logger.WithError(err).WithField("action_id", action.ActionID).
			Error("记录动作执行结果失败")
	}

	outcome.Success = true
	outcome.Terminal = true
	return outcome
}

// dispatch 按动作类型分发执行，闭合的类型集合，新增类型需在此登记
func (e *ActionEngine) dispatch(action *models.WorkflowAction) error {
	switch action.ActionType {
	case models.ActionTypeAutoTransition:
		return e.runAutoTransition(action)
	case models.ActionTypeReminder:
		return e.runNotify(action, "reminder")
	case models.ActionTypeEscalate:
		return e.runEscalate(action)
	default:
		// 不可重试：未知类型重试也不会成功
		return apperrors.NewActionExecutionError(action.ActionID, false,
			fmt.Errorf("未知动作类型: %s", action.ActionType))
	}
}

// runAutoTransition 自动流转：以系统身份调用实例运行时
// 与人工流转共用同一把实例锁，保证串行
func (e *ActionEngine) runAutoTransition(action *models.WorkflowAction) error {
	if action.InstanceID == nil {
		return apperrors.NewActionExecutionError(action.ActionID, false,
			errors.New("自动流转动作缺少归属实例"))
	}

	var instance models.WorkflowInstance
	if err := e.db.First(&instance, *action.InstanceID).Error; err != nil {
		return apperrors.NewActionExecutionError(action.ActionID, false,
			fmt.Errorf("加载实例失败: %v", err))
	}

	_, err := e.instanceService.Transition(instance.InstanceID, action.TargetStateID,
		SystemActor(), "自动流转: "+action.Message, nil)
	if err != nil {
		// 非法流转重试无意义；锁竞争和基础设施错误可重试
		var invalidErr *apperrors.InvalidTransitionError
		retryable := !errors.As(err, &invalidErr)
		return apperrors.NewActionExecutionError(action.ActionID, retryable, err)
	}
	return nil
}

// runNotify 提醒类动作：入队通知，投递失败默认不阻塞动作完成
func (e *ActionEngine) runNotify(action *models.WorkflowAction, kind string) error {
	msg := &queue.NotifyMessage{
		MessageID: uuid.New().String(),
		Recipient: action.Recipient,
		Subject:   e.subjectFor(action, kind),
		Content:   action.Message,
		Kind:      kind,
	}
	if action.InstanceID != nil {
		var instance models.WorkflowInstance
		if err := e.db.First(&instance, *action.InstanceID).Error; err == nil {
			msg.InstanceID = instance.InstanceID
			msg.Priority = instance.Priority
			if msg.Recipient == 0 {
				msg.Recipient = instance.AssigneeID
			}
		}
	}

	if e.notifyQueue == nil {
		e.logger.WithField("action_id", action.ActionID).Warn("通知队列未配置，跳过投递")
		return nil
	}

	if err := e.notifyQueue.Enqueue(msg); err != nil {
		if action.RequireDelivery {
			return apperrors.NewActionExecutionError(action.ActionID, true,
				fmt.Errorf("通知投递失败: %v", err))
		}
		// 非确认投递：失败只记日志，不影响动作完成
		e.logger.WithError(err).WithField("action_id", action.ActionID).
			Warn("通知投递失败")
	}
	return nil
}

// runEscalate 升级动作：通知责任人并更新实例升级标记与优先级
func (e *ActionEngine) runEscalate(action *models.WorkflowAction) error {
	if err := e.runNotify(action, "escalate"); err != nil {
		return err
	}

	if action.InstanceID != nil {
		var instance models.WorkflowInstance
		if err := e.db.First(&instance, *action.InstanceID).Error; err != nil {
			return apperrors.NewActionExecutionError(action.ActionID, true,
				fmt.Errorf("加载实例失败: %v", err))
		}

		if err := e.instanceService.MarkEscalated(instance.InstanceID, time.Now()); err != nil {
			return apperrors.NewActionExecutionError(action.ActionID, true, err)
		}

		// 升级时优先级上调一档，封顶critical
		if instance.Priority < models.PriorityCritical {
			if err := e.db.Model(&models.WorkflowInstance{}).
				Where("id = ?", instance.ID).
				Update("priority", instance.Priority+1).Error; err != nil {
				return apperrors.NewActionExecutionError(action.ActionID, true, err)
			}
		}
	}
	return nil
}

// recordFailure 记录失败：未耗尽则保留重试资格，耗尽则终结并待人工跟进
func (e *ActionEngine) recordFailure(action *models.WorkflowAction, now time.Time, execErr error) ActionOutcome {
	attempts := action.Attempts + 1
	retryable := attempts < action.MaxAttempts

	var actionErr *apperrors.ActionExecutionError
	if errors.As(execErr, &actionErr) && !actionErr.Retryable {
		retryable = false
	}

	updates := map[string]interface{}{
		"attempts":       attempts,
		"outcome":        models.ActionOutcomeFailed,
		"outcome_detail": execErr.Error(),
	}
	if !retryable {
		updates["terminally_failed"] = true
		updates["executed_at"] = now
	}

	if err := e.db.Model(action).Updates(updates).Error; err != nil {
		e.logger.WithError(err).WithField("action_id", action.ActionID).
			Error("记录动作失败结果失败")
	}

	logEntry := e.logger.WithFields(logrus.Fields{
		"action_id":   action.ActionID,
		"action_type": action.ActionType,
		"attempts":    attempts,
	})
	if retryable {
		logEntry.WithError(execErr).Warn("动作执行失败，等待重试")
	} else {
		logEntry.WithError(execErr).Error("动作重试耗尽，已终结")
	}

	return ActionOutcome{
		ActionID:   action.ActionID,
		ActionType: action.ActionType,
		Success:    false,
		Terminal:   !retryable,
		Detail:     execErr.Error(),
	}
}

// GetByActionID 按业务ID获取动作
func (e *ActionEngine) GetByActionID(actionID string) (*models.WorkflowAction, error) {
	var action models.WorkflowAction
	if err := e.db.Where("action_id = ?", actionID).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("工作流动作", actionID)
		}
		return nil, err
	}
	return &action, nil
}

// ActionListFilter 动作列表过滤条件
type ActionListFilter struct {
	InstanceID string
	ActionType string
	Pending    bool // 仅未执行且未终结的
	Failed     bool // 仅终结失败的
}

// List 获取动作列表
func (e *ActionEngine) List(params *pagination.PageParams, filter ActionListFilter) ([]models.WorkflowAction, int64, error) {
	var actions []models.WorkflowAction
	var total int64

	query := e.db.Model(&models.WorkflowAction{})

	if filter.InstanceID != "" {
		instance, err := e.instanceService.GetByInstanceID(filter.InstanceID)
		if err != nil {
			return nil, 0, err
		}
		query = query.Where("instance_id = ?", instance.ID)
	}
	if filter.ActionType != "" {
		query = query.Where("action_type = ?", filter.ActionType)
	}
	if filter.Pending {
		query = query.Where("executed = ? AND terminally_failed = ?", false, false)
	}
	if filter.Failed {
		query = query.Where("terminally_failed = ?", true)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.Offset(params.GetOffset()).Limit(params.GetLimit()).
		Order("created_at DESC").
		Find(&actions).Error; err != nil {
		return nil, 0, err
	}

	return actions, total, nil
}

// HasPendingAction 判断实例上是否存在指定类型的待执行动作
func (e *ActionEngine) HasPendingAction(instancePK uint, actionType string) (bool, error) {
	var count int64
	err := e.db.Model(&models.WorkflowAction{}).
		Where("instance_id = ? AND action_type = ? AND executed = ? AND terminally_failed = ?",
			instancePK, actionType, false, false).
		Count(&count).Error
	return count > 0, err
}

// subjectFor 生成通知主题
func (e *ActionEngine) subjectFor(action *models.WorkflowAction, kind string) string {
	switch kind {
	case "escalate":
		return "工作流超期升级"
	default:
		return "工作流到期提醒"
	}
}

// isValidActionType 检查动作类型是否有效
func isValidActionType(actionType string) bool {
	switch actionType {
	case models.ActionTypeAutoTransition, models.ActionTypeReminder, models.ActionTypeEscalate:
		return true
	}
	return false
}
