package handlers

import (
	"strconv"

	"mwp/internal/services"
	"mwp/pkg/jwt"
	"mwp/pkg/pagination"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// WorkflowInstanceHandler 工作流实例处理器
type WorkflowInstanceHandler struct {
	instanceService *services.InstanceService
}

// NewWorkflowInstanceHandler 创建工作流实例处理器
func NewWorkflowInstanceHandler(instanceService *services.InstanceService) *WorkflowInstanceHandler {
	return &WorkflowInstanceHandler{instanceService: instanceService}
}

func currentActor(c *gin.Context) *services.Actor {
	claims := c.MustGet("claims").(*jwt.JWTClaims)
	return services.ActorFromClaims(claims)
}

// Create 创建工作流实例
func (h *WorkflowInstanceHandler) Create(c *gin.Context) {
	var req services.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	instance, err := h.instanceService.CreateInstance(req, currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "创建成功", instance)
}

// GetByInstanceID 获取实例详情
func (h *WorkflowInstanceHandler) GetByInstanceID(c *gin.Context) {
	instance, err := h.instanceService.GetByInstanceID(c.Param("instanceId"))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, instance)
}

// List 获取实例列表
func (h *WorkflowInstanceHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	filter := services.InstanceListFilter{
		Status:      c.Query("status"),
		Search:      c.Query("search"),
		OverdueOnly: c.Query("overdue_only") == "true",
	}
	if v, err := strconv.ParseUint(c.Query("definition_id"), 10, 32); err == nil {
		filter.DefinitionID = uint(v)
	}
	if v, err := strconv.ParseUint(c.Query("assignee_id"), 10, 32); err == nil {
		filter.AssigneeID = uint(v)
	}

	instances, total, err := h.instanceService.List(params, filter)
	if err != nil {
		response.ServerError(c, "获取实例列表失败")
		return
	}

	pageInfo := pagination.NewPageInfo(params.Page, params.PageSize, total)
	response.SuccessWithPage(c, instances, pageInfo)
}

// AvailableTransitions 获取当前状态下可用的流转（已按角色过滤）
func (h *WorkflowInstanceHandler) AvailableTransitions(c *gin.Context) {
	transitions, err := h.instanceService.AvailableTransitions(c.Param("instanceId"), currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, transitions)
}

// Transition 执行状态流转
func (h *WorkflowInstanceHandler) Transition(c *gin.Context) {
	var req struct {
		TargetStateID string                 `json:"target_state_id" binding:"required"`
		Comment       string                 `json:"comment" binding:"max=1000"`
		Extra         map[string]interface{} `json:"extra"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	instance, err := h.instanceService.Transition(c.Param("instanceId"), req.TargetStateID, currentActor(c), req.Comment, req.Extra)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "流转成功", instance)
}

// Pause 暂停实例
func (h *WorkflowInstanceHandler) Pause(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	instance, err := h.instanceService.Pause(c.Param("instanceId"), req.Reason, currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已暂停", instance)
}

// Reactivate 恢复暂停中的实例
func (h *WorkflowInstanceHandler) Reactivate(c *gin.Context) {
	instance, err := h.instanceService.Reactivate(c.Param("instanceId"), currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已恢复", instance)
}

// Cancel 取消实例
func (h *WorkflowInstanceHandler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	instance, err := h.instanceService.Cancel(c.Param("instanceId"), req.Reason, currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已取消", instance)
}

// AddComment 添加备注
func (h *WorkflowInstanceHandler) AddComment(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required,max=2000"`
		Public  bool   `json:"public"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	comment, err := h.instanceService.AddComment(c.Param("instanceId"), req.Content, currentActor(c), req.Public)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "备注成功", comment)
}

// GetComments 获取备注列表
func (h *WorkflowInstanceHandler) GetComments(c *gin.Context) {
	comments, err := h.instanceService.GetComments(c.Param("instanceId"), currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, comments)
}

// GetHistory 获取状态流转历史
func (h *WorkflowInstanceHandler) GetHistory(c *gin.Context) {
	history, err := h.instanceService.GetHistory(c.Param("instanceId"))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, history)
}

// Delete 软删除实例
func (h *WorkflowInstanceHandler) Delete(c *gin.Context) {
	if err := h.instanceService.Delete(c.Param("instanceId")); err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// Purge 物理删除实例及其历史、备注和动作，仅管理员
func (h *WorkflowInstanceHandler) Purge(c *gin.Context) {
	if err := h.instanceService.Purge(c.Param("instanceId"), currentActor(c)); err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "已清除", nil)
}
