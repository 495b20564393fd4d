package handlers

import (
	"time"

	"mwp/internal/services"
	"mwp/pkg/pagination"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// WorkflowActionHandler 工作流动作处理器
type WorkflowActionHandler struct {
	actionEngine *services.ActionEngine
}

// NewWorkflowActionHandler 创建工作流动作处理器
func NewWorkflowActionHandler(actionEngine *services.ActionEngine) *WorkflowActionHandler {
	return &WorkflowActionHandler{actionEngine: actionEngine}
}

// Schedule 登记一个待执行动作
func (h *WorkflowActionHandler) Schedule(c *gin.Context) {
	var req services.ScheduleActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	action, err := h.actionEngine.ScheduleAction(req, currentActor(c))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "登记成功", action)
}

// GetByActionID 获取动作详情
func (h *WorkflowActionHandler) GetByActionID(c *gin.Context) {
	action, err := h.actionEngine.GetByActionID(c.Param("actionId"))
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, action)
}

// List 获取动作列表
func (h *WorkflowActionHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	filter := services.ActionListFilter{
		InstanceID: c.Query("instance_id"),
		ActionType: c.Query("action_type"),
		Pending:    c.Query("pending") == "true",
		Failed:     c.Query("failed") == "true",
	}

	actions, total, err := h.actionEngine.List(params, filter)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	pageInfo := pagination.NewPageInfo(params.Page, params.PageSize, total)
	response.SuccessWithPage(c, actions, pageInfo)
}

// RunDue 手动驱动一轮到期动作执行
func (h *WorkflowActionHandler) RunDue(c *gin.Context) {
	outcomes := h.actionEngine.RunDue(time.Now())
	response.Success(c, gin.H{
		"executed": len(outcomes),
		"outcomes": outcomes,
	})
}

// FireEvent 触发事件，执行匹配事件编码的动作
func (h *WorkflowActionHandler) FireEvent(c *gin.Context) {
	var req struct {
		EventCode  string `json:"event_code" binding:"required,max=100"`
		InstanceID string `json:"instance_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	outcomes, err := h.actionEngine.FireEvent(req.EventCode, req.InstanceID, time.Now())
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"executed": len(outcomes),
		"outcomes": outcomes,
	})
}
