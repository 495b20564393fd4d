package handlers

import (
	"strconv"

	"mwp/internal/models"
	"mwp/internal/services"
	"mwp/pkg/jwt"
	"mwp/pkg/pagination"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// WorkflowDefinitionHandler 工作流定义处理器
type WorkflowDefinitionHandler struct {
	definitionService *services.DefinitionService
}

// NewWorkflowDefinitionHandler 创建工作流定义处理器
func NewWorkflowDefinitionHandler(definitionService *services.DefinitionService) *WorkflowDefinitionHandler {
	return &WorkflowDefinitionHandler{definitionService: definitionService}
}

// Create 创建工作流定义
func (h *WorkflowDefinitionHandler) Create(c *gin.Context) {
	var req services.CreateDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	claims := c.MustGet("claims").(*jwt.JWTClaims)

	definition, err := h.definitionService.Create(claims.UserID, req)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "创建成功", definition)
}

// Update 更新工作流定义
func (h *WorkflowDefinitionHandler) Update(c *gin.Context) {
	definitionID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的定义ID")
		return
	}

	var req services.UpdateDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	claims := c.MustGet("claims").(*jwt.JWTClaims)

	definition, err := h.definitionService.Update(definitionID, claims.UserID, req)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "更新成功", definition)
}

// Delete 删除工作流定义
func (h *WorkflowDefinitionHandler) Delete(c *gin.Context) {
	definitionID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的定义ID")
		return
	}

	if err := h.definitionService.Delete(definitionID); err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// GetByID 获取工作流定义详情
func (h *WorkflowDefinitionHandler) GetByID(c *gin.Context) {
	definitionID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的定义ID")
		return
	}

	definition, err := h.definitionService.GetByID(definitionID)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, definition)
}

// List 获取工作流定义列表
func (h *WorkflowDefinitionHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	search := c.Query("search")
	activeOnly := c.Query("active_only") == "true"

	definitions, total, err := h.definitionService.List(params, search, activeOnly)
	if err != nil {
		response.ServerError(c, "获取定义列表失败")
		return
	}

	pageInfo := pagination.NewPageInfo(params.Page, params.PageSize, total)
	response.SuccessWithPage(c, definitions, pageInfo)
}

// Duplicate 复制工作流定义
func (h *WorkflowDefinitionHandler) Duplicate(c *gin.Context) {
	definitionID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的定义ID")
		return
	}

	var req struct {
		Code string `json:"code" binding:"required,max=100"`
		Name string `json:"name" binding:"required,max=200"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	claims := c.MustGet("claims").(*jwt.JWTClaims)

	definition, err := h.definitionService.Duplicate(definitionID, claims.UserID, req.Code, req.Name)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "复制成功", definition)
}

// Enable 启用工作流定义
func (h *WorkflowDefinitionHandler) Enable(c *gin.Context) {
	h.setActive(c, true)
}

// Disable 停用工作流定义
func (h *WorkflowDefinitionHandler) Disable(c *gin.Context) {
	h.setActive(c, false)
}

func (h *WorkflowDefinitionHandler) setActive(c *gin.Context, active bool) {
	definitionID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的定义ID")
		return
	}

	claims := c.MustGet("claims").(*jwt.JWTClaims)

	if active {
		err = h.definitionService.Enable(definitionID, claims.UserID)
	} else {
		err = h.definitionService.Disable(definitionID, claims.UserID)
	}
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "操作成功", nil)
}

// GetRevisions 获取定义的历史版本快照
func (h *WorkflowDefinitionHandler) GetRevisions(c *gin.Context) {
	definitionID, err := parseUintParam(c, "id")
	if err != nil {
		response.BadRequest(c, "无效的定义ID")
		return
	}

	params := pagination.ParsePageParams(c)

	revisions, total, err := h.definitionService.GetRevisions(definitionID, params)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	pageInfo := pagination.NewPageInfo(params.Page, params.PageSize, total)
	response.SuccessWithPage(c, revisions, pageInfo)
}

// Validate 只校验图结构，不落库
func (h *WorkflowDefinitionHandler) Validate(c *gin.Context) {
	var graph models.WorkflowGraph
	if err := c.ShouldBindJSON(&graph); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	if err := h.definitionService.ValidateGraph(&graph); err != nil {
		response.ServiceError(c, err)
		return
	}

	response.SuccessWithMessage(c, "校验通过", nil)
}

// parseUintParam 解析路径中的数字ID
func parseUintParam(c *gin.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}
