package handlers

import (
	"time"

	"mwp/internal/services"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// SchedulerHandler 升级调度器处理器
type SchedulerHandler struct{}

// NewSchedulerHandler 创建升级调度器处理器
func NewSchedulerHandler() *SchedulerHandler {
	return &SchedulerHandler{}
}

// Start 启动调度器
func (h *SchedulerHandler) Start(c *gin.Context) {
	scheduler := services.GetEscalationScheduler()
	if scheduler == nil {
		response.ServerError(c, "调度器未初始化")
		return
	}

	if err := scheduler.Start(); err != nil {
		response.ServerError(c, "启动调度器失败: "+err.Error())
		return
	}

	response.SuccessWithMessage(c, "调度器已启动", nil)
}

// Stop 停止调度器
func (h *SchedulerHandler) Stop(c *gin.Context) {
	scheduler := services.GetEscalationScheduler()
	if scheduler == nil {
		response.ServerError(c, "调度器未初始化")
		return
	}

	scheduler.Stop()
	response.SuccessWithMessage(c, "调度器已停止", nil)
}

// RunOnce 立即执行一次扫描
func (h *SchedulerHandler) RunOnce(c *gin.Context) {
	scheduler := services.GetEscalationScheduler()
	if scheduler == nil {
		response.ServerError(c, "调度器未初始化")
		return
	}

	report := scheduler.RunOnce(time.Now())
	response.Success(c, report)
}

// Status 获取调度器状态
func (h *SchedulerHandler) Status(c *gin.Context) {
	scheduler := services.GetEscalationScheduler()
	if scheduler == nil {
		response.ServerError(c, "调度器未初始化")
		return
	}

	stats, err := scheduler.Stats()
	if err != nil {
		response.ServerError(c, "获取调度器状态失败")
		return
	}

	response.Success(c, stats)
}
