package handlers

import (
	"mwp/internal/services"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// StatisticsHandler 统计处理器
type StatisticsHandler struct {
	statisticsService *services.StatisticsService
}

// NewStatisticsHandler 创建统计处理器
func NewStatisticsHandler(statisticsService *services.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService}
}

// GetInstanceStats 实例统计
func (h *StatisticsHandler) GetInstanceStats(c *gin.Context) {
	stats, err := h.statisticsService.GetInstanceStats()
	if err != nil {
		response.ServerError(c, "获取实例统计失败")
		return
	}

	response.Success(c, stats)
}

// GetActionStats 动作统计
func (h *StatisticsHandler) GetActionStats(c *gin.Context) {
	stats, err := h.statisticsService.GetActionStats()
	if err != nil {
		response.ServerError(c, "获取动作统计失败")
		return
	}

	response.Success(c, stats)
}

// GetDefinitionUsage 各定义的使用统计
func (h *StatisticsHandler) GetDefinitionUsage(c *gin.Context) {
	usage, err := h.statisticsService.GetDefinitionUsage()
	if err != nil {
		response.ServerError(c, "获取定义使用统计失败")
		return
	}

	response.Success(c, usage)
}
