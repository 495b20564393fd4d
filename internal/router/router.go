package router

import (
	"time"

	"mwp/internal/database"
	"mwp/internal/handlers"
	"mwp/internal/middleware"
	"mwp/internal/services"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// SetupRouter 设置路由
func SetupRouter() *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	registerRoutes(router)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine) {
	db := database.GetDB()
	notifyQueue := database.GetNotifyQueue()

	auth := middleware.NewAuthMiddleware(db)

	userService := services.NewUserService(db)
	definitionService := services.NewDefinitionService(db)
	instanceService := services.NewInstanceService(db, services.NewRolePermissionChecker(), notifyQueue)
	actionEngine := services.NewActionEngine(db, instanceService, notifyQueue)
	statisticsService := services.NewStatisticsService(db)

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// 认证路由（无需登录）
		authHandler := handlers.NewAuthHandler(userService)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/me", auth.RequireLogin(), authHandler.Me)
		}

		// 工作流定义路由
		definitionHandler := handlers.NewWorkflowDefinitionHandler(definitionService)
		definitions := api.Group("/workflow/definitions", auth.RequireLogin())
		{
			definitions.POST("", definitionHandler.Create)
			definitions.GET("", definitionHandler.List)
			definitions.POST("/validate", definitionHandler.Validate)
			definitions.GET("/:id", definitionHandler.GetByID)
			definitions.PUT("/:id", definitionHandler.Update)
			definitions.DELETE("/:id", auth.RequireAdmin(), definitionHandler.Delete)
			definitions.POST("/:id/duplicate", definitionHandler.Duplicate)
			definitions.POST("/:id/enable", definitionHandler.Enable)
			definitions.POST("/:id/disable", definitionHandler.Disable)
			definitions.GET("/:id/revisions", definitionHandler.GetRevisions)
		}

		// 工作流实例路由
		instanceHandler := handlers.NewWorkflowInstanceHandler(instanceService)
		instances := api.Group("/workflow/instances", auth.RequireLogin())
		{
			instances.POST("", instanceHandler.Create)
			instances.GET("", instanceHandler.List)
			instances.GET("/:instanceId", instanceHandler.GetByInstanceID)
			instances.GET("/:instanceId/transitions", instanceHandler.AvailableTransitions)
			instances.POST("/:instanceId/transition", instanceHandler.Transition)
			instances.POST("/:instanceId/pause", instanceHandler.Pause)
			instances.POST("/:instanceId/reactivate", instanceHandler.Reactivate)
			instances.POST("/:instanceId/cancel", instanceHandler.Cancel)
			instances.POST("/:instanceId/comments", instanceHandler.AddComment)
			instances.GET("/:instanceId/comments", instanceHandler.GetComments)
			instances.GET("/:instanceId/history", instanceHandler.GetHistory)
			instances.DELETE("/:instanceId", auth.RequireAdmin(), instanceHandler.Delete)
			instances.DELETE("/:instanceId/purge", auth.RequireAdmin(), instanceHandler.Purge)
		}

		// 工作流动作路由
		actionHandler := handlers.NewWorkflowActionHandler(actionEngine)
		actions := api.Group("/workflow/actions", auth.RequireLogin())
		{
			actions.POST("", actionHandler.Schedule)
			actions.GET("", actionHandler.List)
			actions.GET("/:actionId", actionHandler.GetByActionID)
			actions.POST("/run-due", auth.RequireAdmin(), actionHandler.RunDue)
			actions.POST("/fire-event", actionHandler.FireEvent)
		}

		// 升级调度器路由（仅管理员）
		schedulerHandler := handlers.NewSchedulerHandler()
		scheduler := api.Group("/workflow/scheduler", auth.RequireLogin(), auth.RequireAdmin())
		{
			scheduler.POST("/start", schedulerHandler.Start)
			scheduler.POST("/stop", schedulerHandler.Stop)
			scheduler.POST("/run-once", schedulerHandler.RunOnce)
			scheduler.GET("/status", schedulerHandler.Status)
		}

		// 统计路由
		statisticsHandler := handlers.NewStatisticsHandler(statisticsService)
		statistics := api.Group("/workflow/statistics", auth.RequireLogin())
		{
			statistics.GET("/instances", statisticsHandler.GetInstanceStats)
			statistics.GET("/actions", statisticsHandler.GetActionStats)
			statistics.GET("/definitions", statisticsHandler.GetDefinitionUsage)
		}

		// WebSocket路由（token走查询参数，不经过认证中间件）
		wsHandler := handlers.NewWebSocketHandler(instanceService)
		api.GET("/ws/instances/:instanceId/events", wsHandler.InstanceEvents)
	}
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "MWP",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
