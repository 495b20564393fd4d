package main

import (
	"encoding/json"
	"fmt"

	"mwp/internal/database"
	"mwp/internal/models"
	"mwp/pkg/logger"

	"gorm.io/gorm"
)

// seedData 初始化种子数据
func seedData() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	db := database.GetDB()

	// 1. 创建默认管理员用户
	if err := createDefaultAdmin(db); err != nil {
		return fmt.Errorf("创建默认管理员失败: %v", err)
	}

	// 2. 创建示例维修工作流定义
	if err := createSampleDefinition(db); err != nil {
		return fmt.Errorf("创建示例工作流定义失败: %v", err)
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}

// createDefaultAdmin 创建默认管理员用户
func createDefaultAdmin(db *gorm.DB) error {
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("默认管理员已存在，跳过创建")
		return nil
	}

	admin := &models.User{
		Username: "admin",
		Email:    "admin@mwp.local",
		Name:     "系统管理员",
		Status:   models.UserStatusActive,
		IsAdmin:  true,
	}
	if err := admin.SetPassword("Admin@123"); err != nil {
		return err
	}
	if err := admin.SetRoleCodes([]string{"admin"}); err != nil {
		return err
	}

	if err := db.Create(admin).Error; err != nil {
		return err
	}

	logger.GetLogger().Info("默认管理员创建成功（用户名: admin）")
	return nil
}

// createSampleDefinition 创建示例维修工单流程
func createSampleDefinition(db *gorm.DB) error {
	var count int64
	db.Model(&models.WorkflowDefinition{}).Where("code = ?", "repair-order").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("示例工作流定义已存在，跳过创建")
		return nil
	}

	graph := models.WorkflowGraph{
		States: []models.WorkflowState{
			{ID: "reported", Name: "已上报"},
			{ID: "assigned", Name: "已派单"},
			{ID: "in_progress", Name: "维修中"},
			{ID: "review", Name: "待验收"},
			{ID: "done", Name: "已完成"},
			{ID: "rejected", Name: "已驳回"},
		},
		Transitions: []models.WorkflowTransition{
			{FromStateID: "reported", ToStateID: "assigned", Label: "派单", AllowedRoles: []string{"dispatcher"}},
			{FromStateID: "assigned", ToStateID: "in_progress", Label: "开始维修", AllowedRoles: []string{"technician"}},
			{FromStateID: "in_progress", ToStateID: "review", Label: "提交验收", AllowedRoles: []string{"technician"}},
			{FromStateID: "review", ToStateID: "done", Label: "验收通过", AllowedRoles: []string{"supervisor"}},
			{FromStateID: "review", ToStateID: "in_progress", Label: "验收不通过", AllowedRoles: []string{"supervisor"}},
			{FromStateID: "reported", ToStateID: "rejected", Label: "驳回", AllowedRoles: []string{"dispatcher"}},
		},
		InitialStateID: "reported",
		FinalStateIDs:  []string{"done", "rejected"},
	}

	graphJSON, err := json.Marshal(&graph)
	if err != nil {
		return err
	}

	definition := &models.WorkflowDefinition{
		Name:        "维修工单流程",
		Code:        "repair-order",
		Description: "设备报修到验收完成的标准流程",
		Type:        "repair",
		Category:    "maintenance",
		Graph:       models.JSON(graphJSON),
		Version:     1,
		IsActive:    true,
	}

	if err := db.Create(definition).Error; err != nil {
		return err
	}

	logger.GetLogger().Info("示例工作流定义创建成功（代码: repair-order）")
	return nil
}
