package services

import (
	"mwp/internal/models"
	"mwp/pkg/jwt"
)

// Actor 操作人
type Actor struct {
	UserID   uint
	Username string
	IsAdmin  bool
	IsSystem bool // 引擎内部动作（自动流转、升级）
	Roles    []string
}

// SystemActor 引擎自身的操作人身份
func SystemActor() *Actor {
	return &Actor{Username: "system", IsSystem: true}
}

// ActorFromClaims 从JWT声明构造操作人
func ActorFromClaims(claims *jwt.JWTClaims) *Actor {
	return &Actor{
		UserID:   claims.UserID,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
		Roles:    claims.Roles,
	}
}

// PermissionChecker 流转权限判定接口
// 引擎不实现角色逻辑，只问"该操作人能否使用这条流转"
type PermissionChecker interface {
	CanUseTransition(actor *Actor, transition *models.WorkflowTransition, instance *models.WorkflowInstance) bool
}

// RolePermissionChecker 基于流转上角色白名单的默认实现
type RolePermissionChecker struct{}

// NewRolePermissionChecker 创建默认权限判定器
func NewRolePermissionChecker() *RolePermissionChecker {
	return &RolePermissionChecker{}
}

// CanUseTransition 判断操作人能否使用流转
// 系统与管理员不受限；流转未配置角色白名单时任何登录用户可用
func (c *RolePermissionChecker) CanUseTransition(actor *Actor, transition *models.WorkflowTransition, instance *models.WorkflowInstance) bool {
	if actor == nil {
		return false
	}
	if actor.IsSystem || actor.IsAdmin {
		return true
	}
	if len(transition.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range transition.AllowedRoles {
		for _, role := range actor.Roles {
			if role == allowed {
				return true
			}
		}
	}
	return false
}
