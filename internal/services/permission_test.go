package services

import (
	"testing"

	"mwp/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissionChecker(t *testing.T) {
	checker := NewRolePermissionChecker()
	instance := &models.WorkflowInstance{}

	restricted := &models.WorkflowTransition{
		FromStateID:  "review",
		ToStateID:    "done",
		AllowedRoles: []string{"supervisor"},
	}
	open := &models.WorkflowTransition{
		FromStateID: "open",
		ToStateID:   "doing",
	}

	t.Run("nil操作人拒绝", func(t *testing.T) {
		assert.False(t, checker.CanUseTransition(nil, restricted, instance))
	})

	t.Run("系统身份不受限", func(t *testing.T) {
		assert.True(t, checker.CanUseTransition(SystemActor(), restricted, instance))
	})

	t.Run("管理员不受限", func(t *testing.T) {
		admin := &Actor{UserID: 1, Username: "admin", IsAdmin: true}
		assert.True(t, checker.CanUseTransition(admin, restricted, instance))
	})

	t.Run("未配置角色白名单时任何用户可用", func(t *testing.T) {
		user := &Actor{UserID: 2, Username: "tech", Roles: []string{"technician"}}
		assert.True(t, checker.CanUseTransition(user, open, instance))
	})

	t.Run("角色命中白名单放行", func(t *testing.T) {
		supervisor := &Actor{UserID: 3, Username: "sup", Roles: []string{"supervisor", "technician"}}
		assert.True(t, checker.CanUseTransition(supervisor, restricted, instance))
	})

	t.Run("角色未命中白名单拒绝", func(t *testing.T) {
		technician := &Actor{UserID: 4, Username: "tech", Roles: []string{"technician"}}
		assert.False(t, checker.CanUseTransition(technician, restricted, instance))
	})

	t.Run("无角色用户被白名单流转拒绝", func(t *testing.T) {
		nobody := &Actor{UserID: 5, Username: "guest"}
		assert.False(t, checker.CanUseTransition(nobody, restricted, instance))
	})
}
