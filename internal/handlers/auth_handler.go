package handlers

import (
	"mwp/internal/services"
	"mwp/pkg/jwt"
	"mwp/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	userService *services.UserService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(userService *services.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// Login 登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	user, err := h.userService.Authenticate(req.Username, req.Password)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	manager := jwt.GetJWTManager()
	token, err := manager.GenerateToken(user.ID, user.Username, user.IsAdmin, user.RoleCodes())
	if err != nil {
		response.ServerError(c, "生成令牌失败")
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"expires_in": int(manager.GetTokenDuration().Seconds()),
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"name":     user.Name,
			"is_admin": user.IsAdmin,
			"roles":    user.RoleCodes(),
		},
	})
}

// Refresh 刷新令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	newToken, err := jwt.GetJWTManager().RefreshToken(req.Token)
	if err != nil {
		response.Unauthorized(c, "令牌无效或已过期")
		return
	}

	response.Success(c, gin.H{"token": newToken})
}

// Me 当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	claims := c.MustGet("claims").(*jwt.JWTClaims)

	user, err := h.userService.GetByID(claims.UserID)
	if err != nil {
		response.ServiceError(c, err)
		return
	}

	response.Success(c, user)
}
