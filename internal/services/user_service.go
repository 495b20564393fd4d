package services

import (
	"errors"

	"mwp/internal/models"
	apperrors "mwp/pkg/errors"

	"gorm.io/gorm"
)

// UserService 用户服务
type UserService struct {
	db *gorm.DB
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Username string   `json:"username" binding:"required,min=3,max=50"`
	Password string   `json:"password" binding:"required,min=6"`
	Email    string   `json:"email" binding:"required,email"`
	Name     string   `json:"name"`
	IsAdmin  bool     `json:"is_admin"`
	Roles    []string `json:"roles"`
}

// Create 创建用户
func (s *UserService) Create(req CreateUserRequest) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperrors.NewConflictError("用户名或邮箱已存在")
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		IsAdmin:  req.IsAdmin,
		Status:   models.UserStatusActive,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, err
	}
	if err := user.SetRoleCodes(req.Roles); err != nil {
		return nil, err
	}

	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate 校验用户名密码，成功后更新最后登录时间
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewForbiddenError("用户名或密码错误")
		}
		return nil, err
	}

	if user.Status != models.UserStatusActive {
		return nil, apperrors.NewForbiddenError("账号已禁用")
	}

	if !user.CheckPassword(password) {
		return nil, apperrors.NewForbiddenError("用户名或密码错误")
	}

	s.db.Model(&user).Update("last_login_at", gorm.Expr("CURRENT_TIMESTAMP"))

	return &user, nil
}

// GetByID 按ID获取用户
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("用户", id)
		}
		return nil, err
	}
	return &user, nil
}

// CountUsers 用户总数，用于判断是否需要种子数据
func (s *UserService) CountUsers() (int64, error) {
	var count int64
	err := s.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
