package models

import (
	"encoding/json"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User 用户模型
// 认证只是引擎的外围：用户只承载操作人引用与角色编码，角色逻辑不在引擎内
type User struct {
	BaseModel
	Username     string     `json:"username" gorm:"unique;not null;size:50;index"`
	Email        string     `json:"email" gorm:"unique;not null;size:100;index"`
	PasswordHash string     `json:"-" gorm:"not null;size:255"`
	Name         string     `json:"name" gorm:"not null;size:100"`
	Status       string     `json:"status" gorm:"default:'active';size:20"`
	IsAdmin      bool       `json:"is_admin" gorm:"default:false"`
	Roles        JSON       `json:"roles" gorm:"type:jsonb"` // 角色编码数组
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// TableName 表名
func (u *User) TableName() string {
	return "users"
}

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// SetPassword 设置密码
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword 验证密码
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// RoleCodes 解析角色编码数组
func (u *User) RoleCodes() []string {
	if len(u.Roles) == 0 {
		return nil
	}
	var codes []string
	if err := json.Unmarshal(u.Roles, &codes); err != nil {
		return nil
	}
	return codes
}

// SetRoleCodes 设置角色编码数组
func (u *User) SetRoleCodes(codes []string) error {
	data, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	u.Roles = data
	return nil
}
