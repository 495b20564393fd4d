package errors

import (
	"fmt"
	"strings"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// ========== 工作流引擎错误类型 ==========

// ValidationError 定义结构校验错误，携带全部违反的约束
type ValidationError struct {
	Violations []string `json:"violations"`
}

func (e *ValidationError) Error() string {
	return "定义校验失败: " + strings.Join(e.Violations, "; ")
}

// NewValidationError 创建校验错误
func NewValidationError(violations []string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// NotFoundError 资源不存在错误
type NotFoundError struct {
	Resource string // definition/instance/action
	ID       interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s不存在: %v", e.Resource, e.ID)
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(resource string, id interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// InvalidTransitionError 非法流转错误，携带当前可用的流转供调用方自纠
type InvalidTransitionError struct {
	Reason  string
	Allowed []string `json:"allowed_transitions"`
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return "非法流转: " + e.Reason
	}
	return fmt.Sprintf("非法流转: %s，当前可用流转: %s", e.Reason, strings.Join(e.Allowed, ", "))
}

// NewInvalidTransitionError 创建非法流转错误
func NewInvalidTransitionError(reason string, allowed []string) *InvalidTransitionError {
	return &InvalidTransitionError{Reason: reason, Allowed: allowed}
}

// ForbiddenError 无权执行操作
type ForbiddenError struct {
	Detail string
}

func (e *ForbiddenError) Error() string {
	return "无权操作: " + e.Detail
}

// NewForbiddenError 创建无权操作错误
func NewForbiddenError(detail string) *ForbiddenError {
	return &ForbiddenError{Detail: detail}
}

// ConcurrencyConflictError 并发冲突错误（锁竞争或版本失效）
type ConcurrencyConflictError struct {
	Detail string
}

func (e *ConcurrencyConflictError) Error() string {
	return "并发冲突: " + e.Detail
}

// NewConcurrencyConflictError 创建并发冲突错误
func NewConcurrencyConflictError(detail string) *ConcurrencyConflictError {
	return &ConcurrencyConflictError{Detail: detail}
}

// ConflictError 业务冲突错误（如删除仍有活跃实例的定义）
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return "操作冲突: " + e.Detail
}

// NewConflictError 创建业务冲突错误
func NewConflictError(detail string) *ConflictError {
	return &ConflictError{Detail: detail}
}

// ActionExecutionError 动作执行错误，携带是否可重试
type ActionExecutionError struct {
	ActionID  string
	Retryable bool
	Cause     error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("动作 %s 执行失败: %v", e.ActionID, e.Cause)
}

// Unwrap 支持 errors.Is/As 链式匹配
func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}

// NewActionExecutionError 创建动作执行错误
func NewActionExecutionError(actionID string, retryable bool, cause error) *ActionExecutionError {
	return &ActionExecutionError{ActionID: actionID, Retryable: retryable, Cause: cause}
}
