package response

import (
	"net/http"

	"mwp/pkg/errors"
	"mwp/pkg/pagination"

	"github.com/gin-gonic/gin"
)

// Response 统一返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ========== 基础返回方法 ==========

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 成功返回（自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// SuccessWithPage 分页成功返回
func SuccessWithPage(c *gin.Context, data interface{}, pageInfo *pagination.PageInfo) {
	c.JSON(http.StatusOK, gin.H{
		"code":      errors.CodeSuccess,
		"message":   "success",
		"data":      data,
		"page_info": pageInfo,
	})
}

// Error 通用错误返回
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 错误返回（携带详情，如可用流转列表）
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// ServiceError 按服务层错误类型映射错误码
func ServiceError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *errors.ValidationError:
		ErrorWithData(c, errors.CodeInvalidParam, e.Error(), gin.H{"violations": e.Violations})
	case *errors.NotFoundError:
		Error(c, errors.CodeNotFound, e.Error())
	case *errors.InvalidTransitionError:
		ErrorWithData(c, errors.CodeInvalidParam, e.Error(), gin.H{"allowed_transitions": e.Allowed})
	case *errors.ForbiddenError:
		Error(c, errors.CodeForbidden, e.Error())
	case *errors.ConcurrencyConflictError:
		Error(c, errors.CodeConflict, e.Error())
	case *errors.ConflictError:
		Error(c, errors.CodeConflict, e.Error())
	default:
		Error(c, errors.CodeServerError, err.Error())
	}
}

// ========== HTTP错误快捷方法 ==========

func BadRequest(c *gin.Context, message string) {
	Error(c, errors.CodeInvalidParam, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, errors.CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, errors.CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, errors.CodeNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, errors.CodeServerError, message)
}
