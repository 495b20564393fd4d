package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "mwp/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performServiceError(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	ServiceError(c, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestServiceErrorMapping(t *testing.T) {
	t.Run("校验错误携带违反项", func(t *testing.T) {
		status, body := performServiceError(t, apperrors.NewValidationError([]string{"初始状态不能为空"}))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, float64(apperrors.CodeInvalidParam), body["code"])

		data := body["data"].(map[string]interface{})
		violations := data["violations"].([]interface{})
		assert.Equal(t, "初始状态不能为空", violations[0])
	})

	t.Run("非法流转携带可用流转列表", func(t *testing.T) {
		err := apperrors.NewInvalidTransitionError("目标状态不可达", []string{"open -> doing", "open -> closed"})
		_, body := performServiceError(t, err)
		assert.Equal(t, float64(apperrors.CodeInvalidParam), body["code"])

		data := body["data"].(map[string]interface{})
		allowed := data["allowed_transitions"].([]interface{})
		assert.Len(t, allowed, 2)
	})

	t.Run("资源不存在", func(t *testing.T) {
		_, body := performServiceError(t, apperrors.NewNotFoundError("工作流实例", "abc"))
		assert.Equal(t, float64(apperrors.CodeNotFound), body["code"])
	})

	t.Run("无权操作", func(t *testing.T) {
		_, body := performServiceError(t, apperrors.NewForbiddenError("角色不满足流转要求"))
		assert.Equal(t, float64(apperrors.CodeForbidden), body["code"])
	})

	t.Run("并发冲突", func(t *testing.T) {
		_, body := performServiceError(t, apperrors.NewConcurrencyConflictError("实例正被其他操作占用"))
		assert.Equal(t, float64(apperrors.CodeConflict), body["code"])
	})

	t.Run("业务冲突", func(t *testing.T) {
		_, body := performServiceError(t, apperrors.NewConflictError("定义编码已存在"))
		assert.Equal(t, float64(apperrors.CodeConflict), body["code"])
	})

	t.Run("未知错误落入服务器错误", func(t *testing.T) {
		_, body := performServiceError(t, errors.New("boom"))
		assert.Equal(t, float64(apperrors.CodeServerError), body["code"])
	})
}
