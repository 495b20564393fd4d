package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"mwp/internal/database"
	"mwp/internal/services"
	"mwp/pkg/config"
	"mwp/pkg/jwt"
	"mwp/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler WebSocket处理器：向客户端推送实例事件
type WebSocketHandler struct {
	upgrader        websocket.Upgrader
	instanceService *services.InstanceService
	log             *logrus.Logger
	jwtManager      *jwt.JWTManager
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(instanceService *services.InstanceService) *WebSocketHandler {
	cfg := config.GetConfig()
	allowedOrigins := cfg.CORS.AllowOrigins

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				for _, allowed := range allowedOrigins {
					if allowed == "*" {
						return true
					}
				}

				// 同源请求Origin为空
				if origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if matchOrigin(origin, allowed) {
						return true
					}
				}

				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 32,
			WriteBufferSize: 1024 * 32,
		},
		instanceService: instanceService,
		log:             logger.GetLogger(),
		jwtManager:      jwt.GetJWTManager(),
	}
}

// InstanceEvents 推送单个实例的事件流
func (h *WebSocketHandler) InstanceEvents(c *gin.Context) {
	instanceID := c.Param("instanceId")
	if instanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "实例ID不能为空"})
		return
	}

	// WebSocket客户端无法自定义header，token走查询参数
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
		return
	}

	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌"})
		return
	}

	instance, err := h.instanceService.GetByInstanceID(instanceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "实例不存在"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("WebSocket升级失败")
		return
	}
	defer conn.Close()

	h.log.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"user_id":     claims.UserID,
	}).Info("实例事件WebSocket连接建立")

	h.streamEvents(conn, instance.InstanceID, claims)
}

// streamEvents 订阅Redis事件频道并按实例过滤转发
func (h *WebSocketHandler) streamEvents(conn *websocket.Conn, instanceID string, claims *jwt.JWTClaims) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifyQueue := database.GetNotifyQueue()
	if notifyQueue == nil {
		h.log.Error("通知队列未初始化，无法推送实例事件")
		return
	}

	pubsub := notifyQueue.Subscribe(ctx, "instances")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.WithError(err).Error("订阅实例事件频道失败")
		return
	}

	go h.readPump(conn, cancel)

	ch := pubsub.Channel()

	const writeTimeout = 10 * time.Second

	pingTicker := time.NewTicker(60 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg := <-ch:
			if msg == nil {
				continue
			}

			var event services.InstanceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.WithError(err).Error("解析实例事件失败")
				continue
			}

			// 频道承载全部实例事件，只转发当前订阅的实例
			if event.InstanceID != instanceID {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).Error("推送实例事件失败")
				return
			}

			// 实例完结后结束推送
			if event.EventType == "completed" || event.EventType == "cancelled" {
				h.log.WithField("instance_id", instanceID).Info("实例已完结，关闭事件推送")
				return
			}
		}
	}
}

// readPump 处理客户端消息，主要维持ping/pong
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 300 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Error("WebSocket异常断开")
			}
			break
		}
	}
}

// matchOrigin 检查origin是否匹配allowed模式
// 支持精确匹配和通配符匹配（如 *.example.com）
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := allowed[2:]

		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}
		if idx := strings.Index(originHost, ":"); idx != -1 {
			originHost = originHost[:idx]
		}

		if originHost == domain {
			return true
		}
		if strings.HasSuffix(originHost, "."+domain) {
			return true
		}
	}

	return false
}
