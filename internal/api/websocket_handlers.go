// internal/api/websocket_handlers.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RunsWebSocket 订阅上传和生成任务的进度事件
func (h *Handler) RunsWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("❌ WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	clientID := c.DefaultQuery("client_id", "")
	if clientID == "" || len(clientID) > 64 {
		clientID = uuid.NewString()[:8]
	}

	client := newWebSocketClient(clientID, conn)
	h.WebSocket.register(client)

	go h.WebSocket.writePump(client)

	client.SendMessage(map[string]interface{}{
		"type":      "connected",
		"client_id": clientID,
		"timestamp": time.Now().Format(time.RFC3339),
		"message":   "WebSocket 连接已建立",
	})

	// 阻塞到连接断开
	h.WebSocket.readPump(client)
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSocket.GetStatus())
}
