// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/TranscriptQA/internal/services"
	"github.com/Corphon/TranscriptQA/internal/utils"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsSendBuffer   = 64
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个订阅运行事件的连接
type WebSocketClient struct {
	id        string
	conn      WebSocketConnection
	send      chan []byte
	done      chan struct{}
	closed    int32 // 0=开启，1=关闭
	lastPing  atomic.Int64
	createdAt time.Time
}

func newWebSocketClient(id string, conn WebSocketConnection) *WebSocketClient {
	client := &WebSocketClient{
		id:        id,
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		client.conn.Close()
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞地放入发送队列；队列满返回 false
func (client *WebSocketClient) enqueue(message []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// SendMessage 序列化后放入发送队列
func (client *WebSocketClient) SendMessage(message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return
	}
	client.enqueue(msgBytes)
}

// WebSocketManager 管理 /ws/runs 的全部连接，并把运行进度广播给它们
type WebSocketManager struct {
	clients     map[*WebSocketClient]struct{}
	broadcast   chan []byte
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewWebSocketManager 创建连接管理器；调用 Run 后才会投递广播
func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketManager{
		clients:     make(map[*WebSocketClient]struct{}),
		broadcast:   make(chan []byte, 256),
		pingTimeout: wsPongWait + wsWriteWait,
		logger:      logger,
	}
}

// Run 主循环：投递广播、定期清理过期连接，ctx 结束时关闭全部连接
func (manager *WebSocketManager) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message := <-manager.broadcast:
			manager.broadcastMessage(message)
		case <-ticker.C:
			manager.cleanupExpiredConnections()
		case <-ctx.Done():
			manager.shutdown()
			return
		}
	}
}

// register 注册新客户端
func (manager *WebSocketManager) register(client *WebSocketClient) {
	manager.mutex.Lock()
	manager.clients[client] = struct{}{}
	total := len(manager.clients)
	manager.mutex.Unlock()

	manager.logger.Info("✅ WebSocket 客户端已连接", map[string]interface{}{"client": client.id, "total": total})
}

// unregister 注销并关闭客户端
func (manager *WebSocketManager) unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	_, exists := manager.clients[client]
	delete(manager.clients, client)
	manager.mutex.Unlock()

	client.Close()
	if exists {
		manager.logger.Info("🔌 WebSocket 客户端已断开连接", map[string]interface{}{"client": client.id})
	}
}

// PublishProgress 把进度更新放入广播队列；在进度跟踪器的锁内调用，所以绝不阻塞
func (manager *WebSocketManager) PublishProgress(update services.ProgressUpdate) {
	msgBytes, err := json.Marshal(map[string]interface{}{
		"type":      "progress",
		"update":    update,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	select {
	case manager.broadcast <- msgBytes:
	default:
		manager.logger.Warn("⚠️ 广播队列已满，进度消息被丢弃", map[string]interface{}{"task_id": update.TaskID})
	}
}

// broadcastMessage 发给所有连接；发送队列已满的慢客户端直接断开
func (manager *WebSocketManager) broadcastMessage(message []byte) {
	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.clients))
	for client := range manager.clients {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(message) && !client.IsClosed() {
			manager.logger.Warn("⚠️ 客户端消息队列已满，断开连接", map[string]interface{}{"client": client.id})
			manager.unregister(client)
		}
	}
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections() int {
	manager.mutex.Lock()
	expired := make([]*WebSocketClient, 0)
	for client := range manager.clients {
		if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
			delete(manager.clients, client)
			expired = append(expired, client)
		}
	}
	manager.mutex.Unlock()

	for _, client := range expired {
		client.Close()
	}
	return len(expired)
}

// shutdown 关闭全部连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	clients := manager.clients
	manager.clients = make(map[*WebSocketClient]struct{})
	manager.mutex.Unlock()

	for client := range clients {
		client.Close()
	}
	manager.logger.Info("🛑 WebSocket 管理器已关闭", map[string]interface{}{"closed": len(clients)})
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	clients := make([]map[string]interface{}, 0, len(manager.clients))
	for client := range manager.clients {
		if client.IsClosed() {
			continue
		}
		clients = append(clients, map[string]interface{}{
			"client_id":    client.id,
			"connected_at": client.createdAt.Format(time.RFC3339),
			"last_ping":    time.Unix(0, client.lastPing.Load()).Format(time.RFC3339),
		})
	}

	return map[string]interface{}{
		"total_connections": len(clients),
		"clients":           clients,
	}
}

// readPump 读取客户端消息直到连接断开
func (manager *WebSocketManager) readPump(client *WebSocketClient) {
	defer manager.unregister(client)

	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				manager.logger.Warn("⚠️ WebSocket 读取错误", map[string]interface{}{"client": client.id, "error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			client.SendMessage(map[string]interface{}{
				"type":      "error",
				"error":     "invalid message",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			continue
		}
		if msgType, _ := message["type"].(string); msgType == "ping" {
			client.SendMessage(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Unix(),
			})
		}
	}
}

// writePump 把发送队列写到连接上，并定期发送 ping
func (manager *WebSocketManager) writePump(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
