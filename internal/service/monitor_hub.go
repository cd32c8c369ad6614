package service

import (
	"context"
	"encoding/json"
	"exam_portal_backend/pkg/logger"
	"exam_portal_backend/pkg/monitoring"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	monitorChannel = "exam_monitor_channel"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 监考事件类型
const (
	EventStarted   = "EXAM_STARTED"
	EventSubmitted = "EXAM_SUBMITTED"
	EventGraded    = "EXAM_GRADED"
)

// ExamEvent 推送给监考端的事件
type ExamEvent struct {
	Type         string    `json:"type"`
	ExamID       string    `json:"examId"`
	SubmissionID string    `json:"submissionId"`
	StudentID    uint      `json:"studentId"`
	TotalMarks   int       `json:"totalMarks,omitempty"`
	IsTimeout    bool      `json:"isTimeout,omitempty"`
	At           time.Time `json:"at"`
}

func recordSubmission(trigger string) {
	monitoring.SubmissionCounter.WithLabelValues(trigger).Inc()
}

// MonitorClient 一条监考端连接，按试卷订阅
type MonitorClient struct {
	Hub    *MonitorHub
	Conn   *websocket.Conn
	Send   chan []byte
	ExamID string
	UserID uint
}

// 监考端是只收不发的，上行消息只用于维持连接
func (c *MonitorClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.UserID))
			}
			break
		}
	}
}

func (c *MonitorClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// MonitorHub 监考事件的扇出中心：按 examID 分房间，事件经 Redis
// Pub/Sub 跨实例转发后推给本地订阅该试卷的连接。Redis 关闭时退化为
// 单实例本地广播。
type MonitorHub struct {
	mu       sync.RWMutex
	watchers map[string]map[*MonitorClient]bool // examID -> clients

	register   chan *MonitorClient
	unregister chan *MonitorClient
	done       chan struct{}

	Redis *redis.Client
	ctx   context.Context
}

func NewMonitorHub(rdb *redis.Client) *MonitorHub {
	return &MonitorHub{
		watchers:   make(map[string]map[*MonitorClient]bool),
		register:   make(chan *MonitorClient),
		unregister: make(chan *MonitorClient),
		done:       make(chan struct{}),
		Redis:      rdb,
		ctx:        context.Background(),
	}
}

func (h *MonitorHub) Run() {
	if h.Redis != nil {
		pubsub := h.Redis.Subscribe(h.ctx, monitorChannel)
		go func() {
			ch := pubsub.Channel()
			for msg := range ch {
				var ev ExamEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Log.Error("PubSub unmarshal error", zap.Error(err))
					continue
				}
				h.pushLocal(&ev, []byte(msg.Payload))
			}
		}()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.watchers[client.ExamID] == nil {
				h.watchers[client.ExamID] = make(map[*MonitorClient]bool)
			}
			h.watchers[client.ExamID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.watchers[client.ExamID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.watchers, client.ExamID)
					}
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

// Unregister 摘除一条监考连接。Stop 之后 Run 已退出没有消费方，
// 此时直接丢弃，避免收尾的 readPump 永远阻塞在 unregister 通道上
func (h *MonitorHub) Unregister(c *MonitorClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stop 关闭全部监考连接
func (h *MonitorHub) Stop() {
	close(h.done)

	h.mu.Lock()
	closed := 0
	for examID, clients := range h.watchers {
		for client := range clients {
			close(client.Send)
			closed++
		}
		delete(h.watchers, examID)
	}
	h.mu.Unlock()

	logger.Log.Info("MonitorHub stopped", zap.Int("closedConnections", closed))
}

// Publish 发布监考事件。走 Redis 时由订阅回调落到本地连接，
// 保证多实例部署下任一实例的监考端都能收到。
func (h *MonitorHub) Publish(ctx context.Context, ev ExamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("monitor event marshal error", zap.Error(err))
		return
	}

	monitoring.MonitorEventCounter.WithLabelValues(ev.Type).Inc()

	if h.Redis != nil {
		if err := h.Redis.Publish(ctx, monitorChannel, payload).Err(); err != nil {
			logger.Log.Error("monitor event publish error", zap.Error(err))
		}
		return
	}
	h.pushLocal(&ev, payload)
}

func (h *MonitorHub) pushLocal(ev *ExamEvent, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.watchers[ev.ExamID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// WatcherCount 某试卷当前的本地监考连接数
func (h *MonitorHub) WatcherCount(examID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[examID])
}

func ServeMonitorWs(hub *MonitorHub, w http.ResponseWriter, r *http.Request, examID string, userID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", userID))
		return
	}
	client := &MonitorClient{
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		ExamID: examID,
		UserID: userID,
	}
	select {
	case client.Hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
