package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
)

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail MessageType = "new_mail"
	MessageTypeError   MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Mailbox   string          `json:"mailbox,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// newMailPayload 新邮件通知的数据载荷。正文不随通知下发，
// 客户端收到通知后自行拉取完整邮件。
type newMailPayload struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResolver 校验会话令牌并返回其绑定的邮箱地址。
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	address string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

// Hub 管理所有WebSocket连接，按邮箱地址分发新邮件通知。
type Hub struct {
	clients    map[string]map[*Client]struct{} // address -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	log        *zap.Logger
}

// NewHub 创建WebSocket Hub。
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 64),
		log:        log.Named("websocket"),
	}
}

// Run 驱动 Hub 的注册、注销与广播循环，直到上下文取消。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			return

		case client := <-h.register:
			if h.clients[client.address] == nil {
				h.clients[client.address] = make(map[*Client]struct{})
			}
			h.clients[client.address][client] = struct{}{}
			h.log.Debug("客户端已连接", zap.String("address", client.address))

		case client := <-h.unregister:
			if clients, ok := h.clients[client.address]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.address)
					}
				}
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				continue
			}
			for client := range h.clients[message.Mailbox] {
				select {
				case client.send <- data:
				default:
					// 发送缓冲已满，客户端过慢，丢弃本条通知
				}
			}
		}
	}
}

// NotifyNewMail 向订阅了该邮箱的所有客户端推送新邮件通知。
// 推送是尽力而为的，Hub 繁忙时直接丢弃。
func (h *Hub) NotifyNewMail(address string, message *domain.Message) {
	payload, err := json.Marshal(newMailPayload{
		ID:        message.ID,
		From:      message.From,
		Subject:   message.Subject,
		CreatedAt: message.CreatedAt,
	})
	if err != nil {
		return
	}

	event := &Message{
		Type:      MessageTypeNewMail,
		Mailbox:   address,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("通知队列已满，丢弃新邮件通知", zap.String("address", address))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 令牌已经鉴权，跨域页面拿不到有效令牌
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket 处理 WebSocket 升级请求。
// 客户端以 ?token= 携带会话令牌，连接建立后只会收到
// 令牌绑定邮箱的通知。
func HandleWebSocket(hub *Hub, sessions SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		address, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("WebSocket 升级失败", zap.Error(err))
			return
		}

		client := &Client{
			address: address,
			conn:    conn,
			send:    make(chan []byte, 16),
			hub:     hub,
		}
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// readPump 消费客户端消息。本服务不处理上行数据，
// 读循环只负责探测断连并维护读超时。
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 将通知写入连接，并按周期发送心跳。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
