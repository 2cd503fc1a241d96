package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/events"
	"groupchat/internal/models"
	"groupchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	readLimit  = 1 << 20 // 1MB
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Client 是一条 WebSocket 连接；身份在握手时确定，之后不再变化。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	userID  uint
	uname   string
	rooms   map[events.Room]struct{}
	pending map[events.Room]struct{}
	closed  bool
}

// Verifier 校验握手 token。
type Verifier interface {
	Verify(token string) (*models.User, error)
}

// Access 是连接层需要的访问检查。
type Access interface {
	CanAccessChannel(userID, channelID uint) (*service.ChannelAccess, error)
	GroupIDsForUser(userID uint) ([]uint, error)
}

// isPending 需要持有 hub 锁。
func (c *Client) isPending(room events.Room) bool {
	_, ok := c.pending[room]
	return ok
}

func newClient(h *Hub, conn *websocket.Conn, user *models.User) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		id:     uuid.NewString(),
		userID: user.ID,
		uname:  user.Username,
		rooms:  make(map[events.Room]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inbound struct {
	Type      string `json:"type"`
	ChannelID uint   `json:"channel_id"`
}

type errorData struct {
	Code      service.Kind `json:"code"`
	Error     string       `json:"error"`
	Request   string       `json:"request,omitempty"`
	ChannelID uint         `json:"channel_id,omitempty"`
}

type errorFrame struct {
	Type string    `json:"type"`
	Data errorData `json:"data"`
}

// Serve 完成握手：校验 token、登记连接并加入用户所在群组的房间。
func Serve(h *Hub, verifier Verifier, access Access) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.Verify(auth.RequestToken(c.Request))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		// 先登记再读取群组，登记之后提交的邀请由 JoinUser 补上。
		client := newClient(h, conn, user)
		h.Register(client, nil)
		if err := h.JoinGroups(client, func() ([]uint, error) { return access.GroupIDsForUser(user.ID) }); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("ws load groups")
			h.Unregister(client)
			_ = conn.Close()
			return
		}
		log.Debug().Uint("user_id", user.ID).Str("conn_id", client.id).Msg("ws connected")

		go client.writePump()
		client.readPump(access)
	}
}

func (c *Client) readPump(access Access) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		log.Debug().Uint("user_id", c.userID).Str("conn_id", c.id).Msg("ws disconnected")
	}()
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handle(access, data)
	}
}

// handle 处理一条入站帧；错误只回给本连接。
func (c *Client) handle(access Access, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendError(errorData{Code: service.KindValidation, Error: "malformed frame"})
		return
	}
	switch in.Type {
	case "joinChannel":
		err := c.hub.JoinChannelChecked(c, in.ChannelID, func() error {
			_, err := access.CanAccessChannel(c.userID, in.ChannelID)
			return err
		})
		if err != nil {
			c.sendError(errorData{Code: service.KindOf(err), Error: err.Error(), Request: in.Type, ChannelID: in.ChannelID})
		}
	case "leaveChannel":
		c.hub.LeaveChannel(c, in.ChannelID)
	default:
		c.sendError(errorData{Code: service.KindValidation, Error: "unknown frame type", Request: in.Type})
	}
}

func (c *Client) sendError(d errorData) {
	b, err := json.Marshal(errorFrame{Type: "error", Data: d})
	if err != nil {
		return
	}
	if !c.hub.sendTo(c, b) {
		log.Warn().Uint("user_id", c.userID).Str("conn_id", c.id).Msg("ws error frame dropped")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
