package collab

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

// wsFrame is one outbound frame queued on a Client's send channel.
type wsFrame struct {
	msgType int
	data    []byte
}

// Client is a single socket connected to a Room, either the controller or
// one viewer.
type Client struct {
	conn         *websocket.Conn
	send         chan wsFrame
	token        string
	username     string
	isController bool
	permission   types.Permission
	publicID     string

	hasJoined bool
}

// Room is the set of sockets collaborating on one session.
type Room struct {
	sessionID string
	hub       *Hub

	mu         sync.Mutex
	controller *Client
	viewers    map[string]*Client
}

func (h *Hub) roomSocket(c *gin.Context) {
	sessionID := c.Param("sessionID")
	token := c.Query("token")

	sess, ok := h.store.Get(sessionID)
	if !ok || !sess.IsCollaboration {
		c.Status(http.StatusNotFound)
		return
	}

	isController := ctEq(token, sess.ControllerToken)
	viewer := viewerByToken(sess, token)
	if !isController && viewer == nil {
		c.Status(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	username := "Controller"
	permission := types.PermissionParticipant
	if viewer != nil {
		username = viewer.Username
		permission = viewer.Permission
	}
	publicID, _ := randomHex4()

	client := &Client{
		conn:         conn,
		send:         make(chan wsFrame, 64),
		token:        token,
		username:     username,
		isController: isController,
		permission:   permission,
		publicID:     publicID,
	}

	room := h.roomFor(sessionID)
	room.mu.Lock()
	if isController {
		room.controller = client
	} else {
		room.viewers[token] = client
	}
	room.mu.Unlock()

	go client.writePump()

	room.broadcastJSON(gin.H{
		"type":      "user_joined",
		"username":  username,
		"timestamp": nowMillis(),
	})
	client.hasJoined = true
	h.broadcastState(room)

	room.readPump(h, client)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(frame.msgType, frame.data); err != nil {
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

// readPump blocks reading frames from client until the socket closes, then
// performs §4.M's disconnect semantics.
func (room *Room) readPump(h *Hub, client *Client) {
	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	defer room.handleDisconnect(h, client)

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			h.handleControlMessage(room, client, msg)
		case websocket.BinaryMessage:
			h.handleBinaryFrame(room, client, data)
		}
	}
}

func (room *Room) broadcastJSON(payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	room.broadcastRaw(wsFrame{msgType: websocket.TextMessage, data: body}, nil)
}

// broadcastRaw sends frame to every member except excluded (if non-nil).
func (room *Room) broadcastRaw(frame wsFrame, excluded *Client) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.controller != nil && room.controller != excluded {
		sendNonBlocking(room.controller, frame)
	}
	for _, v := range room.viewers {
		if v != excluded {
			sendNonBlocking(v, frame)
		}
	}
}

func sendNonBlocking(c *Client, frame wsFrame) {
	select {
	case c.send <- frame:
	default:
		logger.Collab().Warn().Msg("client send buffer full, dropping frame")
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
