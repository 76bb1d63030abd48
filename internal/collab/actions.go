package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

// handleControlMessage dispatches one decoded JSON text frame per §4.M.
func (h *Hub) handleControlMessage(room *Room, client *Client, msg map[string]interface{}) {
	action, _ := msg["action"].(string)
	switch action {
	case "set_username":
		if client.isController {
			return
		}
		h.handleSetUsername(room, client, msg)
	case "send_chat_message":
		h.handleChatMessage(room, client, msg)
	case "assign_slot":
		if !client.isController {
			return
		}
		h.handleAssignSlot(room, msg)
	case "assign_mk":
		if !client.isController {
			return
		}
		h.handleAssignMK(room, msg)
	case "set_designated_speaker":
		if !client.isController {
			return
		}
		h.handleSetDesignatedSpeaker(room, msg)
	case "video_state", "audio_state":
		msg["sender_token"] = client.token
		room.broadcastJSON(gin.H{"type": "control", "payload": msg})
	case "get_apps":
		if !client.isController {
			return
		}
		h.handleGetApps(room, client)
	case "swap_app":
		if !client.isController {
			return
		}
		h.handleSwapApp(room, msg)
	}
}

func stringField(msg map[string]interface{}, key string) string {
	v, _ := msg[key].(string)
	return v
}

func intPtrField(msg map[string]interface{}, key string) *int {
	v, ok := msg[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

func (h *Hub) handleSetUsername(room *Room, client *Client, msg map[string]interface{}) {
	if !h.usernameLimiter.Allow(client.token, usernameChangeLimit, usernameChangeWindow) {
		return
	}
	newName := sanitizer.Sanitize(stringField(msg, "username"))
	if len(newName) < 1 || len(newName) > 25 {
		return
	}
	oldName := client.username
	if oldName == newName {
		return
	}
	client.username = newName

	err := h.store.Mutate(room.sessionID, func(s *types.Session) error {
		for i := range s.Viewers {
			if s.Viewers[i].Token == client.token {
				s.Viewers[i].Username = newName
			}
		}
		return nil
	})
	if err != nil {
		logger.Collab().Warn().Err(err).Msg("persist username change failed")
		return
	}

	room.broadcastJSON(gin.H{
		"type":         "username_changed",
		"old_username": oldName,
		"new_username": newName,
		"timestamp":    nowMillis(),
	})
	h.broadcastState(room)
}

func (h *Hub) handleChatMessage(room *Room, client *Client, msg map[string]interface{}) {
	text := sanitizer.Sanitize(stringField(msg, "message"))
	if len(text) < 1 || len(text) > 500 {
		return
	}
	hexPart, err := randomHex4()
	if err != nil {
		return
	}
	payload := gin.H{
		"type":         "chat_message",
		"sender":       client.username,
		"message":      text,
		"timestamp_ms": nowMillis(),
		"messageId":    fmt.Sprintf("%d-%s", nowMillis(), hexPart),
	}
	if replyTo, ok := msg["replyTo"]; ok {
		payload["replyTo"] = replyTo
	}
	room.broadcastJSON(payload)
}

// handleAssignSlot mirrors handle_assign_slot in collaboration.py: assigns
// a gamepad slot, preempting any prior holder, with verbatim notifications.
func (h *Hub) handleAssignSlot(room *Room, msg map[string]interface{}) {
	viewerToken := stringField(msg, "viewer_token")
	slot := intPtrField(msg, "slot")

	var notifications []string
	err := h.store.Mutate(room.sessionID, func(s *types.Session) error {
		targetIsController := viewerToken == s.ControllerToken
		var targetUsername string
		var oldSlot *int

		if targetIsController {
			targetUsername = "Controller"
			oldSlot = s.ControllerSlot
		} else {
			for i := range s.Viewers {
				if s.Viewers[i].Token == viewerToken {
					targetUsername = s.Viewers[i].Username
					oldSlot = s.Viewers[i].Slot
					break
				}
			}
		}

		if slot != nil {
			preempted := false
			if s.ControllerSlot != nil && *s.ControllerSlot == *slot && s.ControllerToken != viewerToken {
				s.ControllerSlot = nil
				notifications = append(notifications, fmt.Sprintf("Controller was unassigned from Gamepad %d.", *slot))
				preempted = true
			}
			if !preempted {
				for i := range s.Viewers {
					if s.Viewers[i].Slot != nil && *s.Viewers[i].Slot == *slot && s.Viewers[i].Token != viewerToken {
						s.Viewers[i].Slot = nil
						notifications = append(notifications, fmt.Sprintf("%s was unassigned from Gamepad %d.", s.Viewers[i].Username, *slot))
						break
					}
				}
			}
		}

		if targetIsController {
			s.ControllerSlot = slot
		} else {
			for i := range s.Viewers {
				if s.Viewers[i].Token == viewerToken {
					s.Viewers[i].Slot = slot
				}
			}
		}

		switch {
		case slot != nil && (oldSlot == nil || *oldSlot != *slot):
			notifications = append(notifications, fmt.Sprintf("Gamepad %d was assigned to %s.", *slot, targetUsername))
		case slot == nil && oldSlot != nil:
			notifications = append(notifications, fmt.Sprintf("%s was unassigned from Gamepad %d.", targetUsername, *oldSlot))
		}
		return nil
	})
	if err != nil {
		logger.Collab().Warn().Err(err).Msg("assign_slot failed")
		return
	}

	sess, _ := h.store.Get(room.sessionID)
	h.pushTokenState(context.Background(), sess)
	for _, n := range notifications {
		room.broadcastJSON(gin.H{"type": "gamepad_change", "message": n, "timestamp": nowMillis()})
	}
	h.broadcastState(room)
}

// handleAssignMK mirrors handle_assign_mk: transfers mouse/keyboard control.
func (h *Hub) handleAssignMK(room *Room, msg map[string]interface{}) {
	target := stringField(msg, "token")
	var username string
	var changed bool
	err := h.store.Mutate(room.sessionID, func(s *types.Session) error {
		if target == s.ControllerToken {
			target = ""
		}
		current := ""
		if s.MKOwnerToken != nil {
			current = *s.MKOwnerToken
		}
		if current == target {
			return nil
		}
		changed = true
		if target == "" {
			s.MKOwnerToken = nil
			username = "Controller"
		} else {
			s.MKOwnerToken = &target
			for _, v := range s.Viewers {
				if v.Token == target {
					username = v.Username
					break
				}
			}
		}
		return nil
	})
	if err != nil || !changed {
		if err != nil {
			logger.Collab().Warn().Err(err).Msg("assign_mk failed")
		}
		return
	}

	sess, _ := h.store.Get(room.sessionID)
	h.pushTokenState(context.Background(), sess)
	room.broadcastJSON(gin.H{
		"type":      "mk_change",
		"message":   fmt.Sprintf("Mouse & Keyboard control assigned to %s.", username),
		"timestamp": nowMillis(),
	})
	h.broadcastState(room)
}

func (h *Hub) handleSetDesignatedSpeaker(room *Room, msg map[string]interface{}) {
	speaker := stringField(msg, "token")
	err := h.store.Mutate(room.sessionID, func(s *types.Session) error {
		if speaker == "" {
			s.DesignatedSpeaker = nil
		} else {
			s.DesignatedSpeaker = &speaker
		}
		return nil
	})
	if err != nil {
		logger.Collab().Warn().Err(err).Msg("set_designated_speaker failed")
		return
	}
	h.broadcastState(room)
}

// handleGetApps lists installed apps visible to the session owner, for the
// supplemented in-room app-switch UI.
func (h *Hub) handleGetApps(room *Room, client *Client) {
	sess, ok := h.store.Get(room.sessionID)
	if !ok {
		return
	}
	apps := h.catalog.VisibleApps(sess.Username, "")
	out := make([]gin.H, 0, len(apps))
	for _, a := range apps {
		out = append(out, gin.H{
			"id":     a.ID,
			"name":   a.Name,
			"logo":   a.Logo,
			"active": a.ID == sess.ProviderAppID,
		})
	}
	body, err := json.Marshal(gin.H{"type": "app_list", "apps": out})
	if err != nil {
		return
	}
	sendNonBlocking(client, wsFrame{msgType: websocket.TextMessage, data: body})
}

// handleSwapApp implements the container_registry app-switch supplement:
// launches target_app_id's container, makes it primary, and republishes
// token state to its IP.
func (h *Hub) handleSwapApp(room *Room, msg map[string]interface{}) {
	targetAppID := stringField(msg, "app_id")
	if targetAppID == "" || h.engine == nil {
		return
	}
	sess, ok := h.store.Get(room.sessionID)
	if !ok {
		return
	}
	app, ok := h.catalog.GetApp(targetAppID)
	if !ok {
		room.broadcastJSON(gin.H{"type": "error", "message": "Failed to swap application."})
		return
	}

	instanceID, ip, port, err := h.engine.LaunchAdditionalContainer(context.Background(), targetAppID, sess.CustomUser, sess.Password)
	if err != nil {
		logger.Collab().Warn().Err(err).Str("session_id", room.sessionID).Msg("swap_app launch failed")
		room.broadcastJSON(gin.H{"type": "error", "message": "Failed to swap application."})
		return
	}

	err = h.store.Mutate(room.sessionID, func(s *types.Session) error {
		s.InstanceID = instanceID
		s.IP = ip
		s.Port = port
		s.ProviderAppID = targetAppID
		if !containsStr(s.ContainerRegistry, ip) {
			s.ContainerRegistry = append(s.ContainerRegistry, ip)
		}
		return nil
	})
	if err != nil {
		logger.Collab().Warn().Err(err).Msg("persist swap_app failed")
		return
	}

	sess, _ = h.store.Get(room.sessionID)
	h.pushTokenState(context.Background(), sess)
	room.broadcastJSON(gin.H{"type": "app_swapped", "app_name": app.Name, "timestamp": nowMillis()})
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// handleBinaryFrame implements §4.M's binary relay rules.
func (h *Hub) handleBinaryFrame(room *Room, client *Client, data []byte) {
	if client.permission == types.PermissionReadOnly && !client.isController {
		return
	}
	if len(data) >= maxBinaryFrame {
		logger.Collab().Warn().Int("size", len(data)).Msg("oversized binary frame dropped")
		return
	}
	if len(data) == 0 {
		return
	}

	sess, ok := h.store.Get(room.sessionID)
	if ok && sess.DesignatedSpeaker != nil && data[0] == 0x02 && client.token != *sess.DesignatedSpeaker {
		return
	}

	room.broadcastRaw(wsFrame{msgType: websocket.BinaryMessage, data: data}, client)
}

// broadcastState sends the full viewer/controller roster, matching
// broadcast_state in collaboration.py.
func (h *Hub) broadcastState(room *Room) {
	sess, ok := h.store.Get(room.sessionID)
	if !ok {
		return
	}

	room.mu.Lock()
	controllerOnline := room.controller != nil
	var controllerPublicID interface{}
	if room.controller != nil {
		controllerPublicID = room.controller.publicID
	}
	onlineViewers := make(map[string]*Client, len(room.viewers))
	for tok, c := range room.viewers {
		onlineViewers[tok] = c
	}
	room.mu.Unlock()

	hasMK := sess.MKOwnerToken == nil || *sess.MKOwnerToken == sess.ControllerToken
	users := []gin.H{{
		"token":      sess.ControllerToken,
		"username":   "Controller",
		"slot":       sess.ControllerSlot,
		"online":     controllerOnline,
		"has_mk":     hasMK,
		"permission": "controller",
		"publicId":   controllerPublicID,
	}}

	for _, v := range sess.Viewers {
		online := false
		var publicID interface{}
		if c, ok := onlineViewers[v.Token]; ok {
			online = true
			publicID = c.publicID
		}
		users = append(users, gin.H{
			"token":      v.Token,
			"username":   v.Username,
			"slot":       v.Slot,
			"online":     online,
			"has_mk":     sess.MKOwnerToken != nil && *sess.MKOwnerToken == v.Token,
			"permission": v.Permission,
			"publicId":   publicID,
		})
	}

	room.broadcastJSON(gin.H{
		"type":              "state_update",
		"viewers":           users,
		"designated_speaker": sess.DesignatedSpeaker,
	})
}

// handleDisconnect implements §4.M's disconnect semantics.
func (room *Room) handleDisconnect(h *Hub, client *Client) {
	room.mu.Lock()
	if client.isController {
		room.controller = nil
	} else {
		delete(room.viewers, client.token)
	}
	hadJoined := client.hasJoined
	room.mu.Unlock()

	if client.isController {
		room.broadcastJSON(gin.H{"type": "controller_disconnected"})
	} else {
		h.handleViewerDisconnect(room, client)
	}

	if hadJoined {
		room.broadcastJSON(gin.H{"type": "user_left", "username": client.username, "timestamp": nowMillis()})
	}
	h.broadcastState(room)
	h.dropRoomIfEmpty(room.sessionID)
}

func (h *Hub) handleViewerDisconnect(room *Room, client *Client) {
	var notifications []gin.H
	removed := false
	err := h.store.Mutate(room.sessionID, func(s *types.Session) error {
		if s.DesignatedSpeaker != nil && *s.DesignatedSpeaker == client.token {
			s.DesignatedSpeaker = nil
		}
		for i := range s.Viewers {
			if s.Viewers[i].Token != client.token {
				continue
			}
			if s.Viewers[i].Slot != nil {
				notifications = append(notifications, gin.H{
					"type":      "gamepad_change",
					"message":   fmt.Sprintf("%s disconnected and was unassigned from Gamepad %d.", s.Viewers[i].Username, *s.Viewers[i].Slot),
					"timestamp": nowMillis(),
				})
			}
			break
		}
		if s.MKOwnerToken != nil && *s.MKOwnerToken == client.token {
			s.MKOwnerToken = nil
			notifications = append(notifications, gin.H{
				"type":      "mk_change",
				"message":   fmt.Sprintf("%s disconnected. MK control reverted to Controller.", client.username),
				"timestamp": nowMillis(),
			})
		}
		before := len(s.Viewers)
		kept := s.Viewers[:0]
		for _, v := range s.Viewers {
			if v.Token != client.token {
				kept = append(kept, v)
			}
		}
		s.Viewers = kept
		removed = len(s.Viewers) < before
		return nil
	})
	if err != nil {
		logger.Collab().Warn().Err(err).Msg("viewer disconnect persist failed")
		return
	}
	for _, n := range notifications {
		room.broadcastJSON(n)
	}
	if removed {
		sess, ok := h.store.Get(room.sessionID)
		if ok {
			h.pushTokenState(context.Background(), sess)
		}
	}
}
