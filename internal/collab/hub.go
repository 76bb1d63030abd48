// Package collab implements CollaborationRoom (§4.M): the shared-session
// room page, its WebSocket control channel, and downstream token-state
// fanout, grounded in original_source/server/app/collaboration.py and
// adapted onto api/internal/handlers/websocket_enterprise.go's hub/client
// pattern.
package collab

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"

	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/controlplane"
	"github.com/streamspace/sealskin/internal/launch"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/ratelimit"
	"github.com/streamspace/sealskin/internal/sessionstore"
	"github.com/streamspace/sealskin/internal/types"
)

// usernameChangeWindow and usernameChangeLimit bound set_username per §4.M.
const (
	usernameChangeWindow = 2 * time.Second
	usernameChangeLimit  = 1
)

var sanitizer = bluemonday.UGCPolicy()

// Hub owns every active Room, keyed by session_id.
type Hub struct {
	store        *sessionstore.Store
	controlPlane controlplane.Client
	catalog      *catalog.Catalog
	engine       *launch.Engine
	cookieName   string

	usernameLimiter *ratelimit.Limiter

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub. engine may be nil if swap_app support is not
// wired; swap_app requests are then ignored without a reply.
func NewHub(store *sessionstore.Store, cp controlplane.Client, cat *catalog.Catalog, engine *launch.Engine, cookieName string) *Hub {
	return &Hub{
		store:           store,
		controlPlane:    cp,
		catalog:         cat,
		engine:          engine,
		cookieName:      cookieName,
		usernameLimiter: ratelimit.New(),
		rooms:           make(map[string]*Room),
	}
}

// roomFor returns the Room for sessionID, creating it if absent.
func (h *Hub) roomFor(sessionID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok {
		r = &Room{sessionID: sessionID, hub: h, viewers: make(map[string]*Client)}
		h.rooms[sessionID] = r
	}
	return r
}

// dropRoomIfEmpty removes a room with no controller and no viewers.
func (h *Hub) dropRoomIfEmpty(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	r.mu.Lock()
	empty := r.controller == nil && len(r.viewers) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, sessionID)
		logger.Collab().Info().Str("session_id", sessionID).Msg("collaboration room cleaned up")
	}
}

// RegisterHTTP wires the room page onto r.
func (h *Hub) RegisterHTTP(r gin.IRouter) {
	r.GET("/room/:sessionID", h.roomPage)
}

// RegisterWS wires the room's WebSocket endpoint onto r.
func (h *Hub) RegisterWS(r gin.IRouter) {
	r.GET("/ws/room/:sessionID", h.roomSocket)
}

// roomPage implements the role-resolution table in §4.M.
func (h *Hub) roomPage(c *gin.Context) {
	sessionID := c.Param("sessionID")
	sess, ok := h.store.Get(sessionID)
	if !ok || !sess.IsCollaboration {
		c.Status(http.StatusNotFound)
		return
	}

	incoming := c.Query("token")
	mainAccessToken := c.Query("access_token")
	if mainAccessToken == "" {
		if ck, err := c.Cookie(h.cookieName); err == nil {
			mainAccessToken = ck
		}
	}

	var role string
	var userToken string
	permission := types.PermissionParticipant

	switch {
	case mainAccessToken != "" && ctEq(mainAccessToken, sess.AccessToken):
		role, userToken = "controller", sess.ControllerToken
	case incoming != "" && ctEq(incoming, sess.ControllerToken):
		role, userToken = "controller", sess.ControllerToken
	case viewerByToken(sess, incoming) != nil:
		v := viewerByToken(sess, incoming)
		role, userToken, permission = "viewer", incoming, v.Permission
	case incoming != "" && ctEq(incoming, sess.ParticipantInviteToken):
		newToken, err := h.admitViewer(sessionID, types.PermissionParticipant)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		redirectWithToken(c, newToken)
		return
	case incoming != "" && ctEq(incoming, sess.ReadonlyInviteToken):
		newToken, err := h.admitViewer(sessionID, types.PermissionReadOnly)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		redirectWithToken(c, newToken)
		return
	default:
		c.Status(http.StatusUnauthorized)
		return
	}

	if role == "controller" && mainAccessToken != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookieName+"_"+sessionID, mainAccessToken, 0, "/"+sessionID, "", true, true)
	}
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie("collab_token_"+sessionID, userToken, 0, "/"+sessionID, "", true, true)

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"user_role":  role,
		"user_token": userToken,
		"permission": permission,
		"iframe_src": fmt.Sprintf("/%s/?token=%s", sessionID, userToken),
	})
}

func redirectWithToken(c *gin.Context, token string) {
	q := c.Request.URL.Query()
	q.Set("token", token)
	c.Redirect(http.StatusSeeOther, c.Request.URL.Path+"?"+q.Encode())
}

func viewerByToken(sess types.Session, token string) *types.Viewer {
	if token == "" {
		return nil
	}
	for i := range sess.Viewers {
		if ctEq(token, sess.Viewers[i].Token) {
			return &sess.Viewers[i]
		}
	}
	return nil
}

func ctEq(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// admitViewer mints a viewer token for the given permission, persists it,
// and pushes updated token state downstream.
func (h *Hub) admitViewer(sessionID string, permission types.Permission) (string, error) {
	token, err := randomURLToken(16)
	if err != nil {
		return "", err
	}
	viewer := types.Viewer{
		Token:      token,
		Username:   fmt.Sprintf("User-%d", randomSmallInt()),
		Permission: permission,
	}
	err = h.store.Mutate(sessionID, func(s *types.Session) error {
		s.Viewers = append(s.Viewers, viewer)
		return nil
	})
	if err != nil {
		return "", err
	}
	sess, _ := h.store.Get(sessionID)
	h.pushTokenState(context.Background(), sess)
	return token, nil
}

// pushTokenState builds the {token: {role, slot, mk_control}} map and POSTs
// it to every distinct container IP in the session's registry, best-effort.
func (h *Hub) pushTokenState(ctx context.Context, sess types.Session) {
	if h.controlPlane == nil {
		return
	}
	tokens := map[string]controlplane.TokenState{
		sess.ControllerToken: {
			Role:      "controller",
			Slot:      sess.ControllerSlot,
			MKControl: sess.MKOwnerToken == nil || *sess.MKOwnerToken == sess.ControllerToken,
		},
	}
	for _, v := range sess.Viewers {
		tokens[v.Token] = controlplane.TokenState{
			Role:      "viewer",
			Slot:      v.Slot,
			MKControl: sess.MKOwnerToken != nil && *sess.MKOwnerToken == v.Token,
		}
	}

	ips := map[string]bool{}
	if sess.IP != "" {
		ips[sess.IP] = true
	}
	for _, ip := range sess.ContainerRegistry {
		ips[ip] = true
	}
	for ip := range ips {
		if err := h.controlPlane.PushTokenState(ctx, ip, sess.MasterToken, tokens); err != nil {
			logger.Collab().Warn().Err(err).Str("ip", ip).Str("session_id", sess.SessionID).Msg("token push failed")
		}
	}
}

func randomURLToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomHex4() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomSmallInt() int {
	buf := make([]byte, 2)
	_, _ = rand.Read(buf)
	return 100 + int(buf[0])%900
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 2 * 1024 * 1024
	maxBinaryFrame = 1024 * 1024
)
