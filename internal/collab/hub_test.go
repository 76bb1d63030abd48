package collab

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/controlplane"
	"github.com/streamspace/sealskin/internal/sessionstore"
	"github.com/streamspace/sealskin/internal/types"
)

func newTestHub(t *testing.T) (*Hub, *sessionstore.Store, *controlplane.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	store, err := sessionstore.Load(filepath.Join(dir, "sessions.yaml"))
	require.NoError(t, err)
	cat, err := catalog.Load(filepath.Join(dir, "apps.yaml"), filepath.Join(dir, "templates"))
	require.NoError(t, err)
	cp := &controlplane.Fake{}
	hub := NewHub(store, cp, cat, nil, "sealskin_session_token")
	return hub, store, cp
}

func putCollabSession(t *testing.T, store *sessionstore.Store, id string) types.Session {
	t.Helper()
	sess := types.Session{
		SessionID:              id,
		AccessToken:            "main-access-token",
		IP:                     "10.0.0.5",
		IsCollaboration:        true,
		ControllerToken:        "controller-token",
		ParticipantInviteToken: "participant-invite",
		ReadonlyInviteToken:    "readonly-invite",
	}
	require.NoError(t, store.Put(sess))
	return sess
}

func TestRoomPage_ControllerViaAccessToken(t *testing.T) {
	hub, store, _ := newTestHub(t)
	putCollabSession(t, store, "sess1")

	w, c := testContext("GET", "/room/sess1?access_token=main-access-token")
	c.Params = gin.Params{{Key: "sessionID", Value: "sess1"}}
	hub.roomPage(c)

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"controller"`)
	assert.Contains(t, w.Body.String(), "controller-token")
}

func TestRoomPage_ParticipantInviteMintsViewerAndRedirects(t *testing.T) {
	hub, store, cp := newTestHub(t)
	putCollabSession(t, store, "sess1")

	w, c := testContext("GET", "/room/sess1?token=participant-invite")
	c.Params = gin.Params{{Key: "sessionID", Value: "sess1"}}
	hub.roomPage(c)

	assert.Equal(t, 303, w.Code)
	loc := w.Header().Get("Location")
	assert.Contains(t, loc, "token=")

	sess, ok := store.Get("sess1")
	require.True(t, ok)
	require.Len(t, sess.Viewers, 1)
	assert.Equal(t, types.PermissionParticipant, sess.Viewers[0].Permission)
	require.Len(t, cp.Pushes, 1)
}

func TestRoomPage_UnknownTokenUnauthorized(t *testing.T) {
	hub, store, _ := newTestHub(t)
	putCollabSession(t, store, "sess1")

	w, c := testContext("GET", "/room/sess1?token=garbage")
	c.Params = gin.Params{{Key: "sessionID", Value: "sess1"}}
	hub.roomPage(c)

	assert.Equal(t, 401, w.Code)
}

func TestRoomPage_UnknownSessionNotFound(t *testing.T) {
	hub, _, _ := newTestHub(t)

	w, c := testContext("GET", "/room/nope?token=x")
	c.Params = gin.Params{{Key: "sessionID", Value: "nope"}}
	hub.roomPage(c)

	assert.Equal(t, 404, w.Code)
}

func TestHandleAssignSlot_PreemptsPriorHolderAndNotifies(t *testing.T) {
	hub, store, cp := newTestHub(t)
	sess := putCollabSession(t, store, "sess1")
	slot0 := 0
	sess.ControllerSlot = &slot0
	sess.Viewers = []types.Viewer{{Token: "viewer-a", Username: "Alice", Permission: types.PermissionParticipant}}
	require.NoError(t, store.Put(sess))

	room := hub.roomFor("sess1")
	observer := &Client{token: "controller-token", isController: true, send: make(chan wsFrame, 8)}
	room.controller = observer

	hub.handleAssignSlot(room, map[string]interface{}{
		"viewer_token": "viewer-a",
		"slot":         float64(0),
	})

	updated, _ := store.Get("sess1")
	require.Nil(t, updated.ControllerSlot)
	require.NotNil(t, updated.Viewers[0].Slot)
	assert.Equal(t, 0, *updated.Viewers[0].Slot)
	assert.True(t, len(cp.Pushes) >= 1)

	var broadcast string
	for len(observer.send) > 0 {
		frame := <-observer.send
		broadcast += string(frame.data)
	}
	assert.Contains(t, broadcast, "Controller was unassigned from Gamepad 0.")
	assert.Contains(t, broadcast, "Gamepad 0 was assigned to Alice.")
}

func TestHandleAssignMK_AssignsAndReverts(t *testing.T) {
	hub, store, _ := newTestHub(t)
	sess := putCollabSession(t, store, "sess1")
	sess.Viewers = []types.Viewer{{Token: "viewer-a", Username: "Alice", Permission: types.PermissionParticipant}}
	require.NoError(t, store.Put(sess))
	room := hub.roomFor("sess1")

	hub.handleAssignMK(room, map[string]interface{}{"token": "viewer-a"})
	updated, _ := store.Get("sess1")
	require.NotNil(t, updated.MKOwnerToken)
	assert.Equal(t, "viewer-a", *updated.MKOwnerToken)

	hub.handleAssignMK(room, map[string]interface{}{"token": "controller-token"})
	updated, _ = store.Get("sess1")
	assert.Nil(t, updated.MKOwnerToken)
}

func TestHandleChatMessage_SanitizesAndBroadcasts(t *testing.T) {
	hub, store, _ := newTestHub(t)
	putCollabSession(t, store, "sess1")
	room := hub.roomFor("sess1")

	client := &Client{token: "controller-token", username: "Controller", isController: true, send: make(chan wsFrame, 4)}
	room.controller = client

	hub.handleChatMessage(room, client, map[string]interface{}{"message": "<script>alert(1)</script>hi"})

	select {
	case frame := <-client.send:
		assert.NotContains(t, string(frame.data), "<script>")
		assert.Contains(t, string(frame.data), "hi")
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast frame")
	}
}

func TestHandleBinaryFrame_BlocksReadOnlyAndOversized(t *testing.T) {
	hub, store, _ := newTestHub(t)
	putCollabSession(t, store, "sess1")
	room := hub.roomFor("sess1")
	listener := &Client{token: "listener", permission: types.PermissionParticipant, send: make(chan wsFrame, 4)}
	room.viewers["listener"] = listener

	readonly := &Client{token: "ro", permission: types.PermissionReadOnly, send: make(chan wsFrame, 4)}
	hub.handleBinaryFrame(room, readonly, []byte{0x01, 0x02})
	assert.Len(t, listener.send, 0)

	oversized := make([]byte, maxBinaryFrame+1)
	controller := &Client{token: "controller-token", isController: true, permission: types.PermissionParticipant, send: make(chan wsFrame, 4)}
	room.controller = controller
	hub.handleBinaryFrame(room, controller, oversized)
	assert.Len(t, listener.send, 0)

	hub.handleBinaryFrame(room, controller, []byte{0x01, 0x02})
	assert.Len(t, listener.send, 1)
}

func TestHandleDisconnect_ViewerCleansUpSlotAndMK(t *testing.T) {
	hub, store, _ := newTestHub(t)
	sess := putCollabSession(t, store, "sess1")
	slot2 := 2
	mk := "viewer-a"
	sess.MKOwnerToken = &mk
	sess.Viewers = []types.Viewer{{Token: "viewer-a", Username: "Alice", Slot: &slot2, Permission: types.PermissionParticipant}}
	require.NoError(t, store.Put(sess))

	room := hub.roomFor("sess1")
	client := &Client{token: "viewer-a", username: "Alice", send: make(chan wsFrame, 8), hasJoined: true}
	room.viewers["viewer-a"] = client

	room.handleDisconnect(hub, client)

	updated, _ := store.Get("sess1")
	assert.Nil(t, updated.MKOwnerToken)
	assert.Empty(t, updated.Viewers)

	hub.mu.Lock()
	_, stillExists := hub.rooms["sess1"]
	hub.mu.Unlock()
	assert.False(t, stillExists)
}
