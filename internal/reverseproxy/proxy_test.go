package reverseproxy

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/sealskin/internal/types"
)

type fakeStore struct {
	sessions map[string]types.Session
}

func (f fakeStore) Get(id string) (types.Session, bool) {
	s, ok := f.sessions[id]
	return s, ok
}

func newRouter(store SessionLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(store, "sealskin_session_token").Register(r)
	return r
}

func upstreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from container"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sessionFromServer(srv *httptest.Server, token string) types.Session {
	u, _ := url.Parse(srv.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return types.Session{
		SessionID:   "sess1",
		AccessToken: token,
		IP:          host,
		Port:        port,
		CustomUser:  "custombob",
		Password:    "pw123",
	}
}

func TestProxy_MissingToken(t *testing.T) {
	store := fakeStore{sessions: map[string]types.Session{
		"sess1": {SessionID: "sess1", AccessToken: "tok"},
	}}
	r := newRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sess1/index.html", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProxy_MismatchedToken(t *testing.T) {
	store := fakeStore{sessions: map[string]types.Session{
		"sess1": {SessionID: "sess1", AccessToken: "correct-token"},
	}}
	r := newRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sess1/index.html?access_token=wrong", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProxy_ValidTokenRedirectsAndSetsCookie(t *testing.T) {
	srv := upstreamServer(t)
	sess := sessionFromServer(srv, "correct-token")
	store := fakeStore{sessions: map[string]types.Session{"sess1": sess}}
	r := newRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sess1/index.html?access_token=correct-token", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sealskin_session_token", cookies[0].Name)
	assert.Equal(t, "correct-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
}

func TestProxy_CookieForwardsToUpstream(t *testing.T) {
	srv := upstreamServer(t)
	sess := sessionFromServer(srv, "correct-token")
	store := fakeStore{sessions: map[string]types.Session{"sess1": sess}}
	r := newRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sess1/index.html", nil)
	req.AddCookie(&http.Cookie{Name: "sealskin_session_token", Value: "correct-token"})
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Upstream"))
	assert.Equal(t, "hello from container", w.Body.String())
}

func TestProxy_UnknownSession(t *testing.T) {
	store := fakeStore{sessions: map[string]types.Session{}}
	r := newRouter(store)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nope/index.html?access_token=x", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
