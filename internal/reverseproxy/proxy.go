// Package reverseproxy implements ReverseProxy (§4.L): the session-port
// listener that authenticates a session_id/access_token pair, then forwards
// HTTP and WebSocket traffic into the session's container.
package reverseproxy

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

// SessionLookup resolves a session_id to its durable record.
type SessionLookup interface {
	Get(id string) (types.Session, bool)
}

// Proxy forwards authenticated traffic to each session's container.
type Proxy struct {
	store      SessionLookup
	cookieName string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New constructs a Proxy backed by store, using cookieName for the
// post-handshake session cookie.
func New(store SessionLookup, cookieName string) *Proxy {
	return &Proxy{
		store:      store,
		cookieName: cookieName,
		httpClient: &http.Client{Timeout: 0},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Register wires the proxy onto r at the session-port's catch-all route.
func (p *Proxy) Register(r gin.IRouter) {
	r.Any("/:sessionID/*rest", p.handle)
}

func (p *Proxy) handle(c *gin.Context) {
	sessionID := c.Param("sessionID")
	rest := strings.TrimPrefix(c.Param("rest"), "/")

	sess, ok := p.store.Get(sessionID)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	isWS := websocket.IsWebSocketUpgrade(c.Request)

	token, fromQuery := extractToken(c.Request, p.cookieName)
	if token == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(sess.AccessToken)) != 1 {
		c.Status(http.StatusForbidden)
		return
	}

	if !isWS && fromQuery && c.Request.Method == http.MethodGet {
		q := c.Request.URL.Query()
		q.Del("access_token")
		redirectURL := c.Request.URL.Path
		if encoded := q.Encode(); encoded != "" {
			redirectURL += "?" + encoded
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(p.cookieName, token, 0, "/", "", true, true)
		c.Redirect(http.StatusFound, redirectURL)
		return
	}

	upstreamQuery := c.Request.URL.Query()
	upstreamQuery.Del("access_token")
	upstreamPath := "/" + sessionID + "/" + rest

	if isWS {
		p.forwardWebSocket(c, sess, upstreamPath, upstreamQuery)
		return
	}
	p.forwardHTTP(c, sess, upstreamPath, upstreamQuery)
}

// extractToken reads access_token from the query string first, falling
// back to the session cookie; fromQuery reports which form was used.
func extractToken(r *http.Request, cookieName string) (token string, fromQuery bool) {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, true
	}
	if ck, err := r.Cookie(cookieName); err == nil && ck.Value != "" {
		return ck.Value, false
	}
	return "", false
}

func basicAuthHeader(customUser, password string) string {
	creds := customUser + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func (p *Proxy) forwardHTTP(c *gin.Context, sess types.Session, path string, query url.Values) {
	target := &url.URL{
		Scheme:   "http",
		Host:     hostPort(sess.IP, sess.Port),
		Path:     path,
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadGateway)
		return
	}
	req.Header = c.Request.Header.Clone()
	req.Header.Set("Authorization", basicAuthHeader(sess.CustomUser, sess.Password))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Proxy().Warn().Err(err).Str("session_id", sess.SessionID).Msg("upstream connect failed")
		c.Status(http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(c.Writer, resp.Body)
}

func (p *Proxy) forwardWebSocket(c *gin.Context, sess types.Session, path string, query url.Values) {
	target := url.URL{
		Scheme:   "ws",
		Host:     hostPort(sess.IP, sess.Port),
		Path:     path,
		RawQuery: query.Encode(),
	}

	upstreamHeader := http.Header{}
	upstreamHeader.Set("Authorization", basicAuthHeader(sess.CustomUser, sess.Password))

	upstreamConn, _, err := p.dialer.DialContext(c.Request.Context(), target.String(), upstreamHeader)
	if err != nil {
		logger.Proxy().Warn().Err(err).Str("session_id", sess.SessionID).Msg("upstream websocket dial failed")
		c.Status(http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	clientConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()

	done := make(chan struct{}, 2)
	go pumpFrames(clientConn, upstreamConn, done)
	go pumpFrames(upstreamConn, clientConn, done)
	<-done
}

// pumpFrames copies frames from src to dst, preserving message type, until
// either side closes.
func pumpFrames(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func hostPort(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}
