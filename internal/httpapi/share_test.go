package httpapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/sealskin/internal/app"
	"github.com/streamspace/sealskin/internal/share"
)

func newShareTestRouter(t *testing.T) (*gin.Engine, *app.Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "files"), 0o755))
	st, err := share.Load(filepath.Join(dir, "shares.yaml"), filepath.Join(dir, "files"))
	require.NoError(t, err)

	b := &app.Broker{Shares: st}
	h := &handlers{b: b}

	r := gin.New()
	public := r.Group("/public")
	public.GET("/:shareID", h.shareDownload)
	public.POST("/:shareID", h.sharePasswordSubmit)
	public.GET("/download/:token", h.shareConsumeToken)
	return r, b
}

func TestShareDownload_UnprotectedServesDirectly(t *testing.T) {
	r, b := newShareTestRouter(t)
	sh, err := b.Shares.Create("alice", "notes.txt", 5, "", 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.Shares.FilePath(sh.ShareID), []byte("hello"), 0o600))

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/public/" + sh.ShareID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "notes.txt")
}

func TestShareDownload_PasswordProtectedRequires401ThenFlow(t *testing.T) {
	r, b := newShareTestRouter(t)
	sh, err := b.Shares.Create("alice", "secret.txt", 5, "hunter2", 0)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.Shares.FilePath(sh.ShareID), []byte("hello"), 0o600))

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/public/" + sh.ShareID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
	}

	wrongResp, err := client.PostForm(srv.URL+"/public/"+sh.ShareID, url.Values{"password": {"wrong"}})
	require.NoError(t, err)
	wrongResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)

	okResp, err := client.PostForm(srv.URL+"/public/"+sh.ShareID, url.Values{"password": {"hunter2"}})
	require.NoError(t, err)
	okResp.Body.Close()
	require.Equal(t, http.StatusSeeOther, okResp.StatusCode)

	downloadURL := okResp.Header.Get("Location")
	require.True(t, strings.Contains(downloadURL, "/public/download/"))

	first, err := http.Get(srv.URL + downloadURL)
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + downloadURL)
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusForbidden, second.StatusCode, "download token must be one-shot")
}
