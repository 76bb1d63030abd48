package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/sealskin/internal/autostart"
	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/containerruntime"
	"github.com/streamspace/sealskin/internal/images"
	"github.com/streamspace/sealskin/internal/share"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	dir := t.TempDir()

	appsPath := filepath.Join(dir, "apps.yaml")
	raw := `
- id: app1
  name: App One
  source: store
  source_app_id: app1
  provider: docker
  home_directories: false
  users: ["all"]
  groups: []
  provider_config:
    image: "example/app1:latest"
    port: 8080
  auto_update: true
`
	require.NoError(t, os.WriteFile(appsPath, []byte(raw), 0o644))
	cat, err := catalog.Load(appsPath, filepath.Join(dir, "templates"))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "shares", "files"), 0o755))
	shares, err := share.Load(filepath.Join(dir, "shares", "meta.yaml"), filepath.Join(dir, "shares", "files"))
	require.NoError(t, err)

	rt := containerruntime.NewFake()
	return &Runner{
		Catalog:   cat,
		Autostart: autostart.New(filepath.Join(dir, "autostart_cache")),
		Images:    images.New(rt, nil),
		Shares:    shares,
	}
}

func TestRunShareSweep_RemovesExpired(t *testing.T) {
	r := newTestRunner(t)
	sh, err := r.Shares.Create("alice", "f.txt", 10, "", 1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.Shares.FilePath(sh.ShareID), []byte("x"), 0o600))

	time.Sleep(1100 * time.Millisecond)
	r.runShareSweep()

	_, ok := r.Shares.Get(sh.ShareID)
	assert.False(t, ok)
}

func TestRunAutostartRefresh_PullsDistinctAutoUpdateImages(t *testing.T) {
	r := newTestRunner(t)
	r.ctx = context.Background()

	r.runAutostartRefresh()

	apps := r.Catalog.AutoUpdateApps()
	require.Len(t, apps, 1)
	assert.Equal(t, "example/app1:latest", apps[0].ProviderConfig.Image)

	entry, ok := r.Images.Get("example/app1:latest")
	require.True(t, ok)
	assert.False(t, entry.LastCheckedAt.IsZero())
}

func TestEverySpec_FallsBackWhenUnset(t *testing.T) {
	assert.Equal(t, "@every 10m0s", everySpec(0, 600))
	assert.Equal(t, "@every 30s", everySpec(30, 600))
}
