package launch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/autostart"
	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/containerruntime"
	"github.com/streamspace/sealskin/internal/gpu"
	"github.com/streamspace/sealskin/internal/images"
	"github.com/streamspace/sealskin/internal/pathtranslate"
	"github.com/streamspace/sealskin/internal/sessionstore"
	"github.com/streamspace/sealskin/internal/storage"
	"github.com/streamspace/sealskin/internal/types"
)

func newTestEngine(t *testing.T, runtime *containerruntime.Fake) (*Engine, func()) {
	t.Helper()
	dir := t.TempDir()

	apps := []types.InstalledApp{{
		ID:     "app1",
		Name:   "Test App",
		Source: "local",
		ProviderConfig: types.ProviderConfig{
			Image: "example/app:latest",
			Port:  8080,
		},
		HomeDirectories: true,
		Users:           []string{"all"},
	}}
	raw, err := yaml.Marshal(apps)
	require.NoError(t, err)
	appsPath := filepath.Join(dir, "installed_apps.yml")
	require.NoError(t, os.WriteFile(appsPath, raw, 0o644))

	cat, err := catalog.Load(appsPath, filepath.Join(dir, "templates"))
	require.NoError(t, err)

	xlate, err := pathtranslate.Discover(context.Background(), runtime)
	require.NoError(t, err)

	store, err := sessionstore.Load(filepath.Join(dir, "sessions.yml"))
	require.NoError(t, err)

	eng := &Engine{
		Catalog:             cat,
		Runtime:             runtime,
		Autostart:           autostart.New(filepath.Join(dir, "autostart")),
		Images:              images.New(runtime, nil),
		PathXlate:           xlate,
		Storage:             storage.New(filepath.Join(dir, "storage"), filepath.Join(dir, "uploads")),
		Store:               store,
		GPUs:                gpu.NewCatalog(),
		PUID:                "1000",
		PGID:                "1000",
		ContainerConfigPath: "/config",
		DefaultStoreName:    "default",
		readyFunc: func(ctx context.Context, ip string, port int, sessionID string) error {
			return nil
		},
	}
	return eng, func() {}
}

func adminSettings() types.UserSettings {
	s := types.DefaultUserSettings()
	return s
}

func TestLaunch_Simple(t *testing.T) {
	rt := containerruntime.NewFake()
	eng, cleanup := newTestEngine(t, rt)
	defer cleanup()

	res, err := eng.Launch(context.Background(), Request{
		Username:          "alice",
		EffectiveSettings: adminSettings(),
		ApplicationID:     "app1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.Contains(t, res.SessionURL, res.SessionID)
	assert.Len(t, rt.LaunchCalls, 1)

	sess, ok := eng.Store.Get(res.SessionID)
	require.True(t, ok)
	assert.NotEmpty(t, sess.HostMountPath)
}

func TestLaunch_FileEphemeral(t *testing.T) {
	rt := containerruntime.NewFake()
	eng, cleanup := newTestEngine(t, rt)
	defer cleanup()

	settings := adminSettings()
	settings.PersistentStorage = false

	res, err := eng.Launch(context.Background(), Request{
		Username:          "bob",
		EffectiveSettings: settings,
		ApplicationID:     "app1",
		File: &FilePayload{
			Bytes:        []byte("hello"),
			Filename:     "doc.txt",
			OpenOnLaunch: true,
		},
	})
	require.NoError(t, err)

	sess, ok := eng.Store.Get(res.SessionID)
	require.True(t, ok)
	require.NotNil(t, sess.LaunchContext)
	assert.Equal(t, types.LaunchContextFile, sess.LaunchContext.Type)
	assert.Equal(t, "doc.txt", sess.LaunchContext.Value)
	assert.True(t, eng.Storage.IsEphemeral(sess.HostMountPath))

	placed := filepath.Join(sess.HostMountPath, "Desktop", "files", "doc.txt")
	body, err := os.ReadFile(placed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestLaunch_ReadinessTimeout(t *testing.T) {
	rt := containerruntime.NewFake()
	eng, cleanup := newTestEngine(t, rt)
	defer cleanup()

	eng.readyFunc = func(ctx context.Context, ip string, port int, sessionID string) error {
		return broker.GatewayTimeout("never became ready")
	}

	settings := adminSettings()
	settings.PersistentStorage = false

	_, err := eng.Launch(context.Background(), Request{
		Username:          "carol",
		EffectiveSettings: settings,
		ApplicationID:     "app1",
		File: &FilePayload{
			Bytes:    []byte("x"),
			Filename: "f.txt",
		},
	})
	require.Error(t, err)
	var berr *broker.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, broker.KindGatewayTimeout, berr.Kind)

	require.Len(t, rt.StopCalls, 1)
	assert.Empty(t, eng.Store.All())
}

func TestLaunch_UnknownApp(t *testing.T) {
	rt := containerruntime.NewFake()
	eng, cleanup := newTestEngine(t, rt)
	defer cleanup()

	_, err := eng.Launch(context.Background(), Request{
		Username:          "dave",
		EffectiveSettings: adminSettings(),
		ApplicationID:     "does-not-exist",
	})
	require.Error(t, err)
	var berr *broker.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, broker.KindNotFound, berr.Kind)
}

func TestStop_RemovesEphemeralMount(t *testing.T) {
	rt := containerruntime.NewFake()
	eng, cleanup := newTestEngine(t, rt)
	defer cleanup()

	settings := adminSettings()
	settings.PersistentStorage = false

	res, err := eng.Launch(context.Background(), Request{
		Username:          "erin",
		EffectiveSettings: settings,
		ApplicationID:     "app1",
		File: &FilePayload{
			Bytes:    []byte("x"),
			Filename: "f.txt",
		},
	})
	require.NoError(t, err)
	sess, ok := eng.Store.Get(res.SessionID)
	require.True(t, ok)

	require.NoError(t, eng.Stop(context.Background(), res.SessionID))

	_, ok = eng.Store.Get(res.SessionID)
	assert.False(t, ok)
	_, err = os.Stat(sess.HostMountPath)
	assert.True(t, os.IsNotExist(err))
}
