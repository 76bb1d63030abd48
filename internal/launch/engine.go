// Package launch implements LaunchEngine (§4.K), the component that
// composes Directory, TemplateResolver, AutostartCache, ImageMetadataCache,
// PathTranslator, StorageManager, and SessionStore into a single Launch
// operation, plus its Stop counterpart.
package launch

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace/sealskin/internal/autostart"
	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/containerruntime"
	"github.com/streamspace/sealskin/internal/events"
	"github.com/streamspace/sealskin/internal/gpu"
	"github.com/streamspace/sealskin/internal/images"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/pathtranslate"
	"github.com/streamspace/sealskin/internal/sessionstore"
	"github.com/streamspace/sealskin/internal/storage"
	"github.com/streamspace/sealskin/internal/templates"
	"github.com/streamspace/sealskin/internal/types"
)

const (
	readinessPerAttemptTimeout = 2 * time.Second
	readinessTotalBudget       = 60 * time.Second
	readinessPollInterval      = 1 * time.Second
	cleanroomHomeName          = "cleanroom"
)

// FilePayload carries an uploaded file to place into the launched session,
// per §4.K step 7.
type FilePayload struct {
	Bytes       []byte
	Filename    string
	OpenOnLaunch bool
}

// Request is everything LaunchEngine needs to start a session.
type Request struct {
	Username        string
	EffectiveSettings types.UserSettings
	ApplicationID   string
	HomeName        string
	ExtraEnv        map[string]string
	Language        string
	SelectedGPU     string // device path, matched against AVAILABLE_GPUS
	File            *FilePayload
}

// Result is what a successful Launch returns to the caller.
type Result struct {
	SessionURL string
	SessionID  string
}

// Engine wires together every component Launch needs.
type Engine struct {
	Catalog     *catalog.Catalog
	Runtime     containerruntime.Runtime
	Autostart   *autostart.Cache
	Images      *images.Cache
	PathXlate   *pathtranslate.Translator
	Storage     *storage.Manager
	Store       *sessionstore.Store
	GPUs        *gpu.Catalog
	PUID, PGID  string
	ContainerConfigPath string
	DefaultStoreName    string

	// Events publishes session lifecycle notifications; nil-safe, no-op
	// when the broker was built without a NATS URL configured.
	Events *events.Publisher

	// readyFunc polls a launched container for readiness; overridable in
	// tests to point at an httptest.Server instead of a real container.
	// Defaults to waitForReady.
	readyFunc func(ctx context.Context, ip string, port int, sessionID string) error
}

// ready dispatches to readyFunc, falling back to waitForReady when unset.
func (e *Engine) ready(ctx context.Context, ip string, port int, sessionID string) error {
	if e.readyFunc != nil {
		return e.readyFunc(ctx, ip, port, sessionID)
	}
	return waitForReady(ctx, ip, port, sessionID)
}

// Launch implements §4.K's ten-step algorithm.
func (e *Engine) Launch(ctx context.Context, req Request) (*Result, error) {
	app, ok := e.Catalog.GetApp(req.ApplicationID)
	if !ok {
		return nil, broker.NotFound("application not found")
	}

	var selectedGPU *types.GPU
	if req.SelectedGPU != "" {
		if !req.EffectiveSettings.GPU {
			return nil, broker.Validation("GPU access not enabled for user")
		}
		info, ok := e.GPUs.Lookup(req.SelectedGPU)
		if !ok {
			return nil, broker.Validation("selected GPU is not available")
		}
		if info.GPU.Kind == types.GPUNvidia && !app.ProviderConfig.NvidiaSupport {
			return nil, broker.Validation("application does not support nvidia GPUs")
		}
		if info.GPU.Kind == types.GPUDri3 && !app.ProviderConfig.Dri3Support {
			return nil, broker.Validation("application does not support DRI3 GPUs")
		}
		selectedGPU = &info.GPU
	}

	// Persistent storage is only honored when both the user's effective
	// settings and the app's own config allow it; otherwise the request is
	// silently downgraded to an ephemeral "cleanroom" session (§4.K).
	persistent := req.EffectiveSettings.PersistentStorage && app.HomeDirectories
	homeName := req.HomeName
	if persistent {
		if homeName == "" {
			homeName = cleanroomHomeName
		}
		if homeName != cleanroomHomeName && !e.Storage.HomeExists(req.Username, homeName) {
			return nil, broker.NotFound("home directory not found")
		}
	} else {
		homeName = cleanroomHomeName
	}

	// 1. Mint identifiers.
	sessionID := uuid.NewString()
	accessToken, err := randomToken(32)
	if err != nil {
		return nil, broker.Internal("mint access token", err)
	}
	customUser := uuid.NewString()
	password := uuid.NewString()

	var tmpl *types.AppTemplate
	if app.AppTemplate != "" {
		if t, ok := e.Catalog.GetTemplate(app.AppTemplate); ok {
			tmpl = &t
		}
	}

	// 2. Build env.
	env := templates.Resolve(sessionID, e.PUID, e.PGID, customUser, password, tmpl, req.ExtraEnv, req.Language, app.ProviderConfig.Env, selectedGPU)

	// 3. Detect a caller-supplied launch URL.
	var launchContext *types.LaunchContext
	if u, ok := env["SEALSKIN_URL"]; ok && u != "" {
		launchContext = &types.LaunchContext{Type: types.LaunchContextURL, Value: u}
	}

	// 5. Decide mount mode.
	var hostMountPath string
	var sharedFilesPath string
	ephemeralCreated := false
	switch {
	case persistent:
		hostMountPath, err = e.Storage.CreatePersistentHome(req.Username, homeName)
		if err != nil {
			return nil, err
		}
		sharedFilesPath = e.Storage.SharedFilesPath(req.Username)
	case req.File != nil:
		hostMountPath, err = e.Storage.CreateEphemeralHome()
		if err != nil {
			return nil, err
		}
		ephemeralCreated = true
	}

	cleanup := func() {
		if ephemeralCreated {
			_ = e.Storage.RemoveEphemeral(hostMountPath)
		}
	}

	// 6. Resolve autostart content.
	autostartScript := autostartContent(&app, e.Autostart, e.DefaultStoreName)
	if len(autostartScript) > 0 && hostMountPath == "" {
		hostMountPath, err = e.Storage.CreateEphemeralHome()
		if err != nil {
			return nil, err
		}
		ephemeralCreated = true
	}
	if len(autostartScript) > 0 {
		autostartDir := filepath.Join(hostMountPath, ".config", "openbox")
		if err := os.MkdirAll(autostartDir, 0o755); err != nil {
			cleanup()
			return nil, broker.Internal("create openbox config dir", err)
		}
		if err := os.WriteFile(filepath.Join(autostartDir, "autostart"), autostartScript, 0o755); err != nil {
			cleanup()
			return nil, broker.Internal("write autostart script", err)
		}
	}

	// 7. Mounts and file placement.
	var mounts []containerruntime.Mount
	if hostMountPath != "" {
		mounts = append(mounts, containerruntime.Mount{
			HostPath:      e.PathXlate.Translate(hostMountPath),
			ContainerPath: e.ContainerConfigPath,
		})
		if persistent {
			mounts = append(mounts, containerruntime.Mount{
				HostPath:      e.PathXlate.Translate(sharedFilesPath),
				ContainerPath: e.ContainerConfigPath + "/Desktop/files",
			})
		}
	}

	if req.File != nil {
		placeDir := hostMountPath + "/Desktop/files"
		if persistent {
			placeDir = sharedFilesPath
		}
		placed, err := storage.PlaceFile(placeDir, req.File.Filename, req.File.Bytes)
		if err != nil {
			cleanup()
			return nil, err
		}
		if req.File.OpenOnLaunch {
			containerPath := e.ContainerConfigPath + "/Desktop/files/" + placed
			env["SEALSKIN_FILE"] = containerPath
			launchContext = &types.LaunchContext{Type: types.LaunchContextFile, Value: req.File.Filename}
		}
	}

	// 8. Launch the container, pulling on demand.
	if err := e.Images.PullAndCache(ctx, app.ProviderConfig.Image); err != nil {
		logger.Launch().Warn().Err(err).Str("image", app.ProviderConfig.Image).Msg("pull failed, attempting launch anyway")
	}
	instanceID, ip, err := e.Runtime.Launch(ctx, containerruntime.LaunchSpec{
		Image:  app.ProviderConfig.Image,
		Env:    env,
		Mounts: mounts,
		Port:   app.ProviderConfig.Port,
		GPU:    selectedGPU,
	})
	if err != nil {
		cleanup()
		return nil, broker.BadGateway("launch container", err)
	}

	// 9. Wait for readiness.
	if err := e.ready(ctx, ip, app.ProviderConfig.Port, sessionID); err != nil {
		_ = e.Runtime.Stop(ctx, instanceID)
		cleanup()
		return nil, err
	}

	// 10. Persist and return.
	sess := types.Session{
		SessionID:     sessionID,
		AccessToken:   accessToken,
		InstanceID:    instanceID,
		IP:            ip,
		Port:          app.ProviderConfig.Port,
		CreatedAt:     time.Now(),
		ProviderAppID: app.ID,
		Username:      req.Username,
		HostMountPath: hostMountPath,
		LaunchContext: launchContext,
		CustomUser:    customUser,
		Password:      password,
	}
	if err := e.Store.Put(sess); err != nil {
		_ = e.Runtime.Stop(ctx, instanceID)
		cleanup()
		return nil, err
	}
	e.Events.Publish(events.Event{Type: "session.launched", SessionID: sessionID, Username: req.Username, TS: time.Now().Unix()})

	return &Result{
		SessionURL: fmt.Sprintf("/%s/?access_token=%s", sessionID, accessToken),
		SessionID:  sessionID,
	}, nil
}

// LaunchAdditionalContainer starts another app's container for an existing
// room session, reusing its custom_user/password so the same auth layer
// admits it. Used by CollaborationRoom's swap_app supplement (§4.M); it
// does not create a SessionStore entry or resolve mounts of its own — the
// caller owns updating the session record.
func (e *Engine) LaunchAdditionalContainer(ctx context.Context, appID, customUser, password string) (instanceID, ip string, port int, err error) {
	app, ok := e.Catalog.GetApp(appID)
	if !ok {
		return "", "", 0, broker.NotFound("application not found")
	}

	var tmpl *types.AppTemplate
	if app.AppTemplate != "" {
		if t, ok := e.Catalog.GetTemplate(app.AppTemplate); ok {
			tmpl = &t
		}
	}
	sessionID := uuid.NewString()
	env := templates.Resolve(sessionID, e.PUID, e.PGID, customUser, password, tmpl, nil, "", app.ProviderConfig.Env, nil)

	if err := e.Images.PullAndCache(ctx, app.ProviderConfig.Image); err != nil {
		logger.Launch().Warn().Err(err).Str("image", app.ProviderConfig.Image).Msg("pull failed, attempting launch anyway")
	}
	instanceID, ip, err = e.Runtime.Launch(ctx, containerruntime.LaunchSpec{
		Image: app.ProviderConfig.Image,
		Env:   env,
		Port:  app.ProviderConfig.Port,
	})
	if err != nil {
		return "", "", 0, broker.BadGateway("launch container", err)
	}
	if err := e.ready(ctx, ip, app.ProviderConfig.Port, sessionID); err != nil {
		_ = e.Runtime.Stop(ctx, instanceID)
		return "", "", 0, err
	}
	return instanceID, ip, app.ProviderConfig.Port, nil
}

// Stop implements §4.K's Stop operation.
func (e *Engine) Stop(ctx context.Context, sessionID string) error {
	sess, ok := e.Store.Get(sessionID)
	if !ok {
		return broker.NotFound("session not found")
	}
	if err := e.Store.Delete(sessionID); err != nil {
		return err
	}
	if _, ok := e.Catalog.GetApp(sess.ProviderAppID); ok {
		if err := e.Runtime.Stop(ctx, sess.InstanceID); err != nil {
			logger.Launch().Warn().Err(err).Str("session_id", sessionID).Msg("stop: runtime stop failed")
		}
	}
	if sess.HostMountPath != "" && e.Storage.IsEphemeral(sess.HostMountPath) {
		if err := e.Storage.RemoveEphemeral(sess.HostMountPath); err != nil {
			logger.Launch().Warn().Err(err).Str("session_id", sessionID).Msg("stop: failed to remove ephemeral mount")
		}
	}
	e.Events.Publish(events.Event{Type: "session.stopped", SessionID: sessionID, Username: sess.Username, TS: time.Now().Unix()})
	return nil
}

// autostartContent resolves §4.K step 6's precedence: inline base64 script
// on the app, else the autostart cache's fetched script for this app.
func autostartContent(app *types.InstalledApp, cache *autostart.Cache, storeName string) []byte {
	if app.ProviderConfig.CustomAutostartScriptB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(app.ProviderConfig.CustomAutostartScriptB64)
		if err == nil && len(decoded) > 0 {
			return decoded
		}
	}
	if cache == nil {
		return nil
	}
	return cache.ScriptFor(storeName, app.SourceAppID)
}

// waitForReady polls the session's readiness endpoint until it returns 200,
// the total budget elapses, or ctx is cancelled.
func waitForReady(ctx context.Context, ip string, port int, sessionID string) error {
	deadline := time.Now().Add(readinessTotalBudget)
	url := fmt.Sprintf("http://%s:%d/%s/", ip, port, sessionID)
	client := &http.Client{Timeout: readinessPerAttemptTimeout}

	for {
		reqCtx, cancel := context.WithTimeout(ctx, readinessPerAttemptTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					cancel()
					return nil
				}
			}
		}
		cancel()

		if time.Now().After(deadline) {
			return broker.GatewayTimeout("session did not become ready")
		}
		select {
		case <-ctx.Done():
			return broker.GatewayTimeout("session did not become ready")
		case <-time.After(readinessPollInterval):
		}
	}
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
