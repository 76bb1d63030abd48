// Package app wires every component into one Broker value, per SPEC_FULL.md
// §9's "bundle module-level mutable state into an explicit Broker value
// constructed in main" redesign. It does not live in package broker
// (internal/broker) because broker already hosts the shared error taxonomy
// that nearly every other component imports; a Broker struct there would
// import those same components back, a cycle. See DESIGN.md.
package app

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/streamspace/sealskin/internal/autostart"
	"github.com/streamspace/sealskin/internal/cache"
	"github.com/streamspace/sealskin/internal/catalog"
	"github.com/streamspace/sealskin/internal/collab"
	"github.com/streamspace/sealskin/internal/config"
	"github.com/streamspace/sealskin/internal/containerruntime"
	"github.com/streamspace/sealskin/internal/controlplane"
	"github.com/streamspace/sealskin/internal/crypto"
	"github.com/streamspace/sealskin/internal/directory"
	"github.com/streamspace/sealskin/internal/events"
	"github.com/streamspace/sealskin/internal/gpu"
	"github.com/streamspace/sealskin/internal/identity"
	"github.com/streamspace/sealskin/internal/images"
	"github.com/streamspace/sealskin/internal/jobs"
	"github.com/streamspace/sealskin/internal/launch"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/pathtranslate"
	"github.com/streamspace/sealskin/internal/ratelimit"
	"github.com/streamspace/sealskin/internal/reverseproxy"
	"github.com/streamspace/sealskin/internal/sessionstore"
	"github.com/streamspace/sealskin/internal/share"
	"github.com/streamspace/sealskin/internal/storage"
)

// Broker holds every constructed component. Nothing below is a package
// global; main owns this value and threads it into the HTTP router.
type Broker struct {
	Settings *config.Settings

	Crypto    *crypto.Channel
	Identity  *identity.Identity
	Directory directory.Directory

	Catalog   *catalog.Catalog
	Autostart *autostart.Cache
	Images    *images.Cache
	PathXlate *pathtranslate.Translator
	Storage   *storage.Manager
	Store     *sessionstore.Store
	Shares    *share.Store

	Runtime      containerruntime.Runtime
	ControlPlane controlplane.Client
	Events       *events.Publisher

	Launch *launch.Engine
	Proxy  *reverseproxy.Proxy
	Collab *collab.Hub
	Jobs   *jobs.Runner

	// LaunchLimiter throttles repeated launch attempts per username,
	// independent of the collab package's own username-change limiter.
	LaunchLimiter *ratelimit.Limiter
}

// Build constructs every component from settings, wiring each into the
// ones that depend on it, and returns the assembled Broker. Errors here are
// startup-fatal, matching §6's "missing required key files cause fatal
// startup".
func Build(ctx context.Context, settings *config.Settings) (*Broker, error) {
	privateKey, err := loadPrivateKey(settings.ServerPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server private key: %w", err)
	}

	dir, err := directory.NewFSDirectory(settings.KeysBasePath, settings.GroupsBasePath)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}

	cat, err := catalog.Load(settings.InstalledAppsPath, settings.AppTemplatesPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	runtime, err := containerruntime.NewDockerRuntime("", "")
	if err != nil {
		return nil, fmt.Errorf("connect container runtime: %w", err)
	}

	// NewImageDigestCache returns (nil, nil) when SEALSKIN_REDIS_URL is
	// unset; that nil must reach images.New as a nil ReadThrough, not be
	// wrapped in a non-nil *ImageDigestCache interface value — so the
	// interface variable is only assigned when redisCache is non-nil.
	redisCache, err := cache.NewImageDigestCache(settings.RedisURL)
	if err != nil {
		logger.Broker().Warn().Err(err).Msg("redis image cache unavailable, continuing without it")
		redisCache = nil
	}
	var imageReadThrough images.ReadThrough
	if redisCache != nil {
		imageReadThrough = redisCache
	}
	imageCache := images.New(runtime, imageReadThrough)

	pathXlate, err := pathtranslate.Discover(ctx, runtime)
	if err != nil {
		logger.Broker().Warn().Err(err).Msg("path translation discovery failed, using identity mapping")
		pathXlate = &pathtranslate.Translator{}
	}

	store, err := sessionstore.Load(settings.SessionsDBPath)
	if err != nil {
		return nil, fmt.Errorf("load session store: %w", err)
	}
	if err := store.Reconcile(ctx, runtime); err != nil {
		logger.Broker().Warn().Err(err).Msg("session store reconcile failed")
	}

	if err := os.MkdirAll(settings.PublicStoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("prepare public storage dir: %w", err)
	}
	shares, err := share.Load(settings.PublicSharesMetadataPath, settings.PublicStoragePath)
	if err != nil {
		return nil, fmt.Errorf("load shares store: %w", err)
	}

	appStores, err := catalog.LoadAppStores(settings.AppStoresPath)
	if err != nil {
		logger.Broker().Warn().Err(err).Msg("failed to load app stores list")
	}

	eventsPub := events.NewPublisher(settings.NATSURL)
	cp := controlplane.NewHTTPClient()

	b := &Broker{
		Settings:      settings,
		Crypto:        crypto.NewChannel(privateKey),
		Identity:      identity.New(dir),
		Directory:     dir,
		Catalog:       cat,
		Autostart:     autostart.New(settings.AutostartCachePath),
		Images:        imageCache,
		PathXlate:     pathXlate,
		Storage:       storage.New(settings.StoragePath, settings.UploadDir),
		Store:         store,
		Shares:        shares,
		Runtime:       runtime,
		ControlPlane:  cp,
		Events:        eventsPub,
		LaunchLimiter: ratelimit.New(),
	}

	b.Launch = &launch.Engine{
		Catalog:             b.Catalog,
		Runtime:             b.Runtime,
		Autostart:           b.Autostart,
		Images:              b.Images,
		PathXlate:           b.PathXlate,
		Storage:             b.Storage,
		Store:               b.Store,
		GPUs:                gpu.NewCatalog(),
		PUID:                fmt.Sprintf("%d", settings.PUID),
		PGID:                fmt.Sprintf("%d", settings.PGID),
		ContainerConfigPath: settings.ContainerConfigPath,
		DefaultStoreName:    "default",
		Events:              b.Events,
	}
	b.Proxy = reverseproxy.New(b.Store, settings.SessionCookieName)
	b.Collab = collab.NewHub(b.Store, b.ControlPlane, b.Catalog, b.Launch, settings.SessionCookieName)
	b.Jobs = &jobs.Runner{
		Catalog:                     b.Catalog,
		Autostart:                   b.Autostart,
		Images:                      b.Images,
		Shares:                      b.Shares,
		Events:                      b.Events,
		AppStores:                   appStores,
		AutoUpdateIntervalSeconds:   settings.AutoUpdateIntervalSeconds,
		ShareCleanupIntervalSeconds: settings.ShareCleanupIntervalSeconds,
	}

	return b, nil
}

// Shutdown tears down background work and releases the runtime connection.
func (b *Broker) Shutdown() {
	if b.Jobs != nil {
		b.Jobs.Stop()
	}
	b.Events.Close()
	if closer, ok := b.Runtime.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Broker().Warn().Err(err).Msg("error closing container runtime")
		}
	}
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}
