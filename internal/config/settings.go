// Package config loads broker settings from SEALSKIN_-prefixed environment
// variables, mirroring the setting table of the original Python service.
package config

import (
	"os"
	"strconv"

	"github.com/streamspace/sealskin/internal/logger"
)

// Settings holds every broker-wide configuration knob. Zero-value-unsafe
// fields (paths, ports) are populated with the same defaults the original
// service ships.
type Settings struct {
	LogLevel string

	APIPort     int
	SessionPort int

	DefaultProvider string

	AppResourcePath       string
	InstalledAppsPath     string
	AppStoresPath         string
	AppTemplatesPath      string
	DefaultAppTemplatesPath string

	UploadDir          string
	SessionCookieName  string
	AutostartCachePath string

	AutoUpdateApps           bool
	AutoUpdateIntervalSeconds int

	PUID int
	PGID int

	KeysBasePath   string
	GroupsBasePath string
	StoragePath    string

	ContainerConfigPath string

	ServerPrivateKeyPath string
	ProxyKeyPath         string
	ProxyCertPath        string

	PublicStoragePath         string
	PublicSharesMetadataPath  string
	ShareCleanupIntervalSeconds int

	SessionsDBPath string

	RedisURL string
	NATSURL  string
}

// Load populates Settings from the environment, logging and falling back to
// the default whenever a value is present but fails to parse.
func Load() *Settings {
	s := &Settings{
		LogLevel:                   envStr("SEALSKIN_LOG_LEVEL", "info"),
		APIPort:                    envInt("SEALSKIN_API_PORT", 8000),
		SessionPort:                envInt("SEALSKIN_SESSION_PORT", 8443),
		DefaultProvider:            envStr("SEALSKIN_DEFAULT_PROVIDER", "docker"),
		AppResourcePath:            envStr("SEALSKIN_APP_RESOURCE_PATH", ""),
		InstalledAppsPath:          envStr("SEALSKIN_INSTALLED_APPS_PATH", "/config/installed_apps.yml"),
		AppStoresPath:              envStr("SEALSKIN_APP_STORES_PATH", "/config/app_stores.yml"),
		AppTemplatesPath:           envStr("SEALSKIN_APP_TEMPLATES_PATH", "/config/app_templates"),
		DefaultAppTemplatesPath:    envStr("SEALSKIN_DEFAULT_APP_TEMPLATES_PATH", "/config/default_app_templates"),
		UploadDir:                  envStr("SEALSKIN_UPLOAD_DIR", "/tmp/sealskin_uploads"),
		SessionCookieName:          envStr("SEALSKIN_SESSION_COOKIE_NAME", "sealskin_session_token"),
		AutostartCachePath:         envStr("SEALSKIN_AUTOSTART_CACHE_PATH", "/config/autostart_cache"),
		AutoUpdateApps:             envBool("SEALSKIN_AUTO_UPDATE_APPS", true),
		AutoUpdateIntervalSeconds:  envInt("SEALSKIN_AUTO_UPDATE_INTERVAL_SECONDS", 3600),
		PUID:                       envInt("SEALSKIN_PUID", 1000),
		PGID:                       envInt("SEALSKIN_PGID", 1000),
		KeysBasePath:               envStr("SEALSKIN_KEYS_BASE_PATH", "/config/keys"),
		GroupsBasePath:             envStr("SEALSKIN_GROUPS_BASE_PATH", "/config/groups"),
		StoragePath:                envStr("SEALSKIN_STORAGE_PATH", "/storage"),
		ContainerConfigPath:        envStr("SEALSKIN_CONTAINER_CONFIG_PATH", "/config"),
		ServerPrivateKeyPath:       envStr("SEALSKIN_SERVER_PRIVATE_KEY_PATH", "/config/keys/server_private_key.pem"),
		ProxyKeyPath:               envStr("SEALSKIN_PROXY_KEY_PATH", ""),
		ProxyCertPath:              envStr("SEALSKIN_PROXY_CERT_PATH", ""),
		PublicStoragePath:          envStr("SEALSKIN_PUBLIC_STORAGE_PATH", "/storage/public"),
		PublicSharesMetadataPath:   envStr("SEALSKIN_PUBLIC_SHARES_METADATA_PATH", "/config/public_shares.yml"),
		ShareCleanupIntervalSeconds: envInt("SEALSKIN_SHARE_CLEANUP_INTERVAL_SECONDS", 600),
		SessionsDBPath:             envStr("SEALSKIN_SESSIONS_DB_PATH", "/config/sessions.yml"),
		RedisURL:                   envStr("SEALSKIN_REDIS_URL", ""),
		NATSURL:                    envStr("SEALSKIN_NATS_URL", ""),
	}
	return s
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Broker().Warn().Str("key", key).Str("value", v).Msg("invalid int setting, using default")
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Broker().Warn().Str("key", key).Str("value", v).Msg("invalid bool setting, using default")
		return def
	}
	return b
}
