package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

const settingsMarker = "--- Settings ---"
const publicKeyMarker = "--- Public Key ---"

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FSDirectory loads users, admins and groups from the on-disk key-file
// layout of the original service: `<keys_base>/<username>` for regular
// users (`--- Settings ---\n<yaml>\n--- Public Key ---\n<PEM>\n`),
// `<keys_base>/admins/<username>` for admins (bare PEM, no settings
// section), and `<groups_base>/<name>.yml` for group overrides.
type FSDirectory struct {
	keysBasePath   string
	groupsBasePath string

	mu     sync.RWMutex
	users  map[string]types.User
	groups map[string]types.Group
}

// NewFSDirectory loads the full directory from disk.
func NewFSDirectory(keysBasePath, groupsBasePath string) (*FSDirectory, error) {
	d := &FSDirectory{
		keysBasePath:   keysBasePath,
		groupsBasePath: groupsBasePath,
	}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload rescans the key-file and group-file directories from scratch,
// mirroring load_users_and_groups.
func (d *FSDirectory) Reload() error {
	users := make(map[string]types.User)
	groups := make(map[string]types.Group)

	adminsDir := filepath.Join(d.keysBasePath, "admins")
	if entries, err := os.ReadDir(adminsDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(adminsDir, e.Name()))
			if err != nil {
				logger.Broker().Warn().Err(err).Str("file", e.Name()).Msg("failed to read admin key file")
				continue
			}
			users[e.Name()] = types.User{
				Username:  e.Name(),
				PublicKey: string(pem),
				IsAdmin:   true,
			}
		}
	}

	if entries, err := os.ReadDir(d.keysBasePath); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(d.keysBasePath, e.Name()))
			if err != nil {
				logger.Broker().Warn().Err(err).Str("file", e.Name()).Msg("failed to read user key file")
				continue
			}
			settings, pem, err := parseKeyFile(string(raw))
			if err != nil {
				logger.Broker().Warn().Err(err).Str("file", e.Name()).Msg("failed to parse user key file")
				continue
			}
			users[e.Name()] = types.User{
				Username:  e.Name(),
				PublicKey: pem,
				IsAdmin:   false,
				Settings:  settings,
			}
		}
	}

	if entries, err := os.ReadDir(d.groupsBasePath); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(d.groupsBasePath, e.Name()))
			if err != nil {
				continue
			}
			var settings types.UserSettings
			if err := yaml.Unmarshal(raw, &settings); err != nil {
				logger.Broker().Warn().Err(err).Str("file", e.Name()).Msg("failed to parse group file")
				continue
			}
			name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			groups[name] = types.Group{Name: name, Settings: settings}
		}
	}

	d.mu.Lock()
	d.users = users
	d.groups = groups
	d.mu.Unlock()
	return nil
}

// parseKeyFile splits a user key file into its settings YAML and PEM block,
// the way parse_key_file does.
func parseKeyFile(raw string) (types.UserSettings, string, error) {
	idx := strings.Index(raw, publicKeyMarker)
	if idx == -1 {
		return types.UserSettings{}, "", fmt.Errorf("missing %q marker", publicKeyMarker)
	}
	settingsPart := strings.TrimPrefix(raw[:idx], settingsMarker)
	pem := strings.TrimSpace(raw[idx+len(publicKeyMarker):])

	settings := types.DefaultUserSettings()
	if err := yaml.Unmarshal([]byte(settingsPart), &settings); err != nil {
		return types.UserSettings{}, "", fmt.Errorf("parse settings yaml: %w", err)
	}
	return settings, pem, nil
}

// WriteUserFile serialises settings+pem in the on-disk format, mode 0600,
// matching write_user_file.
func WriteUserFile(path string, settings types.UserSettings, pem string) error {
	y, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	content := fmt.Sprintf("%s\n%s\n%s\n%s\n", settingsMarker, string(y), publicKeyMarker, pem)
	return os.WriteFile(path, []byte(content), 0o600)
}

func (d *FSDirectory) GetUser(ctx context.Context, username string) (types.User, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	return u, ok, nil
}

func (d *FSDirectory) EffectiveSettings(ctx context.Context, username string) (types.UserSettings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return types.UserSettings{}, broker.NotFound("unknown user")
	}
	if u.Settings.Group == "" || u.Settings.Group == "none" {
		return u.Settings, nil
	}
	g, ok := d.groups[u.Settings.Group]
	if !ok {
		return u.Settings, nil
	}
	return effectiveSettings(u.Settings, &g), nil
}

func (d *FSDirectory) DeleteUser(ctx context.Context, username string) error {
	if !usernameRe.MatchString(username) {
		return broker.Validation("invalid username")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; !ok {
		return broker.NotFound("unknown user")
	}
	delete(d.users, username)
	return os.Remove(filepath.Join(d.keysBasePath, username))
}

var _ Directory = (*FSDirectory)(nil)
