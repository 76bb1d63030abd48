// Package catalog loads the InstalledApp and AppTemplate YAML files that
// LaunchEngine and TemplateResolver consume. Simple CRUD admin endpoints
// over these files are explicitly out of scope (§1); this package only
// provides the read path the core engines need.
package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/types"
)

var templateNameRe = regexp.MustCompile(`^[A-Za-z0-9_ -]+$`)

// Catalog is an in-memory, file-backed view of installed apps and
// templates.
type Catalog struct {
	appsPath     string
	templatesDir string

	mu        sync.RWMutex
	apps      map[string]*types.InstalledApp
	templates map[string]*types.AppTemplate
}

// Load reads the installed-apps YAML list and the templates directory.
func Load(appsPath, templatesDir string) (*Catalog, error) {
	c := &Catalog{appsPath: appsPath, templatesDir: templatesDir}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rescans both sources from disk.
func (c *Catalog) Reload() error {
	apps := make(map[string]*types.InstalledApp)
	if raw, err := os.ReadFile(c.appsPath); err == nil {
		var list []types.InstalledApp
		if err := yaml.Unmarshal(raw, &list); err != nil {
			return broker.Internal("parse installed apps", err)
		}
		for i := range list {
			apps[list[i].ID] = &list[i]
		}
	} else if !os.IsNotExist(err) {
		return broker.Internal("read installed apps", err)
	}

	templates := make(map[string]*types.AppTemplate)
	if entries, err := os.ReadDir(c.templatesDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(c.templatesDir, e.Name()))
			if err != nil {
				continue
			}
			var t types.AppTemplate
			if err := yaml.Unmarshal(raw, &t); err != nil {
				continue
			}
			if !templateNameRe.MatchString(t.Name) {
				continue
			}
			templates[t.Name] = &t
		}
	}

	c.mu.Lock()
	c.apps = apps
	c.templates = templates
	c.mu.Unlock()
	return nil
}

// GetApp returns the app for id, or ok=false.
func (c *Catalog) GetApp(id string) (types.InstalledApp, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.apps[id]
	if !ok {
		return types.InstalledApp{}, false
	}
	return *a, true
}

// GetTemplate returns the template named name, or ok=false.
func (c *Catalog) GetTemplate(name string) (types.AppTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	if !ok {
		return types.AppTemplate{}, false
	}
	return *t, true
}

// AutoUpdateApps returns every installed app with auto_update enabled.
func (c *Catalog) AutoUpdateApps() []types.InstalledApp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.InstalledApp
	for _, a := range c.apps {
		if a.AutoUpdate {
			out = append(out, *a)
		}
	}
	return out
}

// VisibleApps returns apps visible to username per §3's visibility invariant.
func (c *Catalog) VisibleApps(username, group string) []types.InstalledApp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.InstalledApp
	for _, a := range c.apps {
		if a.VisibleTo(username, group) {
			out = append(out, *a)
		}
	}
	return out
}
