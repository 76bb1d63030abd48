// Package autostart implements AutostartCache (§4.F): an on-disk,
// ETag-aware cache of per-app autostart scripts fetched from app stores.
package autostart

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/logger"
)

// StoreEntry is one catalog entry considered for autostart refresh.
type StoreEntry struct {
	SourceAppID    string `yaml:"source_app_id"`
	ScriptURL      string `yaml:"autostart_script_url"`
	ProviderConfig struct {
		Autostart bool `yaml:"autostart"`
	} `yaml:"provider_config"`
}

type storeIndex struct {
	Entries []StoreEntry `yaml:"apps"`
}

type meta struct {
	ETag string `yaml:"etag"`
}

// Cache maintains <cache_root>/<store_name>/<source_app_id> script files
// and sibling .meta ETag files.
type Cache struct {
	root       string
	httpClient *http.Client
	// concurrency bounds per-round fan-out across entries.
	concurrency int
}

// New constructs a Cache rooted at cacheRoot.
func New(cacheRoot string) *Cache {
	return &Cache{
		root:        cacheRoot,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		concurrency: 8,
	}
}

// RefreshStore fetches storeIndexURL, and for every autostart-enabled entry,
// conditionally refreshes its cached script. Network failures are logged
// and skipped; RefreshStore itself never returns an I/O error to the caller
// (§4.F point 4: "never crash the caller").
func (c *Cache) RefreshStore(ctx context.Context, storeName, storeIndexURL string) {
	entries, err := c.fetchIndex(ctx, storeIndexURL)
	if err != nil {
		logger.Broker().Warn().Err(err).Str("store", storeName).Msg("autostart: failed to fetch store index")
		return
	}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for _, e := range entries {
		if !e.ProviderConfig.Autostart {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(entry StoreEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			c.refreshEntry(ctx, storeName, entry)
		}(e)
	}
	wg.Wait()
}

func (c *Cache) fetchIndex(ctx context.Context, url string) ([]StoreEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var idx storeIndex
	if err := yaml.Unmarshal(body, &idx); err != nil {
		return nil, err
	}
	return idx.Entries, nil
}

func (c *Cache) refreshEntry(ctx context.Context, storeName string, entry StoreEntry) {
	scriptPath := filepath.Join(c.root, storeName, entry.SourceAppID)
	metaPath := scriptPath + ".meta"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.ScriptURL, nil)
	if err != nil {
		logger.Broker().Warn().Err(err).Str("app", entry.SourceAppID).Msg("autostart: bad request")
		return
	}
	if m, err := readMeta(metaPath); err == nil && m.ETag != "" {
		req.Header.Set("If-None-Match", m.ETag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Broker().Warn().Err(err).Str("app", entry.SourceAppID).Msg("autostart: fetch failed")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return
	case http.StatusNotFound:
		_ = os.WriteFile(scriptPath, []byte{}, 0o644)
		_ = os.Remove(metaPath)
		return
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			logger.Broker().Warn().Err(err).Str("app", entry.SourceAppID).Msg("autostart: read body failed")
			return
		}
		if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
			logger.Broker().Warn().Err(err).Msg("autostart: mkdir failed")
			return
		}
		if err := os.WriteFile(scriptPath, body, 0o644); err != nil {
			logger.Broker().Warn().Err(err).Msg("autostart: write script failed")
			return
		}
		etag := resp.Header.Get("ETag")
		if etag != "" {
			writeMeta(metaPath, meta{ETag: etag})
		}
	default:
		logger.Broker().Warn().Int("status", resp.StatusCode).Str("app", entry.SourceAppID).Msg("autostart: unexpected status")
	}
}

func readMeta(path string) (meta, error) {
	var m meta
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = yaml.Unmarshal(raw, &m)
	return m, err
}

func writeMeta(path string, m meta) {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, raw, 0o644)
}

// ScriptFor returns the cached script content for a previously-refreshed
// app, or empty if no cached entry exists.
func (c *Cache) ScriptFor(storeName, sourceAppID string) []byte {
	body, err := os.ReadFile(filepath.Join(c.root, storeName, sourceAppID))
	if err != nil {
		return nil
	}
	return body
}
