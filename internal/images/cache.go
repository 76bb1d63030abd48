// Package images implements ImageMetadataCache (§4.G): tracking local
// digests, last-pull time, and in-flight pull status per image, with an
// optional Redis read-through layer for shared deployments.
package images

import (
	"context"
	"sync"
	"time"

	"github.com/streamspace/sealskin/internal/containerruntime"
	"github.com/streamspace/sealskin/internal/logger"
)

// PullStatus enumerates an image's pull lifecycle state.
type PullStatus string

const (
	PullStatusIdle    PullStatus = "idle"
	PullStatusPulling PullStatus = "pulling"
)

// Entry is one image's cached metadata.
type Entry struct {
	ShortID       string
	Digests       []string
	LastCheckedAt time.Time
	PullStatus    PullStatus
}

// Cache is the in-process image metadata table. PullStatus acts as the
// per-image mutex described in §5: a second concurrent PullAndCache call
// for the same image observes "pulling" and returns immediately.
type Cache struct {
	runtime containerruntime.Runtime
	redis   ReadThrough

	mu      sync.Mutex
	entries map[string]*Entry
}

// ReadThrough is the optional Redis-backed digest cache from SPEC_FULL.md
// §2.2. A nil ReadThrough means no shared cache is configured.
type ReadThrough interface {
	GetDigests(ctx context.Context, image string) ([]string, bool)
	SetDigests(ctx context.Context, image string, digests []string)
}

// New constructs a Cache around runtime. redis may be nil.
func New(runtime containerruntime.Runtime, redis ReadThrough) *Cache {
	return &Cache{
		runtime: runtime,
		redis:   redis,
		entries: make(map[string]*Entry),
	}
}

// PullAndCache pulls image if no pull is already in flight for it, and
// updates LastCheckedAt on success. A second caller observing "pulling"
// returns immediately without pulling (§8 testable property).
func (c *Cache) PullAndCache(ctx context.Context, image string) error {
	c.mu.Lock()
	e, ok := c.entries[image]
	if !ok {
		e = &Entry{}
		c.entries[image] = e
	}
	if e.PullStatus == PullStatusPulling {
		c.mu.Unlock()
		return nil
	}
	e.PullStatus = PullStatusPulling
	c.mu.Unlock()

	err := c.runtime.Pull(ctx, image)

	c.mu.Lock()
	defer c.mu.Unlock()
	e.PullStatus = PullStatusIdle
	if err != nil {
		logger.Broker().Warn().Err(err).Str("image", image).Msg("image pull failed")
		return err
	}
	e.LastCheckedAt = time.Now()
	if info, infoErr := c.runtime.LocalInfo(ctx, image); infoErr == nil {
		e.ShortID = info.ShortID
		e.Digests = info.Digests
		if c.redis != nil {
			c.redis.SetDigests(ctx, image, info.Digests)
		}
	}
	return nil
}

// UpdateAvailable reports whether remoteDigest is not already among the
// image's known local digests.
func (c *Cache) UpdateAvailable(ctx context.Context, image string) (bool, error) {
	remote, err := c.runtime.RemoteDigest(ctx, image)
	if err != nil {
		return false, err
	}
	digests := c.localDigests(ctx, image)
	for _, d := range digests {
		if d == remote {
			return false, nil
		}
	}
	return true, nil
}

func (c *Cache) localDigests(ctx context.Context, image string) []string {
	c.mu.Lock()
	e, ok := c.entries[image]
	c.mu.Unlock()
	if ok && len(e.Digests) > 0 {
		return e.Digests
	}
	if c.redis != nil {
		if digests, found := c.redis.GetDigests(ctx, image); found {
			return digests
		}
	}
	if info, err := c.runtime.LocalInfo(ctx, image); err == nil {
		return info.Digests
	}
	return nil
}

// Get returns a copy of the cached entry for image, or ok=false.
func (c *Cache) Get(image string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[image]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
