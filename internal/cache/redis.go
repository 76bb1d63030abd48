// Package cache provides an optional Redis-backed read-through layer for
// ImageMetadataCache digests, adapted from the teacher's
// internal/cache/keys.go prefix/key-builder convention. Its methods are not
// nil-safe: a nil *ImageDigestCache must not be used as a ReadThrough.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamspace/sealskin/internal/logger"
)

const prefixImageDigests = "sealskin:image:digests:"

// ImageDigestCache is a Redis-backed images.ReadThrough implementation.
type ImageDigestCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewImageDigestCache connects to redisURL. Returns nil, nil if redisURL is
// empty; callers pass a nil ReadThrough in that case rather than the nil
// pointer, whose methods dereference the receiver.
func NewImageDigestCache(redisURL string) (*ImageDigestCache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	return &ImageDigestCache{client: client, ttl: 24 * time.Hour}, nil
}

func imageDigestsKey(image string) string {
	return prefixImageDigests + image
}

// GetDigests returns the cached digest list for image, if present.
func (c *ImageDigestCache) GetDigests(ctx context.Context, image string) ([]string, bool) {
	val, err := c.client.Get(ctx, imageDigestsKey(image)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Broker().Debug().Err(err).Msg("redis image digest read failed")
		}
		return nil, false
	}
	if val == "" {
		return nil, false
	}
	return strings.Split(val, ","), true
}

// SetDigests stores the digest list for image, best-effort.
func (c *ImageDigestCache) SetDigests(ctx context.Context, image string, digests []string) {
	if err := c.client.Set(ctx, imageDigestsKey(image), strings.Join(digests, ","), c.ttl).Err(); err != nil {
		logger.Broker().Debug().Err(err).Msg("redis image digest write failed")
	}
}
