// Package imagecache short-circuits redundant PullImage calls. A container
// create task (internal/worktree) calls PullImage once per task attempt;
// without a cache every retry of a failing CreateContainer re-pulls an
// image that is already present. Cache adapts the teacher's
// ImageDigestTracker (internal/reconciler/imagedigest.go) down to this
// repo's one real need — a TTL'd "have I pulled this recently" cache — and
// drops the registry-polling and digest-confirmation machinery that
// tracker needed for drift detection, which has no analogue here.
package imagecache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/noderecon/internal/criruntime"
)

// Cache remembers, for each image reference, the last time PullImage
// succeeded for it. A pull within TTL of the last success is skipped.
type Cache struct {
	mu      sync.RWMutex
	pulled  map[string]time.Time
	ttl     time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates a Cache with the given TTL. A zero TTL disables caching —
// every call pulls.
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		pulled:  make(map[string]time.Time),
		ttl:     ttl,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// EnsurePulled implements worktree.ImagePuller: it pulls image through
// client unless a pull for the same reference succeeded within the last
// TTL.
func (c *Cache) EnsurePulled(ctx context.Context, client criruntime.RuntimeClient, image string) error {
	if c.ttl <= 0 {
		_, err := client.PullImage(ctx, image)
		return err
	}

	if c.recentlyPulled(image) {
		c.logger.Debug("skipping pull, image cached", "image", image)
		return nil
	}

	if _, err := client.PullImage(ctx, image); err != nil {
		return err
	}

	c.mu.Lock()
	c.pulled[image] = c.nowFunc()
	c.mu.Unlock()
	return nil
}

func (c *Cache) recentlyPulled(image string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.pulled[image]
	if !ok {
		return false
	}
	return c.nowFunc().Sub(last) < c.ttl
}
