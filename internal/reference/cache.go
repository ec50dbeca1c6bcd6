package reference

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Provider hands out the current reference snapshot. Refresh always returns a usable
// snapshot; a non-nil error only reports that the latest refresh attempt failed.
type Provider interface {
	Refresh(ctx context.Context, now time.Time) (*Snapshot, error)
}

const DefaultTTL = 10 * time.Minute

type cacheEntry struct {
	snapshot  *Snapshot
	fetchedAt time.Time
}

type loadFailure struct {
	err error
	at  time.Time
}

// Cache is a process-wide TTL cache in front of a Loader. Concurrent refreshes share one
// load, and a failed load keeps serving the previous snapshot.
type Cache struct {
	loader       Loader
	ttl          time.Duration
	fetchTimeout time.Duration
	retryAfter   time.Duration
	current      atomic.Pointer[cacheEntry]
	lastFailure  atomic.Pointer[loadFailure]
	group        singleflight.Group
}

func NewCache(loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		loader:       loader,
		ttl:          ttl,
		fetchTimeout: 30 * time.Second,
		retryAfter:   30 * time.Second,
	}
}

func (c *Cache) Refresh(ctx context.Context, now time.Time) (*Snapshot, error) {
	if entry := c.current.Load(); entry != nil && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.snapshot, nil
	}
	if failure := c.lastFailure.Load(); failure != nil && now.Sub(failure.at) < c.retryAfter {
		return c.fallback(), failure.err
	}

	result, err, _ := c.group.Do("reference", func() (any, error) {
		// a refresh that completed while this caller waited for the flight is reused.
		if entry := c.current.Load(); entry != nil && now.Sub(entry.fetchedAt) < c.ttl {
			return entry.snapshot, nil
		}

		// the load must outlive the first caller's cancellation since others share it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		snapshot, err := c.loader.Load(loadCtx, now)
		if err != nil {
			c.lastFailure.Store(&loadFailure{err: err, at: now})
			return nil, err
		}
		c.current.Store(&cacheEntry{snapshot: snapshot, fetchedAt: now})
		c.lastFailure.Store(nil)
		return snapshot, nil
	})
	if err != nil {
		return c.fallback(), err
	}
	return result.(*Snapshot), nil
}

// Current is Refresh for callers that must not fail: refresh errors are logged.
func (c *Cache) Current(ctx context.Context, now time.Time) *Snapshot {
	snapshot, err := c.Refresh(ctx, now)
	if err != nil {
		log.Warn().Err(err).Time("servedLoadedAt", snapshot.LoadedAt).Msg("reference refresh failed, serving cached data")
	}
	return snapshot
}

// Invalidate forces the next Refresh to reload while still serving stale data on failure.
func (c *Cache) Invalidate() {
	c.lastFailure.Store(nil)
	entry := c.current.Load()
	if entry == nil {
		return
	}
	c.current.CompareAndSwap(entry, &cacheEntry{snapshot: entry.snapshot})
}

func (c *Cache) fallback() *Snapshot {
	if entry := c.current.Load(); entry != nil {
		return entry.snapshot
	}
	return Empty()
}

// Static serves a fixed snapshot. It is used by tests and offline tooling.
type Static struct {
	Snapshot *Snapshot
}

func (s Static) Refresh(context.Context, time.Time) (*Snapshot, error) {
	if s.Snapshot == nil {
		return Empty(), nil
	}
	return s.Snapshot, nil
}
