// Package cache provides a bounded read-through cache that remembers misses.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Loader fetches the value for key from the backing store. found=false is a
// valid answer and is cached like a hit; errors are never cached.
type Loader[V any] func(ctx context.Context, key string) (v V, found bool, err error)

type entry[V any] struct {
	v     V
	found bool
}

// Loading is safe for concurrent use. Concurrent misses on one key share a
// single loader call.
type Loading[V any] struct {
	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group
	load    Loader[V]

	hits   atomic.Int64
	misses atomic.Int64
}

func New[V any](size int, load Loader[V]) (*Loading[V], error) {
	if load == nil {
		return nil, fmt.Errorf("cache: nil loader")
	}
	entries, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Loading[V]{entries: entries, load: load}, nil
}

func (c *Loading[V]) Get(ctx context.Context, key string) (V, bool, error) {
	if e, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return e.v, e.found, nil
	}
	c.misses.Add(1)
	// the load is shared, so one caller giving up must not fail the others
	ch := c.group.DoChan(key, func() (any, error) {
		v, found, err := c.load(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		e := entry[V]{v: v, found: found}
		c.entries.Add(key, e)
		return e, nil
	})
	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		e := res.Val.(entry[V])
		return e.v, e.found, nil
	}
}

// Preload seeds the cache, e.g. with values the caller already holds.
func (c *Loading[V]) Preload(key string, v V, found bool) {
	c.entries.Add(key, entry[V]{v: v, found: found})
}

func (c *Loading[V]) Purge() { c.entries.Purge() }

type Stats struct {
	Len    int   `json:"len"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (c *Loading[V]) Stats() Stats {
	return Stats{Len: c.entries.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
