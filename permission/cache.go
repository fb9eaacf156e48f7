package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrResolverUnavailable wraps resolver failures. Callers must treat it as
// "no grants" and deny.
var ErrResolverUnavailable = errors.New("grant resolver unavailable")

const (
	defaultCacheTTL  = 300 * time.Second
	defaultCacheSize = 10000
)

// Resolver loads the grants held by a subject.
type Resolver interface {
	ResolveGrants(ctx context.Context, subject string) ([]string, error)
}

// ResolverFunc adapts a function to [Resolver].
type ResolverFunc func(ctx context.Context, subject string) ([]string, error)

// ResolveGrants calls f.
func (f ResolverFunc) ResolveGrants(ctx context.Context, subject string) ([]string, error) {
	return f(ctx, subject)
}

// CacheConfig bounds the cache.
type CacheConfig struct {
	TTL  time.Duration
	Size int
}

type generation struct {
	global  uint64
	subject uint64
}

// Cache memoises resolved grants per subject.
type Cache struct {
	resolver Resolver
	entries  *expirable.LRU[string, *Grants]
	group    singleflight.Group

	mu     sync.Mutex
	global uint64
	gens   map[string]uint64
}

// NewCache returns a Cache in front of resolver.
func NewCache(resolver Resolver, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	return &Cache{
		resolver: resolver,
		entries:  expirable.NewLRU[string, *Grants](cfg.Size, nil, cfg.TTL),
		gens:     make(map[string]uint64),
	}
}

// Get returns the grants of subject, resolving them on a miss. Within the
// TTL every call returns the same pointer.
func (c *Cache) Get(ctx context.Context, subject string) (*Grants, error) {
	if g, ok := c.entries.Get(subject); ok {
		return g, nil
	}

	gen := c.generation(subject)
	key := subject + "#" + strconv.FormatUint(gen.global, 10) + "." + strconv.FormatUint(gen.subject, 10)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if g, ok := c.entries.Get(subject); ok {
			return g, nil
		}
		names, err := c.resolver.ResolveGrants(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
		}
		g := NewGrants(names)
		c.store(subject, gen, g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Grants), nil
}

// Invalidate drops subject's cached grants.
func (c *Cache) Invalidate(subject string) {
	c.mu.Lock()
	c.gens[subject]++
	c.entries.Remove(subject)
	c.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.global++
	c.gens = make(map[string]uint64)
	c.entries.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached subjects.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) generation(subject string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{global: c.global, subject: c.gens[subject]}
}

func (c *Cache) store(subject string, gen generation, g *Grants) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.global != gen.global || c.gens[subject] != gen.subject {
		return
	}
	c.entries.Add(subject, g)
}
