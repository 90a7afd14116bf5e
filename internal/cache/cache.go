// Package cache provides the namespaced TTL store shared by the
// inventory and the catalog adapters. Entries live in memory with
// per-entry TTLs and are persisted per namespace under the cache
// directory so results survive restarts.
package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"resolvd/pkg/types"
)

// Persistence is gob-based; every concrete payload type stored in the
// cache must be registered here.
func init() {
	gob.Register([]types.SearchHit{})
	gob.Register([]types.LocalModel{})
	gob.Register(types.SearchHit{})
	gob.Register(types.LocalModel{})
}

// Namespaces recognized by the store.
const (
	NamespaceSearch    = "search"
	NamespaceInventory = "inventory"
)

// Store is a set of named TTL caches. All operations are safe for
// concurrent use; each get/set holds only that namespace's lock.
type Store struct {
	mu         sync.Mutex
	dir        string
	defaultTTL map[string]time.Duration
	spaces     map[string]*gocache.Cache
	log        zerolog.Logger
}

// Options configures a Store.
type Options struct {
	// Dir is the persistence directory. Empty disables persistence.
	Dir string
	// SearchTTL and InventoryTTL are the default TTLs per namespace.
	SearchTTL    time.Duration
	InventoryTTL time.Duration
	Log          zerolog.Logger
}

// New builds a Store and loads any persisted namespace files found in
// Options.Dir. A corrupt or unreadable file is logged and ignored.
func New(opts Options) *Store {
	s := &Store{
		dir: opts.Dir,
		defaultTTL: map[string]time.Duration{
			NamespaceSearch:    opts.SearchTTL,
			NamespaceInventory: opts.InventoryTTL,
		},
		spaces: make(map[string]*gocache.Cache),
		log:    opts.Log,
	}
	for _, ns := range []string{NamespaceSearch, NamespaceInventory} {
		c := gocache.New(s.ttlFor(ns), 10*time.Minute)
		if s.dir != "" {
			path := s.fileFor(ns)
			if _, err := os.Stat(path); err == nil {
				if err := c.LoadFile(path); err != nil {
					s.log.Warn().Str("namespace", ns).Err(err).Msg("discarding unreadable cache file")
				}
			}
		}
		s.spaces[ns] = c
	}
	return s
}

func (s *Store) ttlFor(ns string) time.Duration {
	if ttl, ok := s.defaultTTL[ns]; ok && ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}

func (s *Store) fileFor(ns string) string {
	return filepath.Join(s.dir, ns+".cache")
}

func (s *Store) space(ns string) (*gocache.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.spaces[ns]
	if !ok {
		return nil, fmt.Errorf("unknown cache namespace %q", ns)
	}
	return c, nil
}

// Get returns the cached value for (namespace, key), or ok=false on a
// miss or an expired entry.
func (s *Store) Get(namespace, key string) (any, bool) {
	c, err := s.space(namespace)
	if err != nil {
		return nil, false
	}
	return c.Get(key)
}

// Set stores value under (namespace, key) with the given ttl; ttl <= 0
// uses the namespace default.
func (s *Store) Set(namespace, key string, value any, ttl time.Duration) {
	c, err := s.space(namespace)
	if err != nil {
		return
	}
	if ttl <= 0 {
		ttl = s.ttlFor(namespace)
	}
	c.Set(key, value, ttl)
}

// Delete removes a single entry.
func (s *Store) Delete(namespace, key string) {
	if c, err := s.space(namespace); err == nil {
		c.Delete(key)
	}
}

// Clear flushes one namespace, or all when namespace is empty.
func (s *Store) Clear(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if namespace == "" {
		for _, c := range s.spaces {
			c.Flush()
		}
		return nil
	}
	c, ok := s.spaces[namespace]
	if !ok {
		return fmt.Errorf("unknown cache namespace %q", namespace)
	}
	c.Flush()
	return nil
}

// Stats returns entry counts per namespace, sorted by name.
func (s *Store) Stats() []types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.CacheStats, 0, len(s.spaces))
	for ns, c := range s.spaces {
		out = append(out, types.CacheStats{Namespace: ns, Entries: c.ItemCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out
}

// Persist writes every namespace to its file under the cache dir.
// A store built without a dir is a no-op.
func (s *Store) Persist() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ns, c := range s.spaces {
		if err := c.SaveFile(s.fileFor(ns)); err != nil {
			return fmt.Errorf("persist %s: %w", ns, err)
		}
	}
	return nil
}
