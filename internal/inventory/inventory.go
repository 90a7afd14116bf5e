// Package inventory indexes the model files present under the models
// root and answers exact and fuzzy lookups against them. Scans are
// cached with a TTL and collapsed so concurrent callers share one walk;
// an optional filesystem watcher invalidates the cached scan when the
// tree changes.
package inventory

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"resolvd/internal/cache"
	"resolvd/internal/common/fsutil"
	"resolvd/internal/keywords"
	"resolvd/pkg/types"
)

// snapshot is one completed scan plus its exact-lookup index. Readers
// get the whole value; a refresh replaces it atomically.
type snapshot struct {
	models []types.LocalModel
	byName map[string]types.LocalModel
	taken  time.Time
}

// Inventory scans and queries the local model tree.
type Inventory struct {
	root  string
	store *cache.Store
	ttl   time.Duration
	log   zerolog.Logger
	group singleflight.Group

	mu   sync.RWMutex
	snap *snapshot
}

// Options configures an Inventory.
type Options struct {
	// Root is the models root directory; '~' is expanded.
	Root string
	// Store caches scan results under the inventory namespace.
	Store *cache.Store
	// TTL bounds how long a cached scan is served.
	TTL time.Duration
	Log zerolog.Logger
}

// New builds an Inventory. The root does not need to exist yet; a scan
// of a missing root yields an empty index.
func New(opts Options) (*Inventory, error) {
	root, err := fsutil.ExpandHome(opts.Root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Inventory{
		root:  abs,
		store: opts.Store,
		ttl:   ttl,
		log:   opts.Log,
	}, nil
}

// Root returns the absolute models root.
func (inv *Inventory) Root() string { return inv.root }

// Index returns all model files under the root, serving a cached scan
// within the TTL. Concurrent callers with a cold cache share a single
// walk. Unreadable subtrees are skipped and logged; scanning itself
// never fails.
func (inv *Inventory) Index() []types.LocalModel {
	return inv.current().models
}

func (inv *Inventory) current() *snapshot {
	inv.mu.RLock()
	snap := inv.snap
	inv.mu.RUnlock()
	if snap != nil && time.Since(snap.taken) < inv.ttl {
		return snap
	}
	v, _, _ := inv.group.Do(inv.root, func() (any, error) {
		var models []types.LocalModel
		// A concurrent writer may already have refreshed; the cache
		// store also holds scans persisted by earlier runs.
		if inv.store != nil {
			if cached, ok := inv.store.Get(cache.NamespaceInventory, inv.root); ok {
				if ms, ok := cached.([]types.LocalModel); ok {
					models = ms
				}
			}
		}
		if models == nil {
			models = inv.scan()
			if inv.store != nil {
				inv.store.Set(cache.NamespaceInventory, inv.root, models, inv.ttl)
			}
		}
		snap := &snapshot{
			models: models,
			byName: make(map[string]types.LocalModel, len(models)),
			taken:  time.Now(),
		}
		for _, m := range models {
			snap.byName[strings.ToLower(m.Filename)] = m
		}
		inv.mu.Lock()
		inv.snap = snap
		inv.mu.Unlock()
		return snap, nil
	})
	return v.(*snapshot)
}

// Invalidate drops the cached scan so the next Index walks the disk.
func (inv *Inventory) Invalidate() {
	inv.mu.Lock()
	inv.snap = nil
	inv.mu.Unlock()
	if inv.store != nil {
		inv.store.Delete(cache.NamespaceInventory, inv.root)
	}
}

func (inv *Inventory) scan() []types.LocalModel {
	var models []types.LocalModel
	skipped := 0
	err := filepath.WalkDir(inv.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !keywords.HasModelExtension(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			skipped++
			return nil
		}
		rel, err := filepath.Rel(inv.root, path)
		if err != nil {
			rel = name
		}
		subdir := ""
		if i := strings.IndexRune(rel, filepath.Separator); i >= 0 {
			subdir = rel[:i]
		}
		models = append(models, types.LocalModel{
			AbsolutePath: path,
			Filename:     name,
			SizeBytes:    info.Size(),
			ModifiedAt:   info.ModTime(),
			Subdirectory: subdir,
			Keywords:     keywords.Extract(name),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		inv.log.Warn().Err(err).Str("root", inv.root).Msg("inventory walk error")
	}
	if skipped > 0 {
		inv.log.Warn().Int("skipped", skipped).Str("root", inv.root).Msg("skipped unreadable entries")
	}
	return models
}

// LookupExact finds a model by case-insensitive filename in constant
// time against the current snapshot.
func (inv *Inventory) LookupExact(filename string) (types.LocalModel, bool) {
	m, ok := inv.current().byName[strings.ToLower(filename)]
	return m, ok
}

// LookupFuzzy scores all models in the canonical subdirectory for the
// requested kind (all models when kindSubdir is empty) against the
// given keywords and returns the best hit at or above threshold.
// threshold = 1.0 reduces to exact keyword-set equality.
func (inv *Inventory) LookupFuzzy(kw []string, kindSubdir string, threshold float64) (types.LocalModel, float64, bool) {
	var best types.LocalModel
	bestScore := 0.0
	found := false
	for _, m := range inv.Index() {
		if kindSubdir != "" && m.Subdirectory != kindSubdir {
			continue
		}
		score := keywords.Jaccard(kw, m.Keywords)
		if score < threshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = m, score, true
		}
	}
	return best, bestScore, found
}

// Watch starts a filesystem watcher on the root and its immediate
// subdirectories; any create/remove/rename/write invalidates the
// cached scan. Returns a stop function.
func (inv *Inventory) Watch() (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(inv.root); err != nil {
		w.Close()
		return nil, err
	}
	if entries, err := os.ReadDir(inv.root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				// best effort; a vanished subdir is not fatal
				_ = w.Add(filepath.Join(inv.root, e.Name()))
			}
		}
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					inv.log.Debug().Str("path", ev.Name).Msg("inventory invalidated by fs event")
					inv.Invalidate()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				inv.log.Warn().Err(err).Msg("inventory watcher error")
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		w.Close()
	}, nil
}
