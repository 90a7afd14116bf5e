// Package core wires the resolution pipeline together: one Core value
// built from configuration owns the cache, inventory, matcher,
// searcher and download manager, and exposes the operations the HTTP
// layer and the CLI consume.
package core

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"resolvd/internal/analyzer"
	"resolvd/internal/cache"
	"resolvd/internal/catalog"
	"resolvd/internal/common/fsutil"
	"resolvd/internal/config"
	"resolvd/internal/downloader"
	"resolvd/internal/inventory"
	"resolvd/internal/matcher"
	"resolvd/internal/querygen"
	"resolvd/internal/search"
	"resolvd/pkg/types"
)

// Core is the explicit composition root; there are no package-level
// singletons.
type Core struct {
	cfg       config.Config
	log       zerolog.Logger
	store     *cache.Store
	analyzer  *analyzer.Analyzer
	inventory *inventory.Inventory
	matcher   *matcher.Matcher
	searcher  *search.Searcher
	downloads *downloader.Manager
	stopWatch func()
}

// New builds a Core from an already-validated configuration.
func New(cfg config.Config, log zerolog.Logger) (*Core, error) {
	cacheDir, err := fsutil.ExpandHome(cfg.Paths.CacheDir)
	if err != nil {
		return nil, err
	}
	store := cache.New(cache.Options{
		Dir:          cacheDir,
		SearchTTL:    time.Duration(cfg.Cache.SearchTTLS) * time.Second,
		InventoryTTL: time.Duration(cfg.Cache.InventoryTTLS) * time.Second,
		Log:          log,
	})

	inv, err := inventory.New(inventory.Options{
		Root:  cfg.Paths.ModelsRoot,
		Store: store,
		TTL:   time.Duration(cfg.Cache.InventoryTTLS) * time.Second,
		Log:   log,
	})
	if err != nil {
		return nil, err
	}

	client := catalog.NewClient(time.Duration(cfg.Search.TimeoutS)*time.Second, 2)
	router := search.NewRouter(nil, cfg.Router.OfficialPrefixes)
	router.Register(catalog.NewHub(catalog.HubOptions{
		Client:  client,
		Store:   store,
		BaseURL: cfg.CatalogH.BaseURL,
		Token:   cfg.CatalogH.Token,
		Log:     log,
	}))
	router.Register(catalog.NewCivitai(catalog.CivitaiOptions{
		Client:  client,
		Store:   store,
		BaseURL: cfg.CatalogC.BaseURL,
		APIKey:  cfg.CatalogC.APIKey,
		Log:     log,
	}))

	searcher := search.New(search.Options{
		Router:      router,
		Ranker:      search.NewRanker(cfg.Router.CuratedAuthors),
		Synth:       querygen.New(cfg.Router.CuratedAuthors),
		Concurrency: cfg.Search.Concurrency,
		Timeout:     time.Duration(cfg.Search.TimeoutS) * time.Second,
		Log:         log,
	})

	downloads := downloader.New(downloader.Config{
		Concurrency:    cfg.Download.Concurrency,
		Retries:        cfg.Download.Retries,
		ChunkBytes:     cfg.Download.ChunkBytes,
		PerTaskTimeout: time.Duration(cfg.Download.PerTaskTimeoutS) * time.Second,
		HistorySize:    cfg.Download.HistorySize,
		HeadersFor: downloader.HostHeaderDeriver(
			hostOf(cfg.CatalogH.BaseURL), cfg.CatalogH.Token,
			hostOf(cfg.CatalogC.BaseURL), cfg.CatalogC.APIKey,
		),
		Log: log,
	})

	c := &Core{
		cfg:       cfg,
		log:       log,
		store:     store,
		analyzer:  analyzer.New(log),
		inventory: inv,
		matcher:   matcher.New(inv, cfg.SubdirFor, cfg.Matching.FuzzyThreshold),
		searcher:  searcher,
		downloads: downloads,
	}
	return c, nil
}

// Start launches the download workers and the inventory watcher.
func (c *Core) Start() {
	c.downloads.Start()
	if stop, err := c.inventory.Watch(); err == nil {
		c.stopWatch = stop
	} else {
		c.log.Debug().Err(err).Msg("inventory watcher unavailable")
	}
}

// Stop shuts the download pool down, stops the watcher and persists
// the cache.
func (c *Core) Stop() {
	c.downloads.Stop()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	if err := c.store.Persist(); err != nil {
		c.log.Warn().Err(err).Msg("cache persist failed")
	}
}

// Analyze extracts the deduplicated artifact references of a workflow
// document.
func (c *Core) Analyze(doc []byte) ([]types.ArtifactRef, error) {
	return c.analyzer.Analyze(doc)
}

// Match resolves refs against the local inventory.
func (c *Core) Match(refs []types.ArtifactRef) []types.MatchResult {
	return c.matcher.Match(refs)
}

// Search queries the routed catalogs for each ref and returns ranked
// candidates, one per ref, in input order.
func (c *Core) Search(ctx context.Context, refs []types.ArtifactRef, enabledCatalogs []string) []types.RankedCandidate {
	return c.searcher.Search(ctx, refs, enabledCatalogs)
}

// Resolve runs the full pipeline for a workflow document: analyze,
// match, then search for whatever is missing. Present and partial
// matches never reach the catalogs.
func (c *Core) Resolve(ctx context.Context, doc []byte) ([]types.MatchResult, []types.RankedCandidate, error) {
	refs, err := c.Analyze(doc)
	if err != nil {
		return nil, nil, err
	}
	results := c.Match(refs)
	missing := matcher.Missing(results)
	if len(missing) == 0 {
		return results, nil, nil
	}
	return results, c.Search(ctx, missing, nil), nil
}

// Plan maps selections to download task specs. A manual URL bypasses
// the search layer; otherwise the selection's direct URL is used.
func (c *Core) Plan(selections []types.PlanSelection) []types.DownloadTask {
	var tasks []types.DownloadTask
	for _, sel := range selections {
		srcURL := sel.ManualURL
		if srcURL == "" {
			srcURL = sel.DirectURL
		}
		if srcURL == "" {
			continue
		}
		target := c.cfg.TargetPath(sel.Ref.Kind, sel.Ref.Filename)
		tasks = append(tasks, types.DownloadTask{
			Ref:          sel.Ref,
			SourceURL:    srcURL,
			TargetPath:   target,
			TempPath:     target + downloader.TempSuffix,
			ExpectedSize: sel.SizeBytes,
		})
	}
	return tasks
}

// Enqueue submits task specs to the download manager.
func (c *Core) Enqueue(tasks []types.DownloadTask) ([]int64, error) {
	ids := make([]int64, 0, len(tasks))
	for _, spec := range tasks {
		id, err := c.downloads.Enqueue(spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Downloads returns the manager's consistent snapshot.
func (c *Core) Downloads() ([]types.DownloadTask, []types.DownloadTask, []types.DownloadTask) {
	return c.downloads.Status()
}

// PauseDownload suspends an active task.
func (c *Core) PauseDownload(id int64) error { return c.downloads.Pause(id) }

// ResumeDownload reactivates a paused task.
func (c *Core) ResumeDownload(id int64) error { return c.downloads.Resume(id) }

// CancelDownload cancels a queued or running task.
func (c *Core) CancelDownload(id int64) error { return c.downloads.Cancel(id) }

// SubscribeProgress exposes the manager's progress stream.
func (c *Core) SubscribeProgress() (<-chan types.ProgressEvent, func()) {
	return c.downloads.Subscribe()
}

// Ready reports whether the core can serve requests.
func (c *Core) Ready() bool { return c.downloads != nil }

// CacheStats lists per-namespace entry counts.
func (c *Core) CacheStats() []types.CacheStats { return c.store.Stats() }

// ClearCache flushes one namespace, or all when empty.
func (c *Core) ClearCache(namespace string) error { return c.store.Clear(namespace) }

// InventoryModels exposes the current local index.
func (c *Core) InventoryModels() []types.LocalModel { return c.inventory.Index() }

// Config returns the effective configuration.
func (c *Core) Config() config.Config { return c.cfg }

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(raw, "https://")
	}
	return u.Host
}
