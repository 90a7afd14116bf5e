// Package config holds the typed runtime configuration for resolvd and
// a loader for yaml/json/toml files. Zero values mean "unspecified";
// Default fills every field the core relies on.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"resolvd/internal/nodes"
	"resolvd/pkg/types"
)

// Config is the effective configuration consumed by the core.
type Config struct {
	Paths    Paths          `json:"paths" yaml:"paths" toml:"paths"`
	Subdirs  map[string]string `json:"subdirs" yaml:"subdirs" toml:"subdirs"`
	CatalogH CatalogH       `json:"catalog_h" yaml:"catalog_h" toml:"catalog_h"`
	CatalogC CatalogC       `json:"catalog_c" yaml:"catalog_c" toml:"catalog_c"`
	Search   SearchConfig   `json:"search" yaml:"search" toml:"search"`
	Download DownloadConfig `json:"download" yaml:"download" toml:"download"`
	Cache    CacheConfig    `json:"cache" yaml:"cache" toml:"cache"`
	Router   RouterConfig   `json:"router" yaml:"router" toml:"router"`
	Matching MatchingConfig `json:"matching" yaml:"matching" toml:"matching"`
}

// Paths locates the model tree and the persisted cache.
type Paths struct {
	ModelsRoot string `json:"models_root" yaml:"models_root" toml:"models_root"`
	CacheDir   string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
}

// CatalogH configures the HuggingFace-style hub adapter.
type CatalogH struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Token   string `json:"token" yaml:"token" toml:"token"`
}

// CatalogC configures the Civitai-style catalog adapter.
type CatalogC struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
}

// SearchConfig bounds the resolution-side catalog fan-out.
type SearchConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	TimeoutS    int `json:"timeout_s" yaml:"timeout_s" toml:"timeout_s"`
}

// DownloadConfig tunes the download manager.
type DownloadConfig struct {
	Concurrency    int   `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	Retries        int   `json:"retries" yaml:"retries" toml:"retries"`
	ChunkBytes     int64 `json:"chunk_bytes" yaml:"chunk_bytes" toml:"chunk_bytes"`
	PerTaskTimeoutS int  `json:"per_task_timeout_s" yaml:"per_task_timeout_s" toml:"per_task_timeout_s"`
	HistorySize    int   `json:"history_size" yaml:"history_size" toml:"history_size"`
}

// CacheConfig sets per-namespace TTLs in seconds.
type CacheConfig struct {
	SearchTTLS    int `json:"search_ttl_s" yaml:"search_ttl_s" toml:"search_ttl_s"`
	InventoryTTLS int `json:"inventory_ttl_s" yaml:"inventory_ttl_s" toml:"inventory_ttl_s"`
}

// RouterConfig carries the data the router and ranker evaluate.
type RouterConfig struct {
	CuratedAuthors   []string `json:"curated_authors" yaml:"curated_authors" toml:"curated_authors"`
	OfficialPrefixes []string `json:"official_prefixes" yaml:"official_prefixes" toml:"official_prefixes"`
}

// MatchingConfig tunes fuzzy local matching.
type MatchingConfig struct {
	FuzzyThreshold float64 `json:"fuzzy_threshold" yaml:"fuzzy_threshold" toml:"fuzzy_threshold"`
}

// DefaultCuratedAuthors are repository namespaces known to host
// trustworthy community quantizations; their hits earn a rating bonus.
var DefaultCuratedAuthors = []string{"city96", "Kijai", "Comfy-Org", "calcuis"}

// DefaultOfficialPrefixes mark checkpoints published by the upstream
// vendors; those route to the hub only.
var DefaultOfficialPrefixes = []string{
	"flux1-dev", "flux1-schnell", "sdxl-base", "sd_xl_base", "stable-diffusion-",
}

// Default returns the fully-populated default configuration.
func Default() Config {
	subdirs := make(map[string]string)
	for kind, dir := range nodes.DefaultSubdirs() {
		subdirs[string(kind)] = dir
	}
	return Config{
		Paths: Paths{
			ModelsRoot: "~/comfyui/models",
			CacheDir:   "~/.cache/resolvd",
		},
		Subdirs:  subdirs,
		CatalogH: CatalogH{BaseURL: "https://huggingface.co"},
		CatalogC: CatalogC{BaseURL: "https://civitai.com"},
		Search:   SearchConfig{Concurrency: 5, TimeoutS: 30},
		Download: DownloadConfig{
			Concurrency:     3,
			Retries:         3,
			ChunkBytes:      4 << 20,
			PerTaskTimeoutS: 3600,
			HistorySize:     100,
		},
		Cache: CacheConfig{
			SearchTTLS:    int((7 * 24 * time.Hour).Seconds()),
			InventoryTTLS: int((10 * time.Minute).Seconds()),
		},
		Router: RouterConfig{
			CuratedAuthors:   append([]string(nil), DefaultCuratedAuthors...),
			OfficialPrefixes: append([]string(nil), DefaultOfficialPrefixes...),
		},
		Matching: MatchingConfig{FuzzyThreshold: 0.7},
	}
}

// Merge overlays non-zero fields of other onto c and returns the
// result. Used so a config file only needs to state overrides.
func (c Config) Merge(other Config) Config {
	if other.Paths.ModelsRoot != "" {
		c.Paths.ModelsRoot = other.Paths.ModelsRoot
	}
	if other.Paths.CacheDir != "" {
		c.Paths.CacheDir = other.Paths.CacheDir
	}
	for k, v := range other.Subdirs {
		c.Subdirs[k] = v
	}
	if other.CatalogH.BaseURL != "" {
		c.CatalogH.BaseURL = other.CatalogH.BaseURL
	}
	if other.CatalogH.Token != "" {
		c.CatalogH.Token = other.CatalogH.Token
	}
	if other.CatalogC.BaseURL != "" {
		c.CatalogC.BaseURL = other.CatalogC.BaseURL
	}
	if other.CatalogC.APIKey != "" {
		c.CatalogC.APIKey = other.CatalogC.APIKey
	}
	if other.Search.Concurrency > 0 {
		c.Search.Concurrency = other.Search.Concurrency
	}
	if other.Search.TimeoutS > 0 {
		c.Search.TimeoutS = other.Search.TimeoutS
	}
	if other.Download.Concurrency > 0 {
		c.Download.Concurrency = other.Download.Concurrency
	}
	if other.Download.Retries > 0 {
		c.Download.Retries = other.Download.Retries
	}
	if other.Download.ChunkBytes > 0 {
		c.Download.ChunkBytes = other.Download.ChunkBytes
	}
	if other.Download.PerTaskTimeoutS > 0 {
		c.Download.PerTaskTimeoutS = other.Download.PerTaskTimeoutS
	}
	if other.Download.HistorySize > 0 {
		c.Download.HistorySize = other.Download.HistorySize
	}
	if other.Cache.SearchTTLS > 0 {
		c.Cache.SearchTTLS = other.Cache.SearchTTLS
	}
	if other.Cache.InventoryTTLS > 0 {
		c.Cache.InventoryTTLS = other.Cache.InventoryTTLS
	}
	if len(other.Router.CuratedAuthors) > 0 {
		c.Router.CuratedAuthors = other.Router.CuratedAuthors
	}
	if len(other.Router.OfficialPrefixes) > 0 {
		c.Router.OfficialPrefixes = other.Router.OfficialPrefixes
	}
	if other.Matching.FuzzyThreshold > 0 {
		c.Matching.FuzzyThreshold = other.Matching.FuzzyThreshold
	}
	return c
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.Paths.ModelsRoot == "" {
		return fmt.Errorf("paths.models_root is required")
	}
	if c.Matching.FuzzyThreshold < 0 || c.Matching.FuzzyThreshold > 1 {
		return fmt.Errorf("matching.fuzzy_threshold must be within [0,1], got %v", c.Matching.FuzzyThreshold)
	}
	if c.Download.Concurrency < 1 {
		return fmt.Errorf("download.concurrency must be >= 1")
	}
	if c.Search.Concurrency < 1 {
		return fmt.Errorf("search.concurrency must be >= 1")
	}
	for kind := range c.Subdirs {
		if types.Kind(kind).Specificity() == types.KindUnknown.Specificity() && kind != string(types.KindUnknown) {
			return fmt.Errorf("subdirs: unrecognized kind %q", kind)
		}
	}
	return nil
}

// SubdirFor resolves the target subdirectory for a kind; unknown kinds
// land in the models root itself.
func (c Config) SubdirFor(kind types.Kind) string {
	if dir, ok := c.Subdirs[string(kind)]; ok {
		return dir
	}
	return ""
}

// TargetPath resolves the final on-disk path for an artifact.
func (c Config) TargetPath(kind types.Kind, filename string) string {
	return filepath.Join(c.Paths.ModelsRoot, c.SubdirFor(kind), filename)
}
