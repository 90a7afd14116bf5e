package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"resolvd/internal/cache"
	"resolvd/internal/keywords"
	"resolvd/pkg/types"
)

// CivitaiAdapterID is the symbolic id the Civitai-style adapter
// registers under.
const CivitaiAdapterID = "civitai"

// civitaiKindTypes maps artifact kinds to the remote's type filter.
var civitaiKindTypes = map[types.Kind]string{
	types.KindLora:       "LORA",
	types.KindCheckpoint: "Checkpoint",
	types.KindControlnet: "Controlnet",
	types.KindVAE:        "VAE",
	types.KindUpscale:    "Upscaler",
}

// civitaiIndex is the subset of the catalog response the adapter reads.
type civitaiIndex struct {
	Items []struct {
		ID            int64  `json:"id"`
		Name          string `json:"name"`
		Type          string `json:"type"`
		Creator       struct {
			Username string `json:"username"`
		} `json:"creator"`
		ModelVersions []struct {
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Files []struct {
				Name   string  `json:"name"`
				SizeKB float64 `json:"sizeKB"`
			} `json:"files"`
		} `json:"modelVersions"`
	} `json:"items"`
}

// CivitaiAdapter searches a Civitai-style free-text catalog. Download
// URLs point at the catalog's version-download endpoint, not at files.
type CivitaiAdapter struct {
	client  *Client
	store   *cache.Store
	baseURL string
	apiKey  string
	log     zerolog.Logger
}

// CivitaiOptions configures a CivitaiAdapter.
type CivitaiOptions struct {
	Client  *Client
	Store   *cache.Store
	BaseURL string
	APIKey  string
	Log     zerolog.Logger
}

// NewCivitai builds the Civitai-style adapter.
func NewCivitai(opts CivitaiOptions) *CivitaiAdapter {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://civitai.com"
	}
	return &CivitaiAdapter{
		client:  opts.Client,
		store:   opts.Store,
		baseURL: base,
		apiKey:  opts.APIKey,
		log:     opts.Log,
	}
}

// ID implements Adapter.
func (c *CivitaiAdapter) ID() string { return CivitaiAdapterID }

// Search implements Adapter. Each model version contributes at most one
// hit: the file variant whose name is closest to the requested
// filename by keyword Jaccard, ties broken toward the smaller file.
func (c *CivitaiAdapter) Search(ctx context.Context, filename string, kind types.Kind, queries []string) Outcome {
	targetKW := keywords.Extract(filename)
	var collected []types.SearchHit
	var firstErr *Outcome

	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return Cancelled(err)
		}
		hits, out := c.searchQuery(ctx, filename, targetKW, kind, query)
		if out != nil {
			if firstErr == nil {
				firstErr = out
			}
			continue
		}
		for _, hit := range hits {
			if hit.Confidence == types.ConfidenceExact {
				return HitsOutcome(append([]types.SearchHit{hit}, collected...))
			}
			collected = append(collected, hit)
		}
	}
	if len(collected) > 0 {
		return HitsOutcome(collected)
	}
	if firstErr != nil {
		return *firstErr
	}
	return NotFound()
}

func (c *CivitaiAdapter) searchQuery(ctx context.Context, filename string, targetKW []string, kind types.Kind, query string) ([]types.SearchHit, *Outcome) {
	cacheKey := c.ID() + "|" + normalizeQuery(query)
	if c.store != nil {
		if v, ok := c.store.Get(cache.NamespaceSearch, cacheKey); ok {
			if hits, ok := v.([]types.SearchHit); ok {
				return hits, nil
			}
		}
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", "20")
	params.Set("sort", "Most Downloaded")
	if typeFilter, ok := civitaiKindTypes[kind]; ok {
		params.Set("types", typeFilter)
	}
	endpoint := fmt.Sprintf("%s/api/v1/models?%s", c.baseURL, params.Encode())
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	body, err := c.client.GetJSON(ctx, endpoint, headers)
	if err != nil {
		out := Classify(err)
		return nil, &out
	}
	var index civitaiIndex
	if err := json.Unmarshal(body, &index); err != nil {
		out := Permanent(fmt.Errorf("decode catalog response: %w", err))
		return nil, &out
	}

	var hits []types.SearchHit
	for _, item := range index.Items {
		for _, version := range item.ModelVersions {
			hit, ok := c.pickVariant(item.Name, item.Creator.Username, item.Type, version.ID, version.Files, filename, targetKW)
			if ok {
				hits = append(hits, hit)
			}
		}
	}
	if c.store != nil {
		c.store.Set(cache.NamespaceSearch, cacheKey, hits, 0)
	}
	return hits, nil
}

type civitaiFile struct {
	Name   string
	SizeKB float64
}

// pickVariant selects one file per model version: the highest Jaccard
// against the requested filename, ties toward the smaller file.
func (c *CivitaiAdapter) pickVariant(modelName, author, modelType string, versionID int64, files []struct {
	Name   string  `json:"name"`
	SizeKB float64 `json:"sizeKB"`
}, filename string, targetKW []string) (types.SearchHit, bool) {
	var best *civitaiFile
	bestScore := -1.0
	exact := false
	for i := range files {
		f := civitaiFile{Name: files[i].Name, SizeKB: files[i].SizeKB}
		if f.Name == "" {
			continue
		}
		if strings.EqualFold(f.Name, filename) {
			best, exact = &f, true
			bestScore = 1.0
			break
		}
		score := keywords.Jaccard(targetKW, keywords.Extract(f.Name))
		if score > bestScore || (score == bestScore && best != nil && f.SizeKB < best.SizeKB) {
			tmp := f
			best, bestScore = &tmp, score
		}
	}
	if best == nil || bestScore < 0.3 {
		return types.SearchHit{}, false
	}
	conf := types.ConfidenceSuggestive
	switch {
	case exact:
		conf = types.ConfidenceExact
	case similarNormalized(best.Name, filename):
		conf = types.ConfidenceFilenameMatch
	case bestScore >= 0.5:
		conf = types.ConfidenceKeywordMatch
	}
	return types.SearchHit{
		SourceCatalog: c.ID(),
		Repository:    author,
		DisplayName:   modelName,
		Filename:      best.Name,
		DirectURL:     fmt.Sprintf("%s/api/download/models/%d", c.baseURL, versionID),
		SizeBytes:     int64(best.SizeKB * 1024),
		KindHint:      kindFromCivitaiType(modelType),
		Confidence:    conf,
		MatchScore:    bestScore,
	}, true
}

// similarNormalized compares basenames with separators collapsed.
func similarNormalized(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(keywords.StripExtension(s))
		return strings.NewReplacer("-", "_", " ", "_").Replace(s)
	}
	return norm(a) == norm(b)
}

func kindFromCivitaiType(t string) types.Kind {
	switch strings.ToLower(t) {
	case "lora", "locon", "lycoris":
		return types.KindLora
	case "checkpoint":
		return types.KindCheckpoint
	case "controlnet":
		return types.KindControlnet
	case "vae":
		return types.KindVAE
	case "upscaler":
		return types.KindUpscale
	}
	return ""
}
