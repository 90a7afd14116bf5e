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

// HubAdapterID is the symbolic id the HuggingFace-style adapter
// registers under.
const HubAdapterID = "huggingface"

// hubModel is the subset of the models-index response the adapter
// reads. Unknown fields are ignored.
type hubModel struct {
	ModelID  string `json:"modelId"`
	Siblings []struct {
		Rfilename string `json:"rfilename"`
		Size      int64  `json:"size"`
	} `json:"siblings"`
	Downloads int `json:"downloads"`
	Likes     int `json:"likes"`
}

// HubAdapter searches a HuggingFace-style models index. For each
// candidate model it inspects the file listing and emits a hit when a
// file matches the requested filename exactly or by keyword overlap.
type HubAdapter struct {
	client  *Client
	store   *cache.Store
	baseURL string
	token   string
	log     zerolog.Logger
}

// HubOptions configures a HubAdapter.
type HubOptions struct {
	Client  *Client
	Store   *cache.Store
	BaseURL string
	Token   string
	Log     zerolog.Logger
}

// NewHub builds the HuggingFace-style adapter.
func NewHub(opts HubOptions) *HubAdapter {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://huggingface.co"
	}
	return &HubAdapter{
		client:  opts.Client,
		store:   opts.Store,
		baseURL: base,
		token:   opts.Token,
		log:     opts.Log,
	}
}

// ID implements Adapter.
func (h *HubAdapter) ID() string { return HubAdapterID }

// Search implements Adapter. Queries are tried in order; the first
// query producing an exact filename hit short-circuits. Keyword hits
// accumulate across queries.
func (h *HubAdapter) Search(ctx context.Context, filename string, kind types.Kind, queries []string) Outcome {
	targetKW := keywords.Extract(filename)
	var collected []types.SearchHit
	var firstErr *Outcome

	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return Cancelled(err)
		}
		hits, out := h.searchQuery(ctx, filename, targetKW, query)
		if out != nil {
			// remember the first failure but keep trying other queries
			if firstErr == nil {
				firstErr = out
			}
			continue
		}
		for _, hit := range hits {
			if hit.Confidence == types.ConfidenceExact {
				// an exact hit ends the search; it leads the result
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

func (h *HubAdapter) searchQuery(ctx context.Context, filename string, targetKW []string, query string) ([]types.SearchHit, *Outcome) {
	cacheKey := h.ID() + "|" + normalizeQuery(query)
	if h.store != nil {
		if v, ok := h.store.Get(cache.NamespaceSearch, cacheKey); ok {
			if hits, ok := v.([]types.SearchHit); ok {
				return hits, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s/api/models?search=%s&full=true", h.baseURL, url.QueryEscape(query))
	headers := map[string]string{}
	if h.token != "" {
		headers["Authorization"] = "Bearer " + h.token
	}
	body, err := h.client.GetJSON(ctx, endpoint, headers)
	if err != nil {
		out := Classify(err)
		return nil, &out
	}
	var models []hubModel
	if err := json.Unmarshal(body, &models); err != nil {
		out := Permanent(fmt.Errorf("decode models index: %w", err))
		return nil, &out
	}

	hits := h.collectHits(models, filename, targetKW, query)
	if h.store != nil {
		h.store.Set(cache.NamespaceSearch, cacheKey, hits, 0)
	}
	return hits, nil
}

// collectHits walks each model's file listing. Exact filename matches
// win; otherwise the best keyword match per model is kept.
func (h *HubAdapter) collectHits(models []hubModel, filename string, targetKW []string, query string) []types.SearchHit {
	repoScoped := strings.Contains(query, "/")
	var hits []types.SearchHit
	for _, m := range models {
		var best *types.SearchHit
		bestScore := 0.0
		for _, sib := range m.Siblings {
			if sib.Rfilename == "" {
				continue
			}
			if strings.EqualFold(sib.Rfilename, filename) {
				hit := h.makeHit(m, sib.Rfilename, sib.Size, types.ConfidenceExact, 1.0)
				hits = append(hits, hit)
				best = nil
				break
			}
			if !keywords.HasModelExtension(sib.Rfilename) {
				continue
			}
			score := keywords.Jaccard(targetKW, keywords.Extract(sib.Rfilename))
			if score > bestScore {
				bestScore = score
				hit := h.makeHit(m, sib.Rfilename, sib.Size, types.ConfidenceKeywordMatch, score)
				best = &hit
			}
		}
		if best != nil && bestScore >= 0.5 {
			if repoScoped && strings.EqualFold(normalizeQuery(m.ModelID), normalizeQuery(query)) {
				best.Confidence = types.ConfidenceFilenameMatch
			}
			hits = append(hits, *best)
		}
	}
	return hits
}

func (h *HubAdapter) makeHit(m hubModel, file string, size int64, conf types.Confidence, score float64) types.SearchHit {
	return types.SearchHit{
		SourceCatalog: h.ID(),
		Repository:    m.ModelID,
		DisplayName:   m.ModelID,
		Filename:      file,
		DirectURL:     fmt.Sprintf("%s/%s/resolve/main/%s", h.baseURL, m.ModelID, file),
		SizeBytes:     size,
		Confidence:    conf,
		MatchScore:    score,
	}
}

// normalizeQuery canonicalizes a query for cache keys: lowercase with
// collapsed separators.
func normalizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	return strings.NewReplacer(" ", "-", "_", "-", ".", "-").Replace(q)
}
