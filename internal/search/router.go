// Package search routes artifact lookups to catalog adapters, fans the
// queries out under a bounded concurrency gate, and ranks the merged
// results.
package search

import (
	"strings"

	"resolvd/internal/catalog"
	"resolvd/pkg/types"
)

// RouteRule is one routing decision. Rules are data, evaluated in
// declared order; the first match supplies the catalog sequence.
type RouteRule struct {
	// Kinds, when non-empty, must contain the artifact's kind.
	Kinds []types.Kind
	// Suffix, when set, must terminate the filename (case-insensitive).
	Suffix string
	// OfficialPrefix requires the filename to start with one of the
	// configured official checkpoint prefixes.
	OfficialPrefix bool
	// Catalogs is the ordered adapter id list to query.
	Catalogs []string
}

// Router computes the ordered catalog list for an artifact. Adapters
// register by symbolic id; the rules table is configuration, not code.
type Router struct {
	rules            []RouteRule
	officialPrefixes []string
	adapters         map[string]catalog.Adapter
	order            []string
}

// DefaultRules is the shipped routing table.
var DefaultRules = []RouteRule{
	{Kinds: []types.Kind{types.KindLora}, Catalogs: []string{catalog.CivitaiAdapterID, catalog.HubAdapterID}},
	{
		Kinds: []types.Kind{
			types.KindUnet, types.KindVAE, types.KindClip, types.KindTextEncoder,
			types.KindControlnet, types.KindUpscale, types.KindEmbeddings,
		},
		Catalogs: []string{catalog.HubAdapterID},
	},
	{Suffix: ".gguf", Catalogs: []string{catalog.HubAdapterID}},
	{Kinds: []types.Kind{types.KindCheckpoint}, OfficialPrefix: true, Catalogs: []string{catalog.HubAdapterID}},
	{Kinds: []types.Kind{types.KindCheckpoint}, Catalogs: []string{catalog.HubAdapterID, catalog.CivitaiAdapterID}},
	{Kinds: []types.Kind{types.KindUnknown}, Catalogs: []string{catalog.HubAdapterID, catalog.CivitaiAdapterID}},
}

// NewRouter builds a Router over the given rules and official
// checkpoint prefixes.
func NewRouter(rules []RouteRule, officialPrefixes []string) *Router {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Router{
		rules:            rules,
		officialPrefixes: officialPrefixes,
		adapters:         make(map[string]catalog.Adapter),
	}
}

// Register installs an adapter under its symbolic id. Registration
// order is the tiebreak order for ranking.
func (r *Router) Register(a catalog.Adapter) {
	if _, ok := r.adapters[a.ID()]; !ok {
		r.order = append(r.order, a.ID())
	}
	r.adapters[a.ID()] = a
}

// Adapter returns a registered adapter by id.
func (r *Router) Adapter(id string) (catalog.Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Route returns the ordered adapter list for ref. The result is never
// empty: unmatched refs fall back to every registered adapter.
func (r *Router) Route(ref types.ArtifactRef) []catalog.Adapter {
	ids := r.routeIDs(ref)
	var out []catalog.Adapter
	for _, id := range ids {
		if a, ok := r.adapters[id]; ok {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		for _, id := range r.order {
			out = append(out, r.adapters[id])
		}
	}
	return out
}

func (r *Router) routeIDs(ref types.ArtifactRef) []string {
	lower := strings.ToLower(ref.Filename)
	for _, rule := range r.rules {
		if len(rule.Kinds) > 0 && !kindIn(ref.Kind, rule.Kinds) {
			continue
		}
		if rule.Suffix != "" && !strings.HasSuffix(lower, rule.Suffix) {
			continue
		}
		if rule.OfficialPrefix && !r.hasOfficialPrefix(lower) {
			continue
		}
		return rule.Catalogs
	}
	return nil
}

func (r *Router) hasOfficialPrefix(lower string) bool {
	for _, p := range r.officialPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func kindIn(k types.Kind, ks []types.Kind) bool {
	for _, c := range ks {
		if c == k {
			return true
		}
	}
	return false
}
