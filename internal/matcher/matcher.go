// Package matcher pairs workflow artifact requirements with the local
// inventory. Exact filename hits are authoritative; fuzzy hits are
// surfaced as partial and left to the caller to act on.
package matcher

import (
	"resolvd/internal/inventory"
	"resolvd/internal/keywords"
	"resolvd/pkg/types"
)

// Matcher resolves ArtifactRefs against an Inventory.
type Matcher struct {
	inv       *inventory.Inventory
	subdirFor func(types.Kind) string
	threshold float64
}

// New builds a Matcher. subdirFor maps a kind to its canonical
// subdirectory ("" scopes nothing, used for unknown kinds). threshold
// is the fuzzy cutoff.
func New(inv *inventory.Inventory, subdirFor func(types.Kind) string, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Matcher{inv: inv, subdirFor: subdirFor, threshold: threshold}
}

// MatchOne resolves a single ref: exact hit → present with score 1.0,
// fuzzy hit at or above the threshold → partial, otherwise missing.
func (m *Matcher) MatchOne(ref types.ArtifactRef) types.MatchResult {
	if local, ok := m.inv.LookupExact(ref.Filename); ok {
		return types.MatchResult{Ref: ref, Status: types.MatchPresent, Score: 1.0, Candidate: &local}
	}
	kw := keywords.Extract(ref.Filename)
	subdir := ""
	if ref.Kind != types.KindUnknown {
		subdir = m.subdirFor(ref.Kind)
	}
	if local, score, ok := m.inv.LookupFuzzy(kw, subdir, m.threshold); ok {
		return types.MatchResult{Ref: ref, Status: types.MatchPartial, Score: score, Candidate: &local}
	}
	return types.MatchResult{Ref: ref, Status: types.MatchMissing}
}

// Match resolves refs in order; the output has one result per input.
func (m *Matcher) Match(refs []types.ArtifactRef) []types.MatchResult {
	out := make([]types.MatchResult, 0, len(refs))
	for _, ref := range refs {
		out = append(out, m.MatchOne(ref))
	}
	return out
}

// Missing filters results to the refs that found nothing locally.
func Missing(results []types.MatchResult) []types.ArtifactRef {
	var out []types.ArtifactRef
	for _, r := range results {
		if r.Status == types.MatchMissing {
			out = append(out, r.Ref)
		}
	}
	return out
}
