package search

import (
	"sort"
	"strings"

	"resolvd/pkg/types"
)

// Ranker scores and merges per-artifact hit lists. CuratedAuthors earn
// a +1 trust bonus, capped at the 5-star maximum.
type Ranker struct {
	curated map[string]struct{}
}

// NewRanker builds a Ranker over the curated author list.
func NewRanker(curatedAuthors []string) *Ranker {
	curated := make(map[string]struct{}, len(curatedAuthors))
	for _, a := range curatedAuthors {
		curated[strings.ToLower(a)] = struct{}{}
	}
	return &Ranker{curated: curated}
}

// Score maps a hit to its 1..5 star value.
func (r *Ranker) Score(hit types.SearchHit) int {
	score := 1
	switch hit.Confidence {
	case types.ConfidenceExact:
		score = 5
	case types.ConfidenceFilenameMatch:
		score = 4
	case types.ConfidenceKeywordMatch:
		if hit.MatchScore >= 0.8 {
			score = 3
		} else {
			score = 2
		}
	case types.ConfidenceSuggestive:
		score = 1
	}
	if r.isCurated(hit.Repository) {
		score++
	}
	if score > 5 {
		score = 5
	}
	return score
}

func (r *Ranker) isCurated(repository string) bool {
	lower := strings.ToLower(repository)
	if _, ok := r.curated[lower]; ok {
		return true
	}
	// repository may be author/name; the author alone is what is curated
	if author, _, found := strings.Cut(lower, "/"); found {
		_, ok := r.curated[author]
		return ok
	}
	return false
}

// Rank deduplicates hits by direct URL and stable-sorts them by
// descending score, preserving the incoming adapter order as tiebreak.
// The returned candidate's rating is the top hit's score, 0 when no
// hits survive.
func (r *Ranker) Rank(ref types.ArtifactRef, hits []types.SearchHit) types.RankedCandidate {
	seen := make(map[string]struct{}, len(hits))
	deduped := make([]types.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.DirectURL == "" {
			continue
		}
		if _, dup := seen[h.DirectURL]; dup {
			continue
		}
		seen[h.DirectURL] = struct{}{}
		deduped = append(deduped, h)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return r.Score(deduped[i]) > r.Score(deduped[j])
	})

	cand := types.RankedCandidate{Ref: ref, Hits: deduped}
	if len(deduped) > 0 {
		cand.Rating = r.Score(deduped[0])
		cand.Recommended = &deduped[0]
	}
	return cand
}
