package search

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resolvd/internal/catalog"
	"resolvd/internal/querygen"
	"resolvd/pkg/types"
)

func newSearcher(adapters ...catalog.Adapter) *Searcher {
	r := NewRouter(nil, nil)
	for _, a := range adapters {
		r.Register(a)
	}
	return New(Options{
		Router:      r,
		Ranker:      NewRanker([]string{"city96"}),
		Synth:       querygen.New([]string{"city96"}),
		Concurrency: 2,
		Timeout:     time.Second,
		Log:         zerolog.Nop(),
	})
}

func TestSearchOneMergesPrimaryFirst(t *testing.T) {
	hub := &stubAdapter{id: catalog.HubAdapterID, out: catalog.HitsOutcome([]types.SearchHit{
		{SourceCatalog: catalog.HubAdapterID, DirectURL: "hub-url", Confidence: types.ConfidenceKeywordMatch, MatchScore: 0.9},
	})}
	civ := &stubAdapter{id: catalog.CivitaiAdapterID, out: catalog.HitsOutcome([]types.SearchHit{
		{SourceCatalog: catalog.CivitaiAdapterID, DirectURL: "civ-url", Confidence: types.ConfidenceKeywordMatch, MatchScore: 0.9},
	})}
	s := newSearcher(hub, civ)

	// lora routes civitai first; equal scores keep adapter order
	ref := types.ArtifactRef{Filename: "style_lora.safetensors", Kind: types.KindLora}
	cand := s.SearchOne(context.Background(), ref, nil)
	if len(cand.Hits) != 2 {
		t.Fatalf("expected merged hits, got %+v", cand)
	}
	if cand.Hits[0].DirectURL != "civ-url" {
		t.Fatalf("primary adapter hits must lead: %+v", cand.Hits)
	}
}

func TestSearchOneExactHitStopsFanOut(t *testing.T) {
	hub := &stubAdapter{id: catalog.HubAdapterID, out: catalog.HitsOutcome([]types.SearchHit{
		{SourceCatalog: catalog.HubAdapterID, DirectURL: "hub-url", Confidence: types.ConfidenceExact, MatchScore: 1.0},
	})}
	called := false
	civ := &funcAdapter{id: catalog.CivitaiAdapterID, fn: func() catalog.Outcome {
		called = true
		return catalog.NotFound()
	}}
	s := newSearcher(hub, civ)
	ref := types.ArtifactRef{Filename: "dreamshaper_8.safetensors", Kind: types.KindCheckpoint}
	cand := s.SearchOne(context.Background(), ref, nil)
	if cand.Rating != 5 {
		t.Fatalf("expected 5-star candidate, got %+v", cand)
	}
	if called {
		t.Fatalf("secondary adapter should not run after exact hit")
	}
}

type funcAdapter struct {
	id string
	fn func() catalog.Outcome
}

func (f *funcAdapter) ID() string { return f.id }
func (f *funcAdapter) Search(ctx context.Context, filename string, kind types.Kind, queries []string) catalog.Outcome {
	return f.fn()
}

func TestSearchOneAttachesFailureAndSuggestions(t *testing.T) {
	hub := &stubAdapter{id: catalog.HubAdapterID, out: catalog.Transient(context.DeadlineExceeded)}
	s := newSearcher(hub)
	ref := types.ArtifactRef{Filename: "flux1-dev-Q4_0.gguf", Kind: types.KindUnet}
	cand := s.SearchOne(context.Background(), ref, nil)
	if cand.Rating != 0 || len(cand.Hits) != 0 {
		t.Fatalf("expected zero-rated candidate, got %+v", cand)
	}
	if cand.Error == "" {
		t.Fatalf("adapter failure should be attached")
	}
	if len(cand.Suggestions) != 2 {
		t.Fatalf("expected top-2 suggestions, got %v", cand.Suggestions)
	}
}

func TestSearchPreservesInputOrder(t *testing.T) {
	hub := &stubAdapter{id: catalog.HubAdapterID, out: catalog.NotFound()}
	civ := &stubAdapter{id: catalog.CivitaiAdapterID, out: catalog.NotFound()}
	s := newSearcher(hub, civ)
	refs := []types.ArtifactRef{
		{Filename: "a.safetensors", Kind: types.KindCheckpoint},
		{Filename: "b.safetensors", Kind: types.KindLora},
		{Filename: "c.safetensors", Kind: types.KindVAE},
	}
	out := s.Search(context.Background(), refs, nil)
	if len(out) != len(refs) {
		t.Fatalf("output length mismatch: %d", len(out))
	}
	for i := range refs {
		if out[i].Ref.Filename != refs[i].Filename {
			t.Fatalf("order not preserved at %d: %+v", i, out[i].Ref)
		}
	}
}

func TestSearchRespectsEnabledCatalogs(t *testing.T) {
	hubCalled := false
	hub := &funcAdapter{id: catalog.HubAdapterID, fn: func() catalog.Outcome {
		hubCalled = true
		return catalog.NotFound()
	}}
	civ := &stubAdapter{id: catalog.CivitaiAdapterID, out: catalog.NotFound()}
	s := newSearcher(hub, civ)
	ref := types.ArtifactRef{Filename: "style_lora.safetensors", Kind: types.KindLora}
	s.SearchOne(context.Background(), ref, []string{catalog.CivitaiAdapterID})
	if hubCalled {
		t.Fatalf("disabled adapter was called")
	}
}
