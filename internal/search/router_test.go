package search

import (
	"context"
	"testing"

	"resolvd/internal/catalog"
	"resolvd/pkg/types"
)

type stubAdapter struct {
	id  string
	out catalog.Outcome
}

func (s *stubAdapter) ID() string { return s.id }
func (s *stubAdapter) Search(ctx context.Context, filename string, kind types.Kind, queries []string) catalog.Outcome {
	return s.out
}

func newTestRouter() *Router {
	r := NewRouter(nil, []string{"flux1-dev", "flux1-schnell", "sdxl-base", "sd_xl_base", "stable-diffusion-"})
	r.Register(&stubAdapter{id: catalog.HubAdapterID})
	r.Register(&stubAdapter{id: catalog.CivitaiAdapterID})
	return r
}

func ids(adapters []catalog.Adapter) []string {
	var out []string
	for _, a := range adapters {
		out = append(out, a.ID())
	}
	return out
}

func TestRouteLoraPrefersCivitai(t *testing.T) {
	r := newTestRouter()
	got := ids(r.Route(types.ArtifactRef{Filename: "Cute_3d_Cartoon_Flux.safetensors", Kind: types.KindLora}))
	if len(got) != 2 || got[0] != catalog.CivitaiAdapterID || got[1] != catalog.HubAdapterID {
		t.Fatalf("unexpected route: %v", got)
	}
}

func TestRouteComponentKindsHubOnly(t *testing.T) {
	r := newTestRouter()
	for _, kind := range []types.Kind{
		types.KindUnet, types.KindVAE, types.KindClip, types.KindTextEncoder,
		types.KindControlnet, types.KindUpscale, types.KindEmbeddings,
	} {
		got := ids(r.Route(types.ArtifactRef{Filename: "x.safetensors", Kind: kind}))
		if len(got) != 1 || got[0] != catalog.HubAdapterID {
			t.Fatalf("kind %s: unexpected route %v", kind, got)
		}
	}
}

func TestRouteOfficialCheckpointHubOnly(t *testing.T) {
	r := newTestRouter()
	got := ids(r.Route(types.ArtifactRef{Filename: "flux1-dev-fp8.safetensors", Kind: types.KindCheckpoint}))
	if len(got) != 1 || got[0] != catalog.HubAdapterID {
		t.Fatalf("unexpected route: %v", got)
	}
}

func TestRouteCommunityCheckpointFallsBackToCivitai(t *testing.T) {
	r := newTestRouter()
	got := ids(r.Route(types.ArtifactRef{Filename: "dreamshaper_8.safetensors", Kind: types.KindCheckpoint}))
	if len(got) != 2 || got[0] != catalog.HubAdapterID || got[1] != catalog.CivitaiAdapterID {
		t.Fatalf("unexpected route: %v", got)
	}
}

func TestRoutingTotality(t *testing.T) {
	r := newTestRouter()
	kinds := []types.Kind{
		types.KindCheckpoint, types.KindLora, types.KindVAE, types.KindClip,
		types.KindUnet, types.KindControlnet, types.KindUpscale,
		types.KindEmbeddings, types.KindClipVision, types.KindHypernetwork,
		types.KindTextEncoder, types.KindReactor, types.KindUnknown,
	}
	for _, kind := range kinds {
		got := r.Route(types.ArtifactRef{Filename: "anything.safetensors", Kind: kind})
		if len(got) == 0 {
			t.Fatalf("router returned empty catalog list for kind %s", kind)
		}
	}
}

func TestRouteGGUFGoesToHub(t *testing.T) {
	r := newTestRouter()
	// a gguf checkpoint that is not official still routes to the hub
	got := ids(r.Route(types.ArtifactRef{Filename: "whatever-Q4_0.gguf", Kind: types.KindCheckpoint}))
	if len(got) != 1 || got[0] != catalog.HubAdapterID {
		t.Fatalf("unexpected route: %v", got)
	}
}
