package classify

import (
	"testing"

	"resolvd/pkg/types"
)

func TestRefineLoraOverridesCheckpointHint(t *testing.T) {
	got := Refine("Cute_3d_Cartoon_Flux.safetensors", types.KindCheckpoint)
	if got != types.KindLora {
		t.Fatalf("expected lora, got %s", got)
	}
}

func TestRefineGGUFTextEncoder(t *testing.T) {
	got := Refine("t5-v1_1-xxl-encoder-Q4_K_S.gguf", types.KindUnet)
	if got != types.KindTextEncoder {
		t.Fatalf("expected text_encoder, got %s", got)
	}
}

func TestRefineGGUFDefaultsToUnet(t *testing.T) {
	got := Refine("flux1-dev-Q4_0.gguf", types.KindCheckpoint)
	if got != types.KindUnet {
		t.Fatalf("expected unet, got %s", got)
	}
}

func TestRefineVAEBeatsLora(t *testing.T) {
	// The vae rule is declared first, so a filename carrying both
	// substrings classifies as vae.
	got := Refine("some_vae_lora.safetensors", types.KindUnknown)
	if got != types.KindVAE {
		t.Fatalf("expected vae, got %s", got)
	}
}

func TestRefineReactorExtensions(t *testing.T) {
	if got := Refine("inswapper_128.onnx", types.KindUnknown); got != types.KindReactor {
		t.Fatalf("onnx: expected reactor, got %s", got)
	}
	if got := Refine("GFPGANv1.4.pth", types.KindUnknown); got != types.KindReactor {
		t.Fatalf("gfpgan pth: expected reactor, got %s", got)
	}
	if got := Refine("4x_foolhardy.pth", types.KindUpscale); got != types.KindUpscale {
		t.Fatalf("plain pth keeps hint: got %s", got)
	}
}

func TestRefineKeepsHintWhenNoRuleMatches(t *testing.T) {
	got := Refine("dreamshaper_8.safetensors", types.KindCheckpoint)
	if got != types.KindCheckpoint {
		t.Fatalf("expected checkpoint, got %s", got)
	}
}

func TestRefineIsIdempotent(t *testing.T) {
	names := []string{
		"Cute_3d_Cartoon_Flux.safetensors",
		"t5-v1_1-xxl-encoder-Q4_K_S.gguf",
		"flux1-dev-Q4_0.gguf",
		"ae_vae.safetensors",
		"dreamshaper_8.safetensors",
	}
	for _, name := range names {
		once := Refine(name, types.KindCheckpoint)
		twice := Refine(name, once)
		if once != twice {
			t.Fatalf("%s: refine not idempotent (%s then %s)", name, once, twice)
		}
	}
}
