package nodes

import (
	"testing"

	"resolvd/pkg/types"
)

func TestLookupKnownLoaders(t *testing.T) {
	info, ok := Lookup("CheckpointLoaderSimple")
	if !ok || info.Kind != types.KindCheckpoint || info.Subdir != "checkpoints" {
		t.Fatalf("unexpected entry: %+v ok=%v", info, ok)
	}
	info, ok = Lookup("UnetLoaderGGUF")
	if !ok || info.Kind != types.KindUnet {
		t.Fatalf("unexpected gguf entry: %+v", info)
	}
	if len(info.Extensions) != 1 || info.Extensions[0] != ".gguf" {
		t.Fatalf("gguf loader should accept only .gguf: %v", info.Extensions)
	}
	if _, ok := Lookup("KSampler"); ok {
		t.Fatalf("non-loader node must not be in the registry")
	}
}

func TestCustomAndDocumentationNodes(t *testing.T) {
	if !IsCustomLoraLoader("Power Lora Loader (rgthree)") {
		t.Fatalf("power lora loader missing from allow-list")
	}
	if IsCustomLoraLoader("LoraLoader") {
		t.Fatalf("standard loader is not a custom node")
	}
	for _, n := range []string{"Note", "MarkdownNote", "PrimitiveNode"} {
		if !IsDocumentation(n) {
			t.Fatalf("%s should be documentation", n)
		}
	}
}

func TestDefaultSubdirsCoverAllKindsButUnknown(t *testing.T) {
	subdirs := DefaultSubdirs()
	kinds := []types.Kind{
		types.KindCheckpoint, types.KindLora, types.KindVAE, types.KindClip,
		types.KindUnet, types.KindControlnet, types.KindUpscale,
		types.KindEmbeddings, types.KindClipVision, types.KindTextEncoder,
		types.KindReactor, types.KindHypernetwork,
	}
	for _, k := range kinds {
		if subdirs[k] == "" {
			t.Fatalf("no subdir for kind %s", k)
		}
	}
	if _, ok := subdirs[types.KindUnknown]; ok {
		t.Fatalf("unknown kind must not map to a subdirectory")
	}
}
