// Package nodes maps workflow loader node types to the artifact kinds
// they load. The registry is data, not code: adding a loader is a table
// entry.
package nodes

import "resolvd/pkg/types"

// TypeInfo describes what a loader node type loads and where the file
// belongs on disk.
type TypeInfo struct {
	Kind       types.Kind
	Subdir     string
	Extensions []string
}

var modelExts = []string{".safetensors", ".ckpt", ".pt", ".pth", ".bin"}
var ggufExts = []string{".gguf"}

// registry maps known loader node types to their artifact kind.
var registry = map[string]TypeInfo{
	"CheckpointLoaderSimple": {Kind: types.KindCheckpoint, Subdir: "checkpoints", Extensions: modelExts},
	"CheckpointLoader":       {Kind: types.KindCheckpoint, Subdir: "checkpoints", Extensions: modelExts},
	"LoraLoader":             {Kind: types.KindLora, Subdir: "loras", Extensions: modelExts},
	"LoraLoaderModelOnly":    {Kind: types.KindLora, Subdir: "loras", Extensions: modelExts},
	"VAELoader":              {Kind: types.KindVAE, Subdir: "vae", Extensions: modelExts},
	"CLIPLoader":             {Kind: types.KindClip, Subdir: "clip", Extensions: modelExts},
	"DualCLIPLoader":         {Kind: types.KindClip, Subdir: "clip", Extensions: modelExts},
	"UNETLoader":             {Kind: types.KindUnet, Subdir: "unet", Extensions: modelExts},
	"ControlNetLoader":       {Kind: types.KindControlnet, Subdir: "controlnet", Extensions: modelExts},
	"UpscaleModelLoader":     {Kind: types.KindUpscale, Subdir: "upscale_models", Extensions: modelExts},
	"CLIPVisionLoader":       {Kind: types.KindClipVision, Subdir: "clip_vision", Extensions: modelExts},
	"HypernetworkLoader":     {Kind: types.KindHypernetwork, Subdir: "hypernetworks", Extensions: modelExts},
	"UnetLoaderGGUF":         {Kind: types.KindUnet, Subdir: "unet", Extensions: ggufExts},
	"CLIPLoaderGGUF":         {Kind: types.KindClip, Subdir: "clip", Extensions: ggufExts},
	"LoaderGGUF":             {Kind: types.KindUnet, Subdir: "unet", Extensions: ggufExts},
}

// fluxLoaders use a widget ordering that differs from the plain
// loaders; the analyzer applies a dedicated strategy to them.
var fluxLoaders = map[string]types.Kind{
	"UNETLoader":         types.KindUnet,
	"UnetLoaderGGUF":     types.KindUnet,
	"DualCLIPLoader":     types.KindClip,
	"DualCLIPLoaderGGUF": types.KindClip,
	"CLIPLoaderGGUF":     types.KindClip,
}

// customLoraLoaders are community loader node types whose widgets carry
// lora filenames in nested values.
var customLoraLoaders = map[string]struct{}{
	"Power Lora Loader (rgthree)": {},
	"LoraLoaderStack":             {},
	"CR LoRA Stack":               {},
}

// documentationNodes carry prose, never artifacts; the analyzer skips
// them entirely.
var documentationNodes = map[string]struct{}{
	"Note":          {},
	"MarkdownNote":  {},
	"PrimitiveNode": {},
}

// Lookup returns the registry entry for a node type.
func Lookup(nodeType string) (TypeInfo, bool) {
	info, ok := registry[nodeType]
	return info, ok
}

// IsFluxLoader reports whether the node type is one of the UNet or
// dual-CLIP loader variants with flux-style widget ordering.
func IsFluxLoader(nodeType string) (types.Kind, bool) {
	k, ok := fluxLoaders[nodeType]
	return k, ok
}

// IsCustomLoraLoader reports whether the node type is an allow-listed
// community lora loader.
func IsCustomLoraLoader(nodeType string) bool {
	_, ok := customLoraLoaders[nodeType]
	return ok
}

// IsDocumentation reports whether the node type only holds prose.
func IsDocumentation(nodeType string) bool {
	_, ok := documentationNodes[nodeType]
	return ok
}

// DefaultSubdirs returns the canonical subdirectory for every kind.
func DefaultSubdirs() map[types.Kind]string {
	return map[types.Kind]string{
		types.KindCheckpoint:   "checkpoints",
		types.KindLora:         "loras",
		types.KindVAE:          "vae",
		types.KindClip:         "clip",
		types.KindUnet:         "unet",
		types.KindControlnet:   "controlnet",
		types.KindUpscale:      "upscale_models",
		types.KindEmbeddings:   "embeddings",
		types.KindClipVision:   "clip_vision",
		types.KindTextEncoder:  "text_encoders",
		types.KindReactor:      "reactor",
		types.KindHypernetwork: "hypernetworks",
	}
}
