// Package keywords turns model filenames into normalized keyword sets
// for fuzzy matching. Extraction is pure and deterministic.
package keywords

import (
	"strings"
	"unicode"
)

// ModelExtensions is the closed set of recognized model file extensions.
var ModelExtensions = []string{
	".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".onnx", ".gguf",
}

// HasModelExtension reports whether name ends in a recognized model
// extension (case-insensitive).
func HasModelExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range ModelExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// StripExtension removes a recognized model extension, if present.
func StripExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range ModelExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// stopTokens are version/quantization/noise tokens dropped during
// extraction. Composite entries (q4_0, v1.0) are listed for
// completeness even though separator splitting usually dissolves them.
var stopTokens = map[string]struct{}{}

// preserveTokens are never dropped, even when they collide with a stop
// token or look like noise.
var preserveTokens = map[string]struct{}{}

func init() {
	stop := []string{
		"q4", "q5", "q6", "q8",
		"q4_0", "q4_1", "q4_k", "q4_k_m", "q4_k_s",
		"q5_0", "q5_1", "q5_k", "q5_k_m", "q5_k_s",
		"q6_k", "q8_0",
		"gguf", "ggml", "fp16", "fp32", "bf16", "int8", "f16", "f32",
		"pruned", "ema", "emaonly", "vae", "novae", "inpainting",
		"refiner", "base", "full", "lite",
		"v1", "v2", "v3", "v4", "v5",
		"v1.0", "v1.5", "v2.0", "v2.1", "v2.5", "v3.0",
		"final", "latest", "alpha", "beta", "rc", "release",
		"512", "768", "1024", "2048",
		"xl", "xxl", "small", "medium", "large",
	}
	preserve := []string{
		"sdxl", "sd15", "sd21", "flux", "animatediff", "controlnet",
		"openpose", "canny", "depth", "normal", "semantic",
	}
	for _, t := range stop {
		stopTokens[t] = struct{}{}
	}
	for _, t := range preserve {
		preserveTokens[t] = struct{}{}
	}
}

// Extract returns the ordered, duplicate-free lowercase keyword
// sequence for a filename: extension stripped, separators and case/digit
// transitions split, stop tokens removed, preserve tokens kept.
func Extract(filename string) []string {
	base := StripExtension(filename)

	// Stop/preserve checks run on the whole separator-split part first,
	// so composite tokens like q4 and sd15 are decided before the
	// letter/digit transition split dissolves them.
	var segments []string
	for _, part := range splitSeparators(base) {
		lower := strings.ToLower(part)
		if _, keep := preserveTokens[lower]; keep {
			segments = append(segments, lower)
			continue
		}
		if _, drop := stopTokens[lower]; drop {
			continue
		}
		segments = append(segments, splitTransitions(part)...)
	}

	seen := make(map[string]struct{}, len(segments))
	var out []string
	for _, seg := range segments {
		token := strings.ToLower(seg)
		if token == "" {
			continue
		}
		if _, keep := preserveTokens[token]; !keep {
			if _, drop := stopTokens[token]; drop {
				continue
			}
			// Single letters carry no signal; single digits do.
			if len(token) == 1 && !isDigits(token) {
				continue
			}
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// Jaccard computes |A ∩ B| / |A ∪ B| over two keyword slices. Empty
// inputs score 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	union := make(map[string]struct{}, len(a)+len(b))
	inA := make(map[string]struct{}, len(a))
	for _, k := range a {
		union[k] = struct{}{}
		inA[k] = struct{}{}
	}
	inter := 0
	seenB := make(map[string]struct{}, len(b))
	for _, k := range b {
		if _, dup := seenB[k]; dup {
			continue
		}
		seenB[k] = struct{}{}
		if _, ok := inA[k]; ok {
			inter++
		}
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(inter) / float64(len(union))
}

func splitSeparators(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '_', '-', '.', ' ':
			return true
		}
		return false
	})
}

// splitTransitions segments a token at lowercase→uppercase and
// letter↔digit boundaries: "epicRealism" → epic, Realism;
// "RC1VAE" → RC, 1, VAE.
func splitTransitions(s string) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		split := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			split = true
		case unicode.IsLetter(prev) && unicode.IsDigit(cur):
			split = true
		case unicode.IsDigit(prev) && unicode.IsLetter(cur):
			split = true
		}
		if split {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
