// Package classify refines an artifact's kind from its filename. Node
// hints are frequently wrong for community loaders; these rules take
// precedence over them and run exactly once, after analysis.
package classify

import (
	"strings"

	"resolvd/pkg/types"
)

// Rule is one filename predicate. Rules are evaluated in declared
// order; the first match wins. All string matching is case-insensitive
// against the lowercased filename.
type Rule struct {
	// Suffix, when set, must terminate the filename.
	Suffix string
	// ContainsAny matches when any listed substring is present.
	ContainsAny []string
	// AlsoAny, when set, must additionally match one substring.
	AlsoAny []string
	// Kind is forced when the rule matches.
	Kind types.Kind
}

func (r Rule) matches(lower string) bool {
	if r.Suffix != "" && !strings.HasSuffix(lower, r.Suffix) {
		return false
	}
	if len(r.ContainsAny) > 0 && !containsAny(lower, r.ContainsAny) {
		return false
	}
	if len(r.AlsoAny) > 0 && !containsAny(lower, r.AlsoAny) {
		return false
	}
	return true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DefaultRules is the shipped override table, in evaluation order.
var DefaultRules = []Rule{
	{ContainsAny: []string{"vae"}, Kind: types.KindVAE},
	{ContainsAny: []string{"lora", "rank"}, Kind: types.KindLora},
	{Suffix: ".gguf", ContainsAny: []string{"encoder", "umt5", "t5", "clip"}, Kind: types.KindTextEncoder},
	{Suffix: ".gguf", Kind: types.KindUnet},
	{Suffix: ".onnx", Kind: types.KindReactor},
	{Suffix: ".pth", ContainsAny: []string{"gfpgan"}, Kind: types.KindReactor},
	{
		ContainsAny: []string{"lora", "style", "anime", "cartoon", "cute", "detail", "tweaker"},
		AlsoAny:     []string{"flux", "sdxl", "sd15", "sd21"},
		Kind:        types.KindLora,
	},
}

// Refine returns the kind for filename, overriding hint when a rule
// matches. Refine is idempotent: the result only depends on the
// filename once a rule fires.
func Refine(filename string, hint types.Kind) types.Kind {
	return RefineWith(DefaultRules, filename, hint)
}

// RefineWith evaluates an explicit rule table in declared order.
func RefineWith(rules []Rule, filename string, hint types.Kind) types.Kind {
	lower := strings.ToLower(filename)
	for _, r := range rules {
		if r.matches(lower) {
			return r.Kind
		}
	}
	return hint
}
