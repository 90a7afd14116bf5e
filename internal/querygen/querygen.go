// Package querygen turns a model filename into the ordered list of
// search strings tried against a catalog. Several decomposers each
// contribute variants; the union keeps first-seen order.
package querygen

import (
	"fmt"
	"regexp"
	"strings"

	"resolvd/internal/keywords"
)

// series describes one model family's naming variants and canonical
// form. The tables are data; adding a family is an entry, not code.
type series struct {
	name      string
	variants  []string
	versions  []string
	canonical func(version string) string
}

var seriesTable = []series{
	{
		name:     "flux",
		variants: []string{"flux1", "flux-1", "flux_1", "flux.1", "flux"},
		versions: []string{"dev", "schnell", "pro"},
		canonical: func(v string) string {
			if v == "" {
				return "flux1"
			}
			return "flux1-" + v
		},
	},
	{
		name:      "wan",
		variants:  []string{"wan2.1", "wan2_1", "wan21", "wan2", "wan"},
		versions:  []string{"2.1"},
		canonical: func(string) string { return "Wan2.1" },
	},
	{
		name:      "hunyuan",
		variants:  []string{"hunyuan", "hy"},
		versions:  []string{"dit", "video"},
		canonical: func(string) string { return "HunyuanDiT" },
	},
}

var sizeMarker = regexp.MustCompile(`(?i)[-_]?\d+[gm]b`)

// Synthesizer generates candidate query strings. CuratedAuthors feeds
// the specialized GGUF repository decomposer.
type Synthesizer struct {
	CuratedAuthors []string
}

// New builds a Synthesizer with the given curated author namespaces.
func New(curatedAuthors []string) *Synthesizer {
	return &Synthesizer{CuratedAuthors: curatedAuthors}
}

// Queries returns the ordered, duplicate-free query list for filename.
// When forHub is true and the filename is a GGUF build, curated
// repository-scoped queries are added.
func (s *Synthesizer) Queries(filename string, forHub bool) []string {
	base := keywords.StripExtension(filename)
	isGGUF := strings.HasSuffix(strings.ToLower(filename), ".gguf")

	var out []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		for _, have := range out {
			if have == q {
				return
			}
		}
		out = append(out, q)
	}

	// Basename: the filename with its extension removed.
	add(base)

	// Technical: size markers dropped, quant/precision kept.
	technical := sizeMarker.ReplaceAllString(base, "")
	technical = strings.Trim(technical, "-_ ")
	add(technical)

	// Normalized series forms.
	lower := strings.ToLower(base)
	for _, fam := range seriesTable {
		variant := matchVariant(lower, fam.variants)
		if variant == "" {
			continue
		}
		version := ""
		for _, v := range fam.versions {
			if strings.Contains(lower, v) {
				version = v
				break
			}
		}
		canonical := fam.canonical(version)
		add(canonical)
		if isGGUF {
			add(canonical + "-gguf")
		}
		break
	}

	// Specialized repository hints for quantized hub builds.
	if forHub && isGGUF {
		for _, q := range s.curatedRepoQueries(lower) {
			add(q)
		}
	}

	// Separator variants for every query collected so far.
	for _, q := range append([]string(nil), out...) {
		if strings.ContainsAny(q, "._") {
			add(strings.NewReplacer(".", "-", "_", "-").Replace(q))
			add(strings.NewReplacer(".", " ", "_", " ").Replace(q))
		}
	}

	return out
}

// curatedRepoQueries emits author-scoped repository names for GGUF
// quantizations, in the casing conventions those authors actually use.
func (s *Synthesizer) curatedRepoQueries(lowerBase string) []string {
	var out []string
	for _, fam := range seriesTable {
		if matchVariant(lowerBase, fam.variants) == "" {
			continue
		}
		version := ""
		for _, v := range fam.versions {
			if strings.Contains(lowerBase, v) {
				version = v
				break
			}
		}
		if fam.name == "flux" && version != "" {
			for _, author := range s.CuratedAuthors {
				out = append(out,
					fmt.Sprintf("%s/FLUX.1-%s-gguf", author, version),
					fmt.Sprintf("%s/flux.1-%s-gguf", author, version),
				)
			}
			out = append(out, fmt.Sprintf("flux1-%s-gguf", version))
		} else {
			canonical := fam.canonical(version)
			for _, author := range s.CuratedAuthors {
				out = append(out, fmt.Sprintf("%s/%s-gguf", author, canonical))
			}
		}
		break
	}
	return out
}

func matchVariant(lower string, variants []string) string {
	for _, v := range variants {
		if strings.Contains(lower, v) {
			return v
		}
	}
	return ""
}

// TopSuggestions returns the first n queries, used to hint the caller
// when a search comes back empty.
func (s *Synthesizer) TopSuggestions(filename string, n int) []string {
	qs := s.Queries(filename, true)
	if len(qs) > n {
		qs = qs[:n]
	}
	return qs
}
