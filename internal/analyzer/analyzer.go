// Package analyzer extracts model-file requirements from workflow
// documents. A workflow is a JSON graph; every node is walked with a
// fixed ladder of detection strategies and the union of results is
// deduplicated by filename, keeping the most specific kind.
package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"resolvd/internal/classify"
	"resolvd/internal/keywords"
	"resolvd/internal/nodes"
	"resolvd/pkg/types"
)

// invalidWorkflowError signals a document that cannot be analyzed at
// all. Malformed individual nodes are skipped, not fatal.
type invalidWorkflowError struct{ msg string }

func (e invalidWorkflowError) Error() string { return "invalid workflow: " + e.msg }

// ErrInvalidWorkflow constructs an invalidWorkflowError.
func ErrInvalidWorkflow(msg string) error { return invalidWorkflowError{msg: msg} }

// IsInvalidWorkflow reports whether err indicates an unparseable
// workflow document.
func IsInvalidWorkflow(err error) bool {
	_, ok := err.(invalidWorkflowError)
	return ok
}

// document is the subset of the workflow format the analyzer reads.
// Unknown keys are ignored by the decoder.
type document struct {
	Nodes []json.RawMessage `json:"nodes"`
}

type node struct {
	ID      json.RawMessage `json:"id"`
	Type    string          `json:"type"`
	Widgets []any           `json:"widgets_values"`
	Inputs  map[string]any  `json:"inputs"`
}

func (n *node) idString() string {
	if len(n.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(n.ID, &s); err == nil {
		return s
	}
	var i int64
	if err := json.Unmarshal(n.ID, &i); err == nil {
		return fmt.Sprintf("%d", i)
	}
	return strings.Trim(string(n.ID), `"`)
}

// Analyzer walks workflow documents. The zero value is not usable;
// construct with New.
type Analyzer struct {
	log zerolog.Logger
}

// New returns an Analyzer logging skipped nodes through log.
func New(log zerolog.Logger) *Analyzer {
	return &Analyzer{log: log}
}

// Analyze decodes a workflow document and returns its deduplicated
// artifact references. The kind-override rule table is applied exactly
// once, here, after dedup. An empty workflow yields zero refs.
func (a *Analyzer) Analyze(doc []byte) ([]types.ArtifactRef, error) {
	if len(doc) == 0 {
		return nil, ErrInvalidWorkflow("empty document")
	}
	var wf document
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, ErrInvalidWorkflow(err.Error())
	}

	var found []types.ArtifactRef
	for i, raw := range wf.Nodes {
		var n node
		if err := json.Unmarshal(raw, &n); err != nil {
			a.log.Warn().Int("index", i).Err(err).Msg("skipping malformed node")
			continue
		}
		if nodes.IsDocumentation(n.Type) {
			continue
		}
		found = append(found, a.analyzeNode(&n)...)
	}

	return dedupe(found), nil
}

// analyzeNode runs the strategy ladder. The first strategy yielding at
// least one filename wins for this node.
func (a *Analyzer) analyzeNode(n *node) []types.ArtifactRef {
	strategies := []func(*node) []types.ArtifactRef{
		a.knownLoader,
		a.fluxSpecific,
		a.pathWalk,
		a.widgetScan,
		a.ggufHint,
		a.customNode,
	}
	for _, strat := range strategies {
		if refs := strat(n); len(refs) > 0 {
			return refs
		}
	}
	return nil
}

func (a *Analyzer) knownLoader(n *node) []types.ArtifactRef {
	info, ok := nodes.Lookup(n.Type)
	if !ok {
		return nil
	}
	var refs []types.ArtifactRef
	for _, w := range n.Widgets {
		s, ok := w.(string)
		if !ok {
			continue
		}
		if !hasAnySuffix(s, info.Extensions) {
			continue
		}
		refs = append(refs, types.ArtifactRef{
			Filename: baseName(s),
			Kind:     info.Kind,
			NodeID:   n.idString(),
			NodeType: n.Type,
			Strategy: types.DetectKnownLoader,
		})
	}
	return refs
}

func (a *Analyzer) fluxSpecific(n *node) []types.ArtifactRef {
	kind, ok := nodes.IsFluxLoader(n.Type)
	if !ok {
		return nil
	}
	var refs []types.ArtifactRef
	for _, w := range n.Widgets {
		s, ok := w.(string)
		if !ok || !keywords.HasModelExtension(s) {
			continue
		}
		refs = append(refs, types.ArtifactRef{
			Filename: baseName(s),
			Kind:     kind,
			NodeID:   n.idString(),
			NodeType: n.Type,
			Strategy: types.DetectFluxSpecific,
		})
	}
	return refs
}

func (a *Analyzer) pathWalk(n *node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	walkStrings(n.Inputs, func(s string) {
		if !strings.ContainsAny(s, `/\`) || !keywords.HasModelExtension(s) {
			return
		}
		refs = append(refs, types.ArtifactRef{
			Filename: baseName(s),
			Kind:     kindFromPath(s),
			NodeID:   n.idString(),
			NodeType: n.Type,
			Strategy: types.DetectPathWalk,
		})
	})
	return refs
}

func (a *Analyzer) widgetScan(n *node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	for _, w := range n.Widgets {
		s, ok := w.(string)
		if !ok || !keywords.HasModelExtension(s) {
			continue
		}
		refs = append(refs, types.ArtifactRef{
			Filename: baseName(s),
			Kind:     types.KindUnknown,
			NodeID:   n.idString(),
			NodeType: n.Type,
			Strategy: types.DetectWidgetScan,
		})
	}
	return refs
}

func (a *Analyzer) ggufHint(n *node) []types.ArtifactRef {
	var refs []types.ArtifactRef
	emit := func(s string) {
		if !strings.HasSuffix(strings.ToLower(s), ".gguf") {
			return
		}
		refs = append(refs, types.ArtifactRef{
			Filename: baseName(s),
			Kind:     ggufKind(s),
			NodeID:   n.idString(),
			NodeType: n.Type,
			Strategy: types.DetectGGUFHint,
		})
	}
	for _, w := range n.Widgets {
		if s, ok := w.(string); ok {
			emit(s)
		}
	}
	walkStrings(n.Inputs, emit)
	return refs
}

func (a *Analyzer) customNode(n *node) []types.ArtifactRef {
	if !nodes.IsCustomLoraLoader(n.Type) {
		return nil
	}
	var refs []types.ArtifactRef
	for _, w := range n.Widgets {
		m, ok := w.(map[string]any)
		if !ok {
			continue
		}
		lora, ok := m["lora"].(string)
		if !ok || !keywords.HasModelExtension(lora) {
			continue
		}
		refs = append(refs, types.ArtifactRef{
			Filename: baseName(lora),
			Kind:     types.KindLora,
			NodeID:   n.idString(),
			NodeType: n.Type,
			Strategy: types.DetectCustomNode,
		})
	}
	return refs
}

// dedupe groups by case-insensitive filename, keeps the most specific
// kind per group, then applies the filename override rules once.
func dedupe(refs []types.ArtifactRef) []types.ArtifactRef {
	index := make(map[string]int, len(refs))
	var out []types.ArtifactRef
	for _, r := range refs {
		key := strings.ToLower(r.Filename)
		at, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, r)
			continue
		}
		if r.Kind.MoreSpecificThan(out[at].Kind) {
			out[at] = r
		}
	}
	for i := range out {
		out[i].Kind = classify.Refine(out[i].Filename, out[i].Kind)
	}
	return out
}

// ggufKind classifies a .gguf filename: text encoders carry one of the
// encoder markers, everything else is a diffusion unet.
func ggufKind(s string) types.Kind {
	lower := strings.ToLower(baseName(s))
	for _, marker := range []string{"encoder", "t5", "umt5", "clip"} {
		if strings.Contains(lower, marker) {
			return types.KindTextEncoder
		}
	}
	return types.KindUnet
}

// kindFromPath infers a kind from directory names in an embedded path.
func kindFromPath(p string) types.Kind {
	lower := strings.ToLower(p)
	for kind, dir := range nodes.DefaultSubdirs() {
		if strings.Contains(lower, "/"+dir+"/") || strings.Contains(lower, `\`+dir+`\`) {
			return kind
		}
	}
	return types.KindUnknown
}

// walkStrings visits every string reachable in a decoded JSON value.
func walkStrings(v any, fn func(string)) {
	switch t := v.(type) {
	case string:
		fn(t)
	case []any:
		for _, e := range t {
			walkStrings(e, fn)
		}
	case map[string]any:
		for _, e := range t {
			walkStrings(e, fn)
		}
	}
}

// baseName strips any directory components, for both separators.
func baseName(s string) string {
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		return s[i+1:]
	}
	return s
}

func hasAnySuffix(s string, exts []string) bool {
	lower := strings.ToLower(s)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
