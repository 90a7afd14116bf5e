package types

import "encoding/json"

// AnalyzeRequest carries a raw workflow document.
type AnalyzeRequest struct {
	// Workflow is the workflow JSON document as produced by the editor.
	Workflow json.RawMessage `json:"workflow"`
}

// AnalyzeResponse lists the artifact references found in a workflow.
type AnalyzeResponse struct {
	Refs  []ArtifactRef `json:"refs"`
	Count int           `json:"count" example:"4"`
}

// MatchRequest asks for refs to be matched against the local inventory.
type MatchRequest struct {
	Refs []ArtifactRef `json:"refs"`
}

// MatchResponse carries one MatchResult per requested ref.
type MatchResponse struct {
	Results []MatchResult `json:"results"`
}

// SearchRequest asks remote catalogs for candidates. Catalogs, when
// non-empty, restricts the adapters consulted.
type SearchRequest struct {
	Refs     []ArtifactRef `json:"refs"`
	Catalogs []string      `json:"catalogs,omitempty" example:"civitai,huggingface"`
}

// SearchResponse carries one RankedCandidate per requested ref.
type SearchResponse struct {
	Candidates []RankedCandidate `json:"candidates"`
}

// PlanSelection picks the hit to download for one ref. ManualURL, when
// set, bypasses the search layer entirely; otherwise DirectURL is the
// download source, and a selection with neither is skipped. HitIndex is
// carried as given and is not read when planning.
type PlanSelection struct {
	Ref       ArtifactRef `json:"ref"`
	ManualURL string      `json:"manual_url,omitempty"`
	HitIndex  int         `json:"hit_index,omitempty"`
	DirectURL string      `json:"direct_url,omitempty"`
	SizeBytes int64       `json:"size_bytes,omitempty"`
}

// PlanRequest maps chosen candidates to download task specs.
type PlanRequest struct {
	Selections []PlanSelection `json:"selections"`
}

// PlanResponse lists the task specs ready to enqueue.
type PlanResponse struct {
	Tasks []DownloadTask `json:"tasks"`
}

// EnqueueRequest submits task specs to the download manager.
type EnqueueRequest struct {
	Tasks []DownloadTask `json:"tasks"`
}

// EnqueueResponse returns the assigned task ids, in request order.
type EnqueueResponse struct {
	IDs []int64 `json:"ids"`
}

// DownloadsResponse is a consistent snapshot of the download manager.
type DownloadsResponse struct {
	Queued  []DownloadTask `json:"queued"`
	Active  []DownloadTask `json:"active"`
	History []DownloadTask `json:"history"`
}

// CacheStatsResponse lists per-namespace cache statistics.
type CacheStatsResponse struct {
	Namespaces []CacheStats `json:"namespaces"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
