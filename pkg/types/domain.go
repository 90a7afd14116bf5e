package types

import "time"

// Kind is the semantic class of a model artifact. It determines the
// target subdirectory under the models root and how searches are routed.
type Kind string

const (
	KindCheckpoint   Kind = "checkpoint"
	KindLora         Kind = "lora"
	KindVAE          Kind = "vae"
	KindClip         Kind = "clip"
	KindUnet         Kind = "unet"
	KindControlnet   Kind = "controlnet"
	KindUpscale      Kind = "upscale"
	KindEmbeddings   Kind = "embeddings"
	KindClipVision   Kind = "clip_vision"
	KindHypernetwork Kind = "hypernetwork"
	KindTextEncoder  Kind = "text_encoder"
	KindReactor      Kind = "reactor"
	KindUnknown      Kind = "unknown"
)

// kindSpecificity orders kinds from most specific to least. When the
// same filename is detected with different kinds, the lowest value wins.
var kindSpecificity = map[Kind]int{
	KindVAE:          0,
	KindLora:         1,
	KindClip:         2,
	KindUnet:         3,
	KindReactor:      4,
	KindControlnet:   5,
	KindUpscale:      6,
	KindCheckpoint:   7,
	KindEmbeddings:   8,
	KindClipVision:   9,
	KindHypernetwork: 10,
	KindTextEncoder:  11,
	KindUnknown:      12,
}

// Specificity returns the rank of k in the dedup order. Unlisted kinds
// rank with unknown.
func (k Kind) Specificity() int {
	if v, ok := kindSpecificity[k]; ok {
		return v
	}
	return kindSpecificity[KindUnknown]
}

// MoreSpecificThan reports whether k beats other when collapsing
// duplicate filename detections.
func (k Kind) MoreSpecificThan(other Kind) bool {
	return k.Specificity() < other.Specificity()
}

// DetectionStrategy names the analyzer strategy that produced a ref.
type DetectionStrategy string

const (
	DetectKnownLoader  DetectionStrategy = "known_loader"
	DetectFluxSpecific DetectionStrategy = "flux_specific"
	DetectPathWalk     DetectionStrategy = "path_walk"
	DetectWidgetScan   DetectionStrategy = "widget_scan"
	DetectGGUFHint     DetectionStrategy = "gguf_hint"
	DetectCustomNode   DetectionStrategy = "custom_node"
)

// ArtifactRef is one model-file requirement extracted from a workflow.
// Filename is unique (case-insensitively) within one analysis.
type ArtifactRef struct {
	Filename string            `json:"filename" example:"flux1-dev-Q4_0.gguf"`
	Kind     Kind              `json:"kind" example:"unet"`
	NodeID   string            `json:"node_id,omitempty" example:"12"`
	NodeType string            `json:"node_type,omitempty" example:"UnetLoaderGGUF"`
	Strategy DetectionStrategy `json:"detection_strategy,omitempty" example:"gguf_hint"`
}

// LocalModel is a model file discovered under the models root.
type LocalModel struct {
	AbsolutePath string    `json:"absolute_path"`
	Filename     string    `json:"filename"`
	SizeBytes    int64     `json:"size_bytes"`
	ModifiedAt   time.Time `json:"modified_at"`
	Subdirectory string    `json:"subdirectory"`
	Keywords     []string  `json:"keywords,omitempty"`
}

// MatchStatus classifies how an ArtifactRef matched the local inventory.
type MatchStatus string

const (
	MatchPresent MatchStatus = "present"
	MatchPartial MatchStatus = "partial"
	MatchMissing MatchStatus = "missing"
)

// MatchResult pairs an ArtifactRef with its best local candidate.
// Score is 1.0 for an exact filename match, otherwise the keyword
// Jaccard similarity of the best fuzzy candidate.
type MatchResult struct {
	Ref       ArtifactRef `json:"ref"`
	Status    MatchStatus `json:"status" example:"partial"`
	Score     float64     `json:"score" example:"0.83"`
	Candidate *LocalModel `json:"candidate,omitempty"`
}

// Confidence grades a SearchHit.
type Confidence string

const (
	ConfidenceExact         Confidence = "exact"
	ConfidenceFilenameMatch Confidence = "filename_match"
	ConfidenceKeywordMatch  Confidence = "keyword_match"
	ConfidenceSuggestive    Confidence = "suggestive"
)

// SearchHit is one downloadable candidate returned by a catalog.
type SearchHit struct {
	SourceCatalog string     `json:"source_catalog" example:"huggingface"`
	Repository    string     `json:"repository" example:"city96/FLUX.1-dev-gguf"`
	DisplayName   string     `json:"display_name"`
	Filename      string     `json:"filename"`
	DirectURL     string     `json:"direct_url"`
	SizeBytes     int64      `json:"size_bytes,omitempty"`
	KindHint      Kind       `json:"kind_hint,omitempty"`
	Confidence    Confidence `json:"confidence" example:"exact"`
	// MatchScore is the keyword similarity backing a keyword_match hit.
	MatchScore float64 `json:"match_score,omitempty"`
}

// RankedCandidate is the ranked, deduplicated hit list for one ref.
// Rating is 0 when no hits survived; the first hit is the recommended
// one. Suggestions carries the top queries tried when the list is empty
// so a caller can supply a manual URL.
type RankedCandidate struct {
	Ref         ArtifactRef `json:"ref"`
	Hits        []SearchHit `json:"hits"`
	Rating      int         `json:"rating" example:"5"`
	Recommended *SearchHit  `json:"recommended,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	// Error holds a non-fatal adapter failure attached to this candidate.
	Error string `json:"error,omitempty"`
}

// TaskState is the lifecycle state of a DownloadTask.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskActive    TaskState = "active"
	TaskPaused    TaskState = "paused"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// DownloadTask is the unit of work for the download manager. TempPath
// is owned exclusively by the task; TargetPath appears atomically.
type DownloadTask struct {
	ID           int64       `json:"id" example:"7"`
	Ref          ArtifactRef `json:"ref"`
	SourceURL    string      `json:"source_url"`
	TargetPath   string      `json:"target_path"`
	TempPath     string      `json:"temp_path,omitempty"`
	ExpectedSize int64       `json:"expected_size,omitempty"`
	State        TaskState   `json:"state" example:"active"`
	Transferred  int64       `json:"transferred_bytes"`
	TotalBytes   int64       `json:"total_bytes,omitempty"`
	Error        string      `json:"error,omitempty"`
	Retries      int         `json:"retries,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// ProgressEvent is emitted on the download manager's progress stream,
// at most a few times per second per task.
type ProgressEvent struct {
	TaskID      int64     `json:"task_id"`
	Filename    string    `json:"filename"`
	State       TaskState `json:"state"`
	Transferred int64     `json:"transferred_bytes"`
	// TotalBytes is 0 when the remote did not report a length.
	TotalBytes int64 `json:"total_bytes"`
	// Rate is the instantaneous transfer rate in bytes per second.
	Rate float64 `json:"rate_bps"`
}

// CacheStats summarizes one cache namespace.
type CacheStats struct {
	Namespace string `json:"namespace"`
	Entries   int    `json:"entries"`
}
