// Package catalog hosts the remote catalog adapters. Each adapter is a
// thin translator between one remote's request/response shapes and the
// shared SearchHit model; transport, retry, and caching concerns live
// in the shared client.
package catalog

import (
	"context"

	"resolvd/pkg/types"
)

// Adapter is one remote catalog. Implementations must honor ctx
// deadlines and cancellation and report failures through the Outcome
// sum, never by panicking.
type Adapter interface {
	// ID is the symbolic id adapters register under (e.g. "huggingface").
	ID() string
	// Search tries the given queries in order against the remote and
	// returns candidate hits for the requested filename.
	Search(ctx context.Context, filename string, kind types.Kind, queries []string) Outcome
}

// OutcomeKind discriminates an adapter result.
type OutcomeKind int

const (
	// OutcomeHits carries zero or more candidates.
	OutcomeHits OutcomeKind = iota
	// OutcomeNotFound means the remote answered and has no such artifact.
	OutcomeNotFound
	// OutcomeTransient is a retriable failure (timeout, 5xx, reset).
	OutcomeTransient
	// OutcomePermanent is a non-retriable remote failure.
	OutcomePermanent
	// OutcomeAuthRequired means credentials are missing or rejected.
	OutcomeAuthRequired
	// OutcomeCancelled reports cooperative cancellation.
	OutcomeCancelled
)

// Outcome is the sum type adapters return; the ranker consumes it and
// never raises.
type Outcome struct {
	Kind OutcomeKind
	Hits []types.SearchHit
	Err  error
}

// HitsOutcome wraps candidates.
func HitsOutcome(hits []types.SearchHit) Outcome {
	if len(hits) == 0 {
		return Outcome{Kind: OutcomeNotFound}
	}
	return Outcome{Kind: OutcomeHits, Hits: hits}
}

// NotFound reports an answered-but-empty search.
func NotFound() Outcome { return Outcome{Kind: OutcomeNotFound} }

// Transient wraps a retriable failure.
func Transient(err error) Outcome { return Outcome{Kind: OutcomeTransient, Err: err} }

// Permanent wraps a non-retriable failure.
func Permanent(err error) Outcome { return Outcome{Kind: OutcomePermanent, Err: err} }

// AuthRequired reports missing or rejected credentials.
func AuthRequired(err error) Outcome { return Outcome{Kind: OutcomeAuthRequired, Err: err} }

// Cancelled reports cooperative cancellation.
func Cancelled(err error) Outcome { return Outcome{Kind: OutcomeCancelled, Err: err} }
