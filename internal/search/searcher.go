package search

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"resolvd/internal/catalog"
	"resolvd/internal/querygen"
	"resolvd/pkg/types"
)

var (
	catalogRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolvd",
			Subsystem: "search",
			Name:      "catalog_requests_total",
			Help:      "Catalog adapter invocations by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(catalogRequests)
}

// Searcher runs the catalog fan-out for a batch of artifacts. Adapter
// calls pass through a channel-based admission gate so at most
// `concurrency` remote calls are in flight, independent of the
// download pool.
type Searcher struct {
	router  *Router
	ranker  *Ranker
	synth   *querygen.Synthesizer
	gate    chan struct{}
	timeout time.Duration
	log     zerolog.Logger
}

// Options configures a Searcher.
type Options struct {
	Router *Router
	Ranker *Ranker
	Synth  *querygen.Synthesizer
	// Concurrency bounds in-flight adapter calls (default 5).
	Concurrency int
	// Timeout is the per-adapter-call deadline (default 30s).
	Timeout time.Duration
	Log     zerolog.Logger
}

// New builds a Searcher.
func New(opts Options) *Searcher {
	conc := opts.Concurrency
	if conc <= 0 {
		conc = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Searcher{
		router:  opts.Router,
		ranker:  opts.Ranker,
		synth:   opts.Synth,
		gate:    make(chan struct{}, conc),
		timeout: timeout,
		log:     opts.Log,
	}
}

// SearchOne queries the routed catalogs for one ref, primary first,
// and returns the ranked candidate. Adapter failures are attached to
// the candidate, never raised. An exact hit from the primary catalog
// stops the fan-out early.
func (s *Searcher) SearchOne(ctx context.Context, ref types.ArtifactRef, enabled []string) types.RankedCandidate {
	adapters := s.router.Route(ref)
	if len(enabled) > 0 {
		adapters = filterAdapters(adapters, enabled)
	}

	var merged []types.SearchHit
	var lastErr error
	for _, adapter := range adapters {
		out := s.callAdapter(ctx, adapter, ref)
		catalogRequests.WithLabelValues(adapter.ID(), outcomeLabel(out.Kind)).Inc()
		switch out.Kind {
		case catalog.OutcomeHits:
			merged = append(merged, out.Hits...)
			if len(out.Hits) > 0 && out.Hits[0].Confidence == types.ConfidenceExact {
				// primary delivered an exact match; skip the fallback
				cand := s.ranker.Rank(ref, merged)
				return cand
			}
		case catalog.OutcomeNotFound:
			// try the next catalog
		case catalog.OutcomeCancelled:
			cand := s.ranker.Rank(ref, merged)
			cand.Error = out.Err.Error()
			return cand
		default:
			lastErr = out.Err
			s.log.Warn().Str("adapter", adapter.ID()).Str("filename", ref.Filename).
				Err(out.Err).Msg("catalog search failed")
		}
	}

	cand := s.ranker.Rank(ref, merged)
	if len(cand.Hits) == 0 {
		cand.Suggestions = s.synth.TopSuggestions(ref.Filename, 2)
		if lastErr != nil {
			cand.Error = lastErr.Error()
		}
	}
	return cand
}

// Search fans refs out concurrently; the output order matches the
// input order regardless of completion order.
func (s *Searcher) Search(ctx context.Context, refs []types.ArtifactRef, enabled []string) []types.RankedCandidate {
	out := make([]types.RankedCandidate, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			out[i] = s.SearchOne(gctx, ref, enabled)
			return nil
		})
	}
	// workers never return errors; failures ride on the candidates
	_ = g.Wait()
	return out
}

func (s *Searcher) callAdapter(ctx context.Context, adapter catalog.Adapter, ref types.ArtifactRef) catalog.Outcome {
	select {
	case s.gate <- struct{}{}:
		defer func() { <-s.gate }()
	case <-ctx.Done():
		return catalog.Cancelled(ctx.Err())
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	queries := s.synth.Queries(ref.Filename, adapter.ID() == catalog.HubAdapterID)
	return adapter.Search(callCtx, ref.Filename, ref.Kind, queries)
}

func filterAdapters(adapters []catalog.Adapter, enabled []string) []catalog.Adapter {
	allow := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		allow[id] = struct{}{}
	}
	var out []catalog.Adapter
	for _, a := range adapters {
		if _, ok := allow[a.ID()]; ok {
			out = append(out, a)
		}
	}
	return out
}

func outcomeLabel(k catalog.OutcomeKind) string {
	switch k {
	case catalog.OutcomeHits:
		return "hits"
	case catalog.OutcomeNotFound:
		return "not_found"
	case catalog.OutcomeTransient:
		return "transient"
	case catalog.OutcomePermanent:
		return "permanent"
	case catalog.OutcomeAuthRequired:
		return "auth_required"
	case catalog.OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}
