package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resolvd/internal/analyzer"
	"resolvd/internal/downloader"
	"resolvd/pkg/types"
)

// Service defines the methods the HTTP layer requires from the core.
type Service interface {
	Analyze(doc []byte) ([]types.ArtifactRef, error)
	Match(refs []types.ArtifactRef) []types.MatchResult
	Search(ctx context.Context, refs []types.ArtifactRef, enabledCatalogs []string) []types.RankedCandidate
	Plan(selections []types.PlanSelection) []types.DownloadTask
	Enqueue(tasks []types.DownloadTask) ([]int64, error)
	Downloads() (queued, active, history []types.DownloadTask)
	PauseDownload(id int64) error
	ResumeDownload(id int64) error
	CancelDownload(id int64) error
	CacheStats() []types.CacheStats
	ClearCache(namespace string) error
	Ready() bool
}

// serverBaseCtx is a process-level context that can be canceled on
// shutdown. Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is
// done. The returned cancel func must be called when the handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// NewMux builds the resolver API router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	r.Use(metricsMiddleware)

	r.Post("/analyze", func(w http.ResponseWriter, r *http.Request) {
		var req types.AnalyzeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		refs, err := svc.Analyze(req.Workflow)
		if err != nil {
			if analyzer.IsInvalidWorkflow(err) {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logRequest(r, "analyze", start, len(refs))
		writeJSON(w, types.AnalyzeResponse{Refs: refs, Count: len(refs)})
	})

	r.Post("/match", func(w http.ResponseWriter, r *http.Request) {
		var req types.MatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		results := svc.Match(req.Refs)
		logRequest(r, "match", start, len(results))
		writeJSON(w, types.MatchResponse{Results: results})
	})

	r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
		var req types.SearchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		candidates := svc.Search(ctx, req.Refs, req.Catalogs)
		logRequest(r, "search", start, len(candidates))
		writeJSON(w, types.SearchResponse{Candidates: candidates})
	})

	r.Post("/plan", func(w http.ResponseWriter, r *http.Request) {
		var req types.PlanRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		writeJSON(w, types.PlanResponse{Tasks: svc.Plan(req.Selections)})
	})

	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req types.EnqueueRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			ids, err := svc.Enqueue(req.Tasks)
			if err != nil {
				if downloader.IsTargetBusy(err) {
					writeJSONError(w, http.StatusConflict, err.Error())
					return
				}
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, types.EnqueueResponse{IDs: ids})
		})
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			queued, active, history := svc.Downloads()
			writeJSON(w, types.DownloadsResponse{Queued: queued, Active: active, History: history})
		})
		r.Post("/{id}/pause", taskControl(svc.PauseDownload))
		r.Post("/{id}/resume", taskControl(svc.ResumeDownload))
		r.Post("/{id}/cancel", taskControl(svc.CancelDownload))
	})

	r.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.CacheStatsResponse{Namespaces: svc.CacheStats()})
	})
	r.Delete("/cache", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearCache(""); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Delete("/cache/{namespace}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearCache(chi.URLParam(r, "namespace")); err != nil {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// taskControl adapts a task-id control func into a handler with the
// shared error mapping.
func taskControl(fn func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		if err := fn(id); err != nil {
			switch {
			case downloader.IsTaskNotFound(err):
				writeJSONError(w, http.StatusNotFound, err.Error())
			case downloader.IsInvalidTransition(err):
				writeJSONError(w, http.StatusConflict, err.Error())
			default:
				writeJSONError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeJSON enforces the content type and body limit, then decodes
// into dst. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
