package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"resolvd/internal/analyzer"
	"resolvd/internal/downloader"
	"resolvd/pkg/types"
)

type fakeService struct {
	analyzeRefs []types.ArtifactRef
	analyzeErr  error
	enqueueErr  error
	paused      []int64
	controlErr  error
}

func (f *fakeService) Analyze(doc []byte) ([]types.ArtifactRef, error) {
	return f.analyzeRefs, f.analyzeErr
}
func (f *fakeService) Match(refs []types.ArtifactRef) []types.MatchResult {
	out := make([]types.MatchResult, len(refs))
	for i, r := range refs {
		out[i] = types.MatchResult{Ref: r, Status: types.MatchMissing}
	}
	return out
}
func (f *fakeService) Search(ctx context.Context, refs []types.ArtifactRef, enabled []string) []types.RankedCandidate {
	out := make([]types.RankedCandidate, len(refs))
	for i, r := range refs {
		out[i] = types.RankedCandidate{Ref: r}
	}
	return out
}
func (f *fakeService) Plan(selections []types.PlanSelection) []types.DownloadTask {
	return nil
}
func (f *fakeService) Enqueue(tasks []types.DownloadTask) ([]int64, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	ids := make([]int64, len(tasks))
	for i := range tasks {
		ids[i] = int64(i + 1)
	}
	return ids, nil
}
func (f *fakeService) Downloads() ([]types.DownloadTask, []types.DownloadTask, []types.DownloadTask) {
	return nil, nil, nil
}
func (f *fakeService) PauseDownload(id int64) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	f.paused = append(f.paused, id)
	return nil
}
func (f *fakeService) ResumeDownload(id int64) error  { return f.controlErr }
func (f *fakeService) CancelDownload(id int64) error  { return f.controlErr }
func (f *fakeService) CacheStats() []types.CacheStats { return []types.CacheStats{{Namespace: "search"}} }
func (f *fakeService) ClearCache(ns string) error     { return nil }
func (f *fakeService) Ready() bool                    { return true }

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAnalyzeEndpoint(t *testing.T) {
	svc := &fakeService{analyzeRefs: []types.ArtifactRef{
		{Filename: "ae.safetensors", Kind: types.KindVAE},
	}}
	h := NewMux(svc)
	w := doJSON(t, h, http.MethodPost, "/analyze", `{"workflow": {"nodes": []}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var resp types.AnalyzeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Refs[0].Filename != "ae.safetensors" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnalyzeRejectsInvalidWorkflow(t *testing.T) {
	svc := &fakeService{analyzeErr: analyzer.ErrInvalidWorkflow("nope")}
	h := NewMux(svc)
	w := doJSON(t, h, http.MethodPost, "/analyze", `{"workflow": 17}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var resp types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("error payload: %+v", resp)
	}
}

func TestContentTypeEnforced(t *testing.T) {
	h := NewMux(&fakeService{})
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestEnqueueTargetBusyMapsToConflict(t *testing.T) {
	svc := &fakeService{enqueueErr: downloader.ErrTargetBusy("/models/x")}
	h := NewMux(svc)
	w := doJSON(t, h, http.MethodPost, "/downloads", `{"tasks": [{"source_url": "u", "target_path": "p"}]}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestTaskControlMapsErrors(t *testing.T) {
	svc := &fakeService{}
	h := NewMux(svc)
	if w := doJSON(t, h, http.MethodPost, "/downloads/7/pause", `{}`); w.Code != http.StatusNoContent {
		t.Fatalf("pause status = %d", w.Code)
	}
	if len(svc.paused) != 1 || svc.paused[0] != 7 {
		t.Fatalf("pause not forwarded: %v", svc.paused)
	}

	svc.controlErr = downloader.ErrTaskNotFound(9)
	if w := doJSON(t, h, http.MethodPost, "/downloads/9/cancel", `{}`); w.Code != http.StatusNotFound {
		t.Fatalf("cancel status = %d", w.Code)
	}
	svc.controlErr = downloader.ErrInvalidTransition("terminal")
	if w := doJSON(t, h, http.MethodPost, "/downloads/9/resume", `{}`); w.Code != http.StatusConflict {
		t.Fatalf("resume status = %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/downloads/abc/pause", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	h := NewMux(&fakeService{})
	if w := doJSON(t, h, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	h := NewMux(&fakeService{})
	w := doJSON(t, h, http.MethodGet, "/cache/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	var resp types.CacheStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Namespaces) != 1 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
	if w := doJSON(t, h, http.MethodDelete, "/cache", ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", w.Code)
	}
}
