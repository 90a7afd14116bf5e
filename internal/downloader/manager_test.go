package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resolvd/pkg/types"
)

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	cfg.Log = zerolog.Nop()
	m := New(cfg)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

// waitTerminal polls the history until task id appears or the deadline
// passes.
func waitTerminal(t *testing.T, m *Manager, id int64) types.DownloadTask {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		_, _, history := m.Status()
		for _, dt := range history {
			if dt.ID == id {
				return dt
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %d never reached a terminal state", id)
	return types.DownloadTask{}
}

func payloadServer(t *testing.T, payload []byte, ranged bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ranged {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			return
		}
		if rng := r.Header.Get("Range"); rng != "" && ranged {
			var from int64
			fmt.Sscanf(rng, "bytes=%d-", &from)
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", from, len(payload)-1, len(payload)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(payload[from:])
			return
		}
		w.Write(payload)
	}))
}

func TestDownloadSucceedsAtomically(t *testing.T) {
	payload := []byte(strings.Repeat("x", 8192))
	srv := payloadServer(t, payload, false)
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "loras", "style.safetensors")
	m := newManager(t, Config{Concurrency: 1})
	id, err := m.Enqueue(types.DownloadTask{
		Ref:          types.ArtifactRef{Filename: "style.safetensors", Kind: types.KindLora},
		SourceURL:    srv.URL,
		TargetPath:   target,
		ExpectedSize: int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dt := waitTerminal(t, m, id)
	if dt.State != types.TaskSucceeded {
		t.Fatalf("expected succeeded, got %+v", dt)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("target missing: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("size mismatch: %d", len(got))
	}
	if _, err := os.Stat(target + TempSuffix); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestExistingFileShortCircuits(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "vae", "ae.safetensors")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(target, make([]byte, 512), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := newManager(t, Config{Concurrency: 1})
	id, err := m.Enqueue(types.DownloadTask{
		Ref:          types.ArtifactRef{Filename: "ae.safetensors"},
		SourceURL:    "http://127.0.0.1:1/unreachable",
		TargetPath:   target,
		ExpectedSize: 512,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dt := waitTerminal(t, m, id)
	if dt.State != types.TaskSucceeded {
		t.Fatalf("expected short-circuit success, got %+v", dt)
	}
	if !m.RecentlyCompleted(target) {
		t.Fatalf("completed target not recorded")
	}
}

func TestResumeUsesRangeRequest(t *testing.T) {
	payload := []byte(strings.Repeat("ab", 4096))
	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			sawRange = rng
			var from int64
			fmt.Sscanf(rng, "bytes=%d-", &from)
			w.WriteHeader(http.StatusPartialContent)
			w.Write(payload[from:])
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "unet", "model.gguf")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	half := len(payload) / 2
	if err := os.WriteFile(target+TempSuffix, payload[:half], 0o644); err != nil {
		t.Fatalf("seed temp: %v", err)
	}

	m := newManager(t, Config{Concurrency: 1})
	id, err := m.Enqueue(types.DownloadTask{
		Ref:          types.ArtifactRef{Filename: "model.gguf"},
		SourceURL:    srv.URL,
		TargetPath:   target,
		ExpectedSize: int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dt := waitTerminal(t, m, id)
	if dt.State != types.TaskSucceeded {
		t.Fatalf("expected succeeded, got %+v", dt)
	}
	if want := fmt.Sprintf("bytes=%d-", half); sawRange != want {
		t.Fatalf("range header = %q, want %q", sawRange, want)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("resumed content corrupt")
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := newManager(t, Config{Concurrency: 1, Retries: 3})
	id, err := m.Enqueue(types.DownloadTask{
		Ref:        types.ArtifactRef{Filename: "x.safetensors"},
		SourceURL:  srv.URL,
		TargetPath: filepath.Join(dir, "x.safetensors"),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dt := waitTerminal(t, m, id)
	if dt.State != types.TaskFailed {
		t.Fatalf("expected failed, got %+v", dt)
	}
	if calls != 1 {
		t.Fatalf("permanent failure must not retry, saw %d calls", calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.safetensors")); !os.IsNotExist(err) {
		t.Fatalf("target must be untouched on failure")
	}
}

func TestIntegrityFailureOnSizeMismatch(t *testing.T) {
	payload := []byte("short")
	srv := payloadServer(t, payload, false)
	defer srv.Close()

	dir := t.TempDir()
	m := newManager(t, Config{Concurrency: 1, Retries: 1})
	id, err := m.Enqueue(types.DownloadTask{
		Ref:          types.ArtifactRef{Filename: "x.safetensors"},
		SourceURL:    srv.URL,
		TargetPath:   filepath.Join(dir, "x.safetensors"),
		ExpectedSize: 999,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dt := waitTerminal(t, m, id)
	if dt.State != types.TaskFailed {
		t.Fatalf("expected failed, got %+v", dt)
	}
	if !strings.Contains(dt.Error, "integrity") {
		t.Fatalf("expected integrity failure, got %q", dt.Error)
	}
}

func TestTargetBusyOnDuplicateEnqueue(t *testing.T) {
	// an unstarted manager keeps the first task queued forever
	m := New(Config{Concurrency: 1})
	t.Cleanup(m.Stop)
	dir := t.TempDir()
	target := filepath.Join(dir, "x.safetensors")
	spec := types.DownloadTask{
		Ref:        types.ArtifactRef{Filename: "x.safetensors"},
		SourceURL:  "http://127.0.0.1:1/x",
		TargetPath: target,
	}
	if _, err := m.Enqueue(spec); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := m.Enqueue(spec); !IsTargetBusy(err) {
		t.Fatalf("expected TargetBusy, got %v", err)
	}
}

func TestCancelQueuedTaskImmediately(t *testing.T) {
	m := New(Config{Concurrency: 1})
	t.Cleanup(m.Stop)
	dir := t.TempDir()
	id, err := m.Enqueue(types.DownloadTask{
		Ref:        types.ArtifactRef{Filename: "x.safetensors"},
		SourceURL:  "http://127.0.0.1:1/x",
		TargetPath: filepath.Join(dir, "x.safetensors"),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := m.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, _, history := m.Status()
	found := false
	for _, dt := range history {
		if dt.ID == id && dt.State == types.TaskCancelled {
			found = true
		}
	}
	if !found {
		t.Fatalf("queued task not cancelled into history")
	}
	// target is free again
	if _, err := m.Enqueue(types.DownloadTask{
		Ref:        types.ArtifactRef{Filename: "x.safetensors"},
		SourceURL:  "http://127.0.0.1:1/x",
		TargetPath: filepath.Join(dir, "x.safetensors"),
	}); err != nil {
		t.Fatalf("target should be released after cancel: %v", err)
	}
}

func TestControlCallsOnUnknownTask(t *testing.T) {
	m := New(Config{})
	t.Cleanup(m.Stop)
	if err := m.Pause(42); !IsTaskNotFound(err) {
		t.Fatalf("expected task-not-found, got %v", err)
	}
	if err := m.Resume(42); !IsTaskNotFound(err) {
		t.Fatalf("expected task-not-found, got %v", err)
	}
	if err := m.Cancel(42); !IsTaskNotFound(err) {
		t.Fatalf("expected task-not-found, got %v", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	payload := []byte("tiny")
	srv := payloadServer(t, payload, false)
	defer srv.Close()

	dir := t.TempDir()
	m := newManager(t, Config{Concurrency: 2, HistorySize: 3})
	var last int64
	for i := 0; i < 6; i++ {
		id, err := m.Enqueue(types.DownloadTask{
			Ref:          types.ArtifactRef{Filename: fmt.Sprintf("f%d.safetensors", i)},
			SourceURL:    srv.URL,
			TargetPath:   filepath.Join(dir, fmt.Sprintf("f%d.safetensors", i)),
			ExpectedSize: int64(len(payload)),
		})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		last = id
		waitTerminal(t, m, id)
	}
	_, _, history := m.Status()
	if len(history) != 3 {
		t.Fatalf("history should hold 3 entries, got %d", len(history))
	}
	found := false
	for _, dt := range history {
		if dt.ID == last {
			found = true
		}
	}
	if !found {
		t.Fatalf("newest task missing from history")
	}
}

func TestHostHeaderDeriver(t *testing.T) {
	derive := HostHeaderDeriver("huggingface.co", "hf_tok", "civitai.com", "civ_key")
	if got := derive("https://huggingface.co/a/resolve/main/f")["Authorization"]; got != "Bearer hf_tok" {
		t.Fatalf("hub header = %q", got)
	}
	if got := derive("https://civitai.com/api/download/models/5")["Authorization"]; got != "Bearer civ_key" {
		t.Fatalf("catalog header = %q", got)
	}
	if got := derive("https://example.com/f"); len(got) != 0 {
		t.Fatalf("unexpected headers for unknown host: %v", got)
	}
}

func TestRecentTargetShortCircuitsWithoutSize(t *testing.T) {
	payload := []byte("payload-bytes")
	srv := payloadServer(t, payload, false)
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "m.safetensors")
	m := newManager(t, Config{Concurrency: 1})
	id, err := m.Enqueue(types.DownloadTask{
		Ref:          types.ArtifactRef{Filename: "m.safetensors"},
		SourceURL:    srv.URL,
		TargetPath:   target,
		ExpectedSize: int64(len(payload)),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitTerminal(t, m, id)

	// a repeat enqueue with no declared size completes immediately
	id2, err := m.Enqueue(types.DownloadTask{
		Ref:        types.ArtifactRef{Filename: "m.safetensors"},
		SourceURL:  srv.URL,
		TargetPath: target,
	})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	dt := waitTerminal(t, m, id2)
	if dt.State != types.TaskSucceeded || dt.Transferred != int64(len(payload)) {
		t.Fatalf("expected immediate success, got %+v", dt)
	}
}
