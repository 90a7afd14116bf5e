package inventory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resolvd/internal/cache"
	"resolvd/internal/keywords"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newInventory(t *testing.T, root string) *Inventory {
	t.Helper()
	store := cache.New(cache.Options{SearchTTL: time.Hour, InventoryTTL: time.Hour, Log: zerolog.Nop()})
	inv, err := New(Options{Root: root, Store: store, TTL: time.Hour, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new inventory: %v", err)
	}
	return inv
}

func TestIndexFindsModelFilesRecursively(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vae", "ae.safetensors"), 10)
	writeFile(t, filepath.Join(root, "loras", "style", "pixel_style.safetensors"), 20)
	writeFile(t, filepath.Join(root, "checkpoints", "readme.txt"), 5)

	inv := newInventory(t, root)
	models := inv.Index()
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d: %v", len(models), models)
	}
	for _, m := range models {
		switch m.Filename {
		case "ae.safetensors":
			if m.Subdirectory != "vae" || m.SizeBytes != 10 {
				t.Fatalf("unexpected model: %+v", m)
			}
		case "pixel_style.safetensors":
			if m.Subdirectory != "loras" {
				t.Fatalf("expected top-level subdir loras, got %q", m.Subdirectory)
			}
			if len(m.Keywords) == 0 {
				t.Fatalf("keywords not derived")
			}
		default:
			t.Fatalf("unexpected file indexed: %q", m.Filename)
		}
	}
}

func TestIndexOfMissingRootIsEmpty(t *testing.T) {
	inv := newInventory(t, filepath.Join(t.TempDir(), "does-not-exist"))
	if got := inv.Index(); len(got) != 0 {
		t.Fatalf("expected empty index, got %v", got)
	}
}

func TestLookupExactIsCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vae", "ae.safetensors"), 8)
	inv := newInventory(t, root)
	m, ok := inv.LookupExact("AE.SafeTensors")
	if !ok || m.Filename != "ae.safetensors" {
		t.Fatalf("exact lookup failed: %+v ok=%v", m, ok)
	}
	if _, ok := inv.LookupExact("missing.safetensors"); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestLookupFuzzyThreshold(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "checkpoints", "epicRealism_naturalSin.safetensors"), 8)
	inv := newInventory(t, root)

	kw := keywords.Extract("epicRealism_naturalSinRC1VAE.safetensors")
	m, score, ok := inv.LookupFuzzy(kw, "checkpoints", 0.7)
	if !ok {
		t.Fatalf("expected fuzzy hit")
	}
	if m.Filename != "epicRealism_naturalSin.safetensors" {
		t.Fatalf("wrong candidate: %+v", m)
	}
	if score < 0.7 || score >= 1.0 {
		t.Fatalf("score out of expected range: %v", score)
	}

	// threshold 1.0 requires keyword-set equality
	if _, _, ok := inv.LookupFuzzy(kw, "checkpoints", 1.0); ok {
		t.Fatalf("threshold 1.0 must reject non-identical sets")
	}
	same := keywords.Extract("epicRealism_naturalSin.safetensors")
	if _, _, ok := inv.LookupFuzzy(same, "checkpoints", 1.0); !ok {
		t.Fatalf("threshold 1.0 should accept identical sets")
	}
}

func TestLookupFuzzyScopedBySubdir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "loras", "pixel_style.safetensors"), 8)
	inv := newInventory(t, root)
	kw := keywords.Extract("pixel_style.safetensors")
	if _, _, ok := inv.LookupFuzzy(kw, "checkpoints", 0.5); ok {
		t.Fatalf("hit outside requested subdir")
	}
	if _, _, ok := inv.LookupFuzzy(kw, "loras", 0.5); !ok {
		t.Fatalf("expected hit inside subdir")
	}
	// unscoped lookup sees everything
	if _, _, ok := inv.LookupFuzzy(kw, "", 0.5); !ok {
		t.Fatalf("expected unscoped hit")
	}
}

func TestInvalidateForcesRescan(t *testing.T) {
	root := t.TempDir()
	inv := newInventory(t, root)
	if got := inv.Index(); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
	writeFile(t, filepath.Join(root, "vae", "ae.safetensors"), 4)
	// still cached
	if got := inv.Index(); len(got) != 0 {
		t.Fatalf("expected cached empty index, got %v", got)
	}
	inv.Invalidate()
	if got := inv.Index(); len(got) != 1 {
		t.Fatalf("expected rescan to find the file, got %v", got)
	}
}
