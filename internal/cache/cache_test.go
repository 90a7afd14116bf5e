package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"resolvd/pkg/types"
)

func newStore(t *testing.T, dir string) *Store {
	t.Helper()
	return New(Options{
		Dir:          dir,
		SearchTTL:    time.Hour,
		InventoryTTL: time.Hour,
		Log:          zerolog.Nop(),
	})
}

func TestSetGetWithinTTL(t *testing.T) {
	s := newStore(t, "")
	s.Set(NamespaceSearch, "k", "v", time.Hour)
	got, ok := s.Get(NamespaceSearch, "k")
	if !ok || got.(string) != "v" {
		t.Fatalf("expected hit with v, got %v ok=%v", got, ok)
	}
}

func TestExpiredEntryMisses(t *testing.T) {
	s := newStore(t, "")
	s.Set(NamespaceSearch, "k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := s.Get(NamespaceSearch, "k"); ok {
		t.Fatalf("expected miss after ttl expiry")
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	s := newStore(t, "")
	s.Set(NamespaceSearch, "k", "search", 0)
	s.Set(NamespaceInventory, "k", "inventory", 0)
	got, _ := s.Get(NamespaceInventory, "k")
	if got.(string) != "inventory" {
		t.Fatalf("namespace collision: got %v", got)
	}
}

func TestClearSingleNamespace(t *testing.T) {
	s := newStore(t, "")
	s.Set(NamespaceSearch, "a", 1, 0)
	s.Set(NamespaceInventory, "b", 2, 0)
	if err := s.Clear(NamespaceSearch); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s.Get(NamespaceSearch, "a"); ok {
		t.Fatalf("search namespace should be empty")
	}
	if _, ok := s.Get(NamespaceInventory, "b"); !ok {
		t.Fatalf("inventory namespace should survive")
	}
	if err := s.Clear("bogus"); err == nil {
		t.Fatalf("expected error for unknown namespace")
	}
}

func TestStatsCountsEntries(t *testing.T) {
	s := newStore(t, "")
	s.Set(NamespaceSearch, "a", 1, 0)
	s.Set(NamespaceSearch, "b", 2, 0)
	stats := s.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 namespaces, got %d", len(stats))
	}
	for _, st := range stats {
		if st.Namespace == NamespaceSearch && st.Entries != 2 {
			t.Fatalf("expected 2 search entries, got %d", st.Entries)
		}
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	s := newStore(t, dir)
	hits := []types.SearchHit{{SourceCatalog: "huggingface", DirectURL: "https://example/x"}}
	s.Set(NamespaceSearch, "q", hits, time.Hour)
	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	s2 := newStore(t, dir)
	got, ok := s2.Get(NamespaceSearch, "q")
	if !ok {
		t.Fatalf("expected persisted entry to reload")
	}
	reloaded := got.([]types.SearchHit)
	if len(reloaded) != 1 || reloaded[0].DirectURL != "https://example/x" {
		t.Fatalf("unexpected reloaded value: %v", reloaded)
	}
}
