package basecache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"subforge/internal/config"
	"subforge/internal/identity"
	"subforge/internal/logging"
)

const (
	testID = identity.Identity("aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899")
	testFP = "cfg0123456789abc"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.Cache.Enabled = true
	cfg.Cache.MaxGiB = 1
	cfg.Cache.TTLDays = 30
	store := NewStore(&cfg, logging.NewNop())
	if store == nil {
		t.Fatal("expected store")
	}
	store.statfs = func(string) (uint64, uint64, error) { return 100, 100, nil }
	return store
}

func writeArtifacts(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	src := t.TempDir()
	writeArtifacts(t, src, map[string]string{
		"audio.wav":       "pcm-bytes",
		"segments.json":   `[{"start":0,"end":4.2}]`,
		"transcript.json": `{"text":"hello"}`,
	})

	store.Store(ctx, testID, testFP, src, []string{"audio.wav", "segments.json", "transcript.json"}, map[string]string{"transcribe": "medium"})

	entry, ok := store.Lookup(ctx, testID, testFP)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(entry.Meta.Artifacts) != 3 {
		t.Fatalf("artifacts = %d, want 3", len(entry.Meta.Artifacts))
	}

	dest := t.TempDir()
	if err := store.Restore(ctx, entry, dest); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	payload, err := os.ReadFile(filepath.Join(dest, "transcript.json"))
	if err != nil || string(payload) != `{"text":"hello"}` {
		t.Fatalf("restored transcript = %q err=%v", payload, err)
	}
}

func TestLookupMissForUnknownKey(t *testing.T) {
	store := newTestStore(t)
	if _, ok := store.Lookup(context.Background(), testID, "otherfp"); ok {
		t.Fatal("expected miss")
	}
}

func TestCorruptArtifactBecomesMissAndEntryDropped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	src := t.TempDir()
	writeArtifacts(t, src, map[string]string{"audio.wav": "original"})
	store.Store(ctx, testID, testFP, src, []string{"audio.wav"}, nil)

	// Corrupt the stored artifact without touching its metadata.
	entryDir := store.entryDir(testID, testFP)
	if err := os.WriteFile(filepath.Join(entryDir, "audio.wav"), []byte("tampered!"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := store.Lookup(ctx, testID, testFP); ok {
		t.Fatal("corrupt entry must report a miss")
	}
	if _, err := os.Stat(entryDir); !os.IsNotExist(err) {
		t.Fatal("corrupt entry should have been removed")
	}
}

func TestTTLExpiryIsAMiss(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	src := t.TempDir()
	writeArtifacts(t, src, map[string]string{"audio.wav": "x"})
	store.Store(ctx, testID, testFP, src, []string{"audio.wav"}, nil)

	store.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	if _, ok := store.Lookup(ctx, testID, testFP); ok {
		t.Fatal("expired entry must miss")
	}
}

func TestStoreFailureDoesNotPanicOrError(t *testing.T) {
	store := newTestStore(t)
	// Source artifact missing: Store must swallow the failure.
	store.Store(context.Background(), testID, testFP, t.TempDir(), []string{"missing.wav"}, nil)
	if _, ok := store.Lookup(context.Background(), testID, testFP); ok {
		t.Fatal("failed store must not produce an entry")
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	store := newTestStore(t)
	store.maxBytes = 10 // force size pressure
	ctx := context.Background()

	oldID := identity.Identity("1111111111111111111111111111111111111111111111111111111111111111")
	newID := identity.Identity("2222222222222222222222222222222222222222222222222222222222222222")

	src := t.TempDir()
	writeArtifacts(t, src, map[string]string{"audio.wav": "0123456789abcdef"})

	base := time.Now().Add(-time.Hour)
	store.now = func() time.Time { return base }
	store.Store(ctx, oldID, testFP, src, []string{"audio.wav"}, nil)

	store.now = time.Now
	store.Store(ctx, newID, testFP, src, []string{"audio.wav"}, nil)

	if _, ok := store.Lookup(ctx, oldID, testFP); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := store.Lookup(ctx, newID, testFP); !ok {
		t.Fatal("freshly published entry must survive eviction")
	}
}

func TestInvalidateAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	src := t.TempDir()
	writeArtifacts(t, src, map[string]string{"audio.wav": "x"})
	store.Store(ctx, testID, testFP, src, []string{"audio.wav"}, nil)

	entries, err := store.List()
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %d entries, err=%v", len(entries), err)
	}

	if err := store.Invalidate(testID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := store.Lookup(ctx, testID, testFP); ok {
		t.Fatal("invalidated entry must miss")
	}
}

func TestDisabledStoreIsNoOp(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Enabled = false
	store := NewStore(&cfg, logging.NewNop())
	if store != nil {
		t.Fatal("disabled cache should yield nil store")
	}
	// nil receiver safety
	store.Store(context.Background(), testID, testFP, "", nil, nil)
	if _, ok := store.Lookup(context.Background(), testID, testFP); ok {
		t.Fatal("nil store must miss")
	}
}
