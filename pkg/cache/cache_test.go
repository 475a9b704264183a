package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

func testEnvelope() *Envelope {
	return &Envelope{
		Content:  "Systems must be designed so that failure conditions are extremely improbable.",
		DocType:  DocTypeCFRSection,
		DocID:    "14-25-1309",
		Title:    "Equipment, systems, and installations",
		Citation: "14 CFR 25.1309",
		Metadata: map[string]string{"source": "govinfo"},
	}
}

// storeUnderTest runs the same behavior suite against both backends.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error: %v", err)
	}

	sqlStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}

	t.Cleanup(func() {
		fsStore.Close()
		sqlStore.Close()
	})

	return map[string]Store{"fs": fsStore, "sqlite": sqlStore}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			key := CFRKey(14, "25", "1309")

			if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
			}

			if err := store.Put(ctx, key, testEnvelope()); err != nil {
				t.Fatalf("Put() error: %v", err)
			}

			env, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if env.HitCount != 1 {
				t.Errorf("HitCount after first Get = %d, want 1", env.HitCount)
			}
			if env.Citation != "14 CFR 25.1309" {
				t.Errorf("Citation = %q", env.Citation)
			}
			if env.ContentHash == "" {
				t.Error("ContentHash not stamped on Put")
			}
			if env.CachedAt.IsZero() {
				t.Error("CachedAt not stamped on Put")
			}
			if env.Metadata["source"] != "govinfo" {
				t.Errorf("Metadata = %v", env.Metadata)
			}

			env, err = store.Get(ctx, key)
			if err != nil {
				t.Fatalf("second Get() error: %v", err)
			}
			if env.HitCount != 2 {
				t.Errorf("HitCount after second Get = %d, want 2", env.HitCount)
			}

			// Peek must not count as a hit.
			env, err = store.Peek(ctx, key)
			if err != nil {
				t.Fatalf("Peek() error: %v", err)
			}
			if env.HitCount != 2 {
				t.Errorf("HitCount after Peek = %d, want 2", env.HitCount)
			}
		})
	}
}

func TestStoreMarkIndexed(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			key := ADAMSKey("ML20127J123")
			if err := store.Put(ctx, key, testEnvelope()); err != nil {
				t.Fatal(err)
			}

			at := time.Now().UTC().Truncate(time.Second)
			if err := store.MarkIndexed(ctx, key, at); err != nil {
				t.Fatalf("MarkIndexed() error: %v", err)
			}

			env, err := store.Peek(ctx, key)
			if err != nil {
				t.Fatal(err)
			}
			if !env.Indexed {
				t.Error("Indexed = false after MarkIndexed")
			}
			if env.IndexedAt == nil || !env.IndexedAt.Equal(at) {
				t.Errorf("IndexedAt = %v, want %v", env.IndexedAt, at)
			}

			if err := store.MarkIndexed(ctx, "aps/MISSING", at); !errors.Is(err, ErrNotFound) {
				t.Errorf("MarkIndexed(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreDeleteAndKeys(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{
				CFRKey(14, "25", "1309"),
				CFRKey(10, "50", "12"),
				PersonalKey("a1b2c3d4-e5f60708"),
			} {
				if err := store.Put(ctx, key, testEnvelope()); err != nil {
					t.Fatal(err)
				}
			}

			keys, err := store.Keys(ctx, "cfr/")
			if err != nil {
				t.Fatalf("Keys() error: %v", err)
			}
			want := []string{"cfr/10-50-12", "cfr/14-25-1309"}
			if !reflect.DeepEqual(keys, want) {
				t.Errorf("Keys(cfr/) = %v, want %v", keys, want)
			}

			if err := store.Delete(ctx, "cfr/10-50-12"); err != nil {
				t.Fatalf("Delete() error: %v", err)
			}
			if _, err := store.Peek(ctx, "cfr/10-50-12"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Peek() after delete error = %v, want ErrNotFound", err)
			}

			// Deleting a missing key is not an error.
			if err := store.Delete(ctx, "cfr/10-50-12"); err != nil {
				t.Errorf("repeat Delete() error: %v", err)
			}
		})
	}
}

func TestKeyBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"cfr_section", CFRKey(14, "25", "1309"), "cfr/14-25-1309"},
		{"cfr_part_only", CFRKey(10, "50", ""), "cfr/10-50"},
		{"cfr_lettered", CFRKey(14, "25", "1309a"), "cfr/14-25-1309a"},
		{"drs", DRSKey("ac", "25.1309-1B"), "drs/AC-25.1309-1B"},
		{"adams", ADAMSKey("ml20127j123"), "aps/ML20127J123"},
		{"personal", PersonalKey("a1b2c3d4-e5f60708"), "personal/a1b2c3d4-e5f60708"},
		{"sanitized", DRSKey("AC", "25/1309 rev B"), "drs/AC-25_1309_rev_B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"", "../etc/passwd", "cfr/../../x", "cfr//x"} {
		if err := store.Put(context.Background(), key, testEnvelope()); err == nil {
			t.Errorf("Put(%q) error = nil, want error", key)
		}
	}
}

func TestShouldIndex(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		want bool
	}{
		{"nil", nil, false},
		{"fresh_miss", &Envelope{HitCount: 0}, false},
		{"first_hit", &Envelope{HitCount: 1}, true},
		{"already_indexed", &Envelope{HitCount: 3, Indexed: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldIndex(tt.env); got != tt.want {
				t.Errorf("ShouldIndex() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetcherMissThenHit(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewFetcher(store)

	var fills atomic.Int32
	fill := func(ctx context.Context) (*Envelope, error) {
		fills.Add(1)
		return testEnvelope(), nil
	}

	key := CFRKey(14, "25", "1309")

	res, err := fetcher.Fetch(ctx, key, fill)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if res.Hit {
		t.Error("first Fetch() Hit = true, want miss")
	}
	if ShouldIndex(res.Envelope) {
		t.Error("ShouldIndex after miss = true, want false")
	}

	res, err = fetcher.Fetch(ctx, key, fill)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Hit {
		t.Error("second Fetch() Hit = false, want hit")
	}
	if res.Envelope.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", res.Envelope.HitCount)
	}
	if !ShouldIndex(res.Envelope) {
		t.Error("ShouldIndex after first hit = false, want true")
	}

	if got := fills.Load(); got != 1 {
		t.Errorf("fill called %d times, want 1", got)
	}
}

func TestFetcherSingleflight(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewFetcher(store)

	var fills atomic.Int32
	release := make(chan struct{})
	fill := func(ctx context.Context) (*Envelope, error) {
		fills.Add(1)
		<-release
		return testEnvelope(), nil
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fetcher.Fetch(ctx, "drs/AC-120-92B", fill); err != nil {
				t.Errorf("Fetch() error: %v", err)
			}
		}()
	}

	// Give the goroutines time to pile onto the same key.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fills.Load(); got != 1 {
		t.Errorf("fill called %d times under contention, want 1", got)
	}
}

func TestFetcherUpstreamError(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewFetcher(store)

	wantErr := fmt.Errorf("upstream unavailable")
	_, err = fetcher.Fetch(context.Background(), "aps/ML1", func(ctx context.Context) (*Envelope, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Fetch() error = %v, want %v", err, wantErr)
	}

	// Nothing cached after a failed fill.
	if _, err := store.Peek(context.Background(), "aps/ML1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Peek() error = %v, want ErrNotFound", err)
	}
}

func TestNewStoreDisabled(t *testing.T) {
	cfg := config.CacheConfig{Enabled: config.BoolPtr(false)}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	if _, ok := store.(Disabled); !ok {
		t.Fatalf("NewStore() = %T, want Disabled", store)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "cfr/14-25-1309", testEnvelope()); err != nil {
		t.Errorf("Disabled Put() error: %v", err)
	}
	if _, err := store.Get(ctx, "cfr/14-25-1309"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Disabled Get() error = %v, want ErrNotFound", err)
	}
}

func TestNewStoreBackends(t *testing.T) {
	dir := t.TempDir()

	cfg := config.CacheConfig{Backend: config.CacheBackendFS, Path: filepath.Join(dir, "cache")}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore(fs) error: %v", err)
	}
	if _, ok := store.(*FSStore); !ok {
		t.Errorf("NewStore(fs) = %T", store)
	}

	cfg = config.CacheConfig{Backend: config.CacheBackendSQLite, Path: filepath.Join(dir, "cache.db")}
	store, err = NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore(sqlite) error: %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("NewStore(sqlite) = %T", store)
	}

	cfg = config.CacheConfig{Backend: "redis", Path: dir}
	if _, err := NewStore(cfg); err == nil {
		t.Error("NewStore(redis) error = nil, want unsupported backend")
	}
}
