package cache

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// FillFunc fetches a document from its upstream when the cache misses.
type FillFunc func(ctx context.Context) (*Envelope, error)

// Result is the outcome of a fetch-through lookup.
type Result struct {
	Envelope *Envelope
	// Hit is true when the envelope came from the cache rather than
	// the upstream.
	Hit bool
}

// Fetcher is the read path in front of a Store. Concurrent requests
// for the same key share one upstream fetch.
type Fetcher struct {
	store Store
	group singleflight.Group
}

func NewFetcher(store Store) *Fetcher {
	return &Fetcher{store: store}
}

func (f *Fetcher) Store() Store {
	return f.store
}

// Fetch returns the cached envelope, or fills the cache from upstream
// on a miss. A failed cache write does not fail the fetch; the
// document is still returned and the write is retried on the next
// miss.
func (f *Fetcher) Fetch(ctx context.Context, key string, fill FillFunc) (*Result, error) {
	type outcome struct {
		env *Envelope
		hit bool
	}

	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		env, err := f.store.Get(ctx, key)
		if err == nil {
			return outcome{env: env, hit: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		env, err = fill(ctx)
		if err != nil {
			return nil, err
		}

		if putErr := f.store.Put(ctx, key, env); putErr != nil {
			slog.Warn("Cache write failed", "key", key, "error", putErr)
		}
		return outcome{env: env, hit: false}, nil
	})
	if err != nil {
		return nil, err
	}

	o := v.(outcome)
	return &Result{Envelope: o.env, Hit: o.hit}, nil
}
