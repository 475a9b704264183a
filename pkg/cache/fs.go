package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FSStore keeps one JSON envelope file per key under a root directory,
// mirroring the key hierarchy: "cfr/14-25-1309" lands at
// <root>/cfr/14-25-1309.json.
type FSStore struct {
	root string

	// Hit-count updates are read-modify-write, so all mutation goes
	// through this lock.
	mu sync.Mutex
}

var _ Store = (*FSStore)(nil)

func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("cache key cannot be empty")
	}
	parts := strings.Split(key, "/")
	for i, part := range parts {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid cache key: %q", key)
		}
		parts[i] = sanitizeSegment(part)
	}
	return filepath.Join(append([]string{s.root}, parts...)...) + ".json", nil
}

func (s *FSStore) Get(ctx context.Context, key string) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	env, err := readEnvelope(path)
	if err != nil {
		return nil, err
	}

	env.HitCount++
	if err := writeEnvelope(path, env); err != nil {
		return nil, err
	}

	return env, nil
}

func (s *FSStore) Peek(ctx context.Context, key string) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return readEnvelope(path)
}

func (s *FSStore) Put(ctx context.Context, key string, env *Envelope) error {
	if env == nil {
		return fmt.Errorf("cannot cache nil envelope")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}

	stamped := *env
	if stamped.CachedAt.IsZero() {
		stamped.CachedAt = time.Now().UTC()
	}
	if stamped.ContentHash == "" {
		stamped.ContentHash = HashContent([]byte(stamped.Content))
	}

	return writeEnvelope(path, &stamped)
}

func (s *FSStore) MarkIndexed(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return err
	}

	env, err := readEnvelope(path)
	if err != nil {
		return err
	}

	env.Indexed = true
	env.IndexedAt = &at
	return writeEnvelope(path, env)
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *FSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk cache directory: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *FSStore) Close() error {
	return nil
}

func readEnvelope(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt cache entry at %s: %w", path, err)
	}
	return &env, nil
}

// writeEnvelope writes to a temp file in the same directory and
// renames over the target, so readers never see a partial entry.
func writeEnvelope(path string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache entry: %w", err)
	}
	return nil
}
