// Package filetree caches each open project's file tree in memory.
//
// Saves replace one whole file and write through to the project store.
// Concurrent saves to the same path race and the last write wins; there is
// no merge and no stale-view detection.
package filetree

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	"github.com/louisbranch/codecollab/internal/services/collab/storage"
)

// DefaultMaxFileBytes caps one saved file.
const DefaultMaxFileBytes = 512 * 1024

// Store is the persistence the cache reads from and writes through to.
type Store interface {
	GetProject(ctx context.Context, projectID string) (storage.Project, error)
	SaveFile(ctx context.Context, projectID string, path string, content string) error
}

// Cache holds one snapshot per project. The cache mutex guards the map and
// snapshot contents only; it is never held across store calls.
type Cache struct {
	store        Store
	maxFileBytes int

	mu    sync.Mutex
	trees map[string]map[string]string
	seeds map[string]*seeding
}

// seeding tracks store reads in flight for a project without a snapshot.
// Saves accepted meanwhile are kept in pending and applied on install, since
// the store read may predate them.
type seeding struct {
	inflight int
	pending  map[string]string
}

// Option customizes a Cache.
type Option func(*Cache)

// WithMaxFileBytes overrides DefaultMaxFileBytes.
func WithMaxFileBytes(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxFileBytes = n
		}
	}
}

// NewCache builds a cache backed by store.
func NewCache(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("file tree store is required")
	}
	c := &Cache{
		store:        store,
		maxFileBytes: DefaultMaxFileBytes,
		trees:        make(map[string]map[string]string),
		seeds:        make(map[string]*seeding),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tree returns a copy of the project's snapshot, seeding it from the store on
// first access.
func (c *Cache) Tree(ctx context.Context, projectID string) (map[string]string, error) {
	c.mu.Lock()
	if tree, ok := c.trees[projectID]; ok {
		out := copyTree(tree)
		c.mu.Unlock()
		return out, nil
	}
	seed, ok := c.seeds[projectID]
	if !ok {
		seed = &seeding{pending: make(map[string]string)}
		c.seeds[projectID] = seed
	}
	seed.inflight++
	c.mu.Unlock()

	project, err := c.store.GetProject(ctx, projectID)

	c.mu.Lock()
	defer c.mu.Unlock()
	seed.inflight--
	if seed.inflight == 0 && c.seeds[projectID] == seed {
		delete(c.seeds, projectID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFileTreeNotReady, "file tree is unavailable", err)
	}
	// A concurrent seed may have installed a snapshot while the store was read.
	if existing, ok := c.trees[projectID]; ok {
		return copyTree(existing), nil
	}
	seeded := copyTree(project.Files)
	for filePath, content := range seed.pending {
		seeded[filePath] = content
	}
	c.trees[projectID] = seeded
	return copyTree(seeded), nil
}

// Save replaces one file with content and returns the normalized path. The
// cache is updated only after the store accepted the write.
func (c *Cache) Save(ctx context.Context, projectID string, filePath string, content string) (string, error) {
	clean, err := NormalizePath(filePath)
	if err != nil {
		return "", err
	}
	if len(content) > c.maxFileBytes {
		return "", apperrors.WithMetadata(
			apperrors.CodeFileTooLarge,
			fmt.Sprintf("file must be at most %d bytes", c.maxFileBytes),
			map[string]string{"Path": clean},
		)
	}

	if err := c.store.SaveFile(ctx, projectID, clean, content); err != nil {
		return "", apperrors.Wrap(apperrors.CodeFileSaveFailed, "file save failed", err)
	}

	c.mu.Lock()
	if tree, ok := c.trees[projectID]; ok {
		tree[clean] = content
	} else if seed, ok := c.seeds[projectID]; ok {
		seed.pending[clean] = content
	}
	c.mu.Unlock()
	return clean, nil
}

// Evict drops the project's snapshot and reports whether one was cached.
func (c *Cache) Evict(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.trees[projectID]
	delete(c.trees, projectID)
	return ok
}

// NormalizePath cleans a project-relative path and rejects empty paths and
// paths escaping the project root.
func NormalizePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/"))
	if trimmed == "" {
		return "", apperrors.New(apperrors.CodeFilePathInvalid, "path is required")
	}
	clean := strings.TrimPrefix(path.Clean("/"+trimmed), "/")
	if clean == "" || clean == "." {
		return "", apperrors.New(apperrors.CodeFilePathInvalid, "path is required")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", apperrors.WithMetadata(
				apperrors.CodeFilePathInvalid,
				"path must stay inside the project",
				map[string]string{"Path": raw},
			)
		}
	}
	return clean, nil
}

func copyTree(tree map[string]string) map[string]string {
	out := make(map[string]string, len(tree))
	for k, v := range tree {
		out[k] = v
	}
	return out
}
