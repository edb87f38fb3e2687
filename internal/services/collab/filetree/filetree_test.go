package filetree

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	"github.com/louisbranch/codecollab/internal/services/collab/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	files    map[string]string
	getCalls int
	getErr   error
	saveErr  error
	saved    []string
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (storage.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return storage.Project{}, f.getErr
	}
	files := make(map[string]string, len(f.files))
	for k, v := range f.files {
		files[k] = v
	}
	return storage.Project{ID: projectID, Files: files}, nil
}

func (f *fakeStore) SaveFile(_ context.Context, _ string, path string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.files == nil {
		f.files = map[string]string{}
	}
	f.files[path] = content
	f.saved = append(f.saved, path)
	return nil
}

func newTestCache(t *testing.T, store *fakeStore, opts ...Option) *Cache {
	t.Helper()
	c, err := NewCache(store, opts...)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestTreeSeedsOnceFromStore(t *testing.T) {
	store := &fakeStore{files: map[string]string{"main.go": "package main"}}
	c := newTestCache(t, store)

	for i := 0; i < 3; i++ {
		tree, err := c.Tree(context.Background(), "p1")
		if err != nil {
			t.Fatalf("tree: %v", err)
		}
		if tree["main.go"] != "package main" {
			t.Fatalf("tree = %#v", tree)
		}
	}
	if store.getCalls != 1 {
		t.Fatalf("store reads = %d, want 1", store.getCalls)
	}
}

func TestTreeReturnsCopy(t *testing.T) {
	c := newTestCache(t, &fakeStore{files: map[string]string{"a": "1"}})
	tree, _ := c.Tree(context.Background(), "p1")
	tree["a"] = "mutated"

	again, _ := c.Tree(context.Background(), "p1")
	if again["a"] != "1" {
		t.Fatal("caller mutation leaked into cache")
	}
}

func TestTreeStoreFailure(t *testing.T) {
	c := newTestCache(t, &fakeStore{getErr: errors.New("disk")})
	_, err := c.Tree(context.Background(), "p1")
	if apperrors.CodeOf(err) != apperrors.CodeFileTreeNotReady {
		t.Fatalf("code = %s", apperrors.CodeOf(err))
	}
	if c.cached("p1") {
		t.Fatal("failed seed must not cache")
	}
}

func TestSaveWritesThroughAndUpdatesSnapshot(t *testing.T) {
	store := &fakeStore{files: map[string]string{"a.go": "v1"}}
	c := newTestCache(t, store)
	if _, err := c.Tree(context.Background(), "p1"); err != nil {
		t.Fatalf("tree: %v", err)
	}

	clean, err := c.Save(context.Background(), "p1", "./src/../a.go", "v2")
	if err == nil {
		t.Fatalf("expected .. to be rejected, got %q", clean)
	}

	clean, err = c.Save(context.Background(), "p1", "/src//b.go", "new")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if clean != "src/b.go" {
		t.Fatalf("path = %q, want src/b.go", clean)
	}
	tree, _ := c.Tree(context.Background(), "p1")
	if tree["src/b.go"] != "new" || tree["a.go"] != "v1" {
		t.Fatalf("tree = %#v", tree)
	}
	if store.files["src/b.go"] != "new" {
		t.Fatal("save did not reach store")
	}
}

func TestLastWriteWins(t *testing.T) {
	c := newTestCache(t, &fakeStore{})
	ctx := context.Background()
	if _, err := c.Tree(ctx, "p1"); err != nil {
		t.Fatalf("tree: %v", err)
	}
	if _, err := c.Save(ctx, "p1", "a.go", "first"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := c.Save(ctx, "p1", "a.go", "second"); err != nil {
		t.Fatalf("save: %v", err)
	}
	tree, _ := c.Tree(ctx, "p1")
	if tree["a.go"] != "second" {
		t.Fatalf("a.go = %q, want second", tree["a.go"])
	}
}

func TestSaveRejections(t *testing.T) {
	c := newTestCache(t, &fakeStore{}, WithMaxFileBytes(4))
	tests := []struct {
		name    string
		path    string
		content string
		want    apperrors.Code
	}{
		{name: "empty path", path: " ", want: apperrors.CodeFilePathInvalid},
		{name: "root", path: "/", want: apperrors.CodeFilePathInvalid},
		{name: "escape", path: "../etc/passwd", want: apperrors.CodeFilePathInvalid},
		{name: "too large", path: "a.go", content: strings.Repeat("x", 5), want: apperrors.CodeFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Save(context.Background(), "p1", tt.path, tt.content)
			if got := apperrors.CodeOf(err); got != tt.want {
				t.Fatalf("code = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSaveStoreFailureLeavesSnapshot(t *testing.T) {
	store := &fakeStore{files: map[string]string{"a.go": "v1"}}
	c := newTestCache(t, store)
	ctx := context.Background()
	if _, err := c.Tree(ctx, "p1"); err != nil {
		t.Fatalf("tree: %v", err)
	}
	store.saveErr = errors.New("disk")

	_, err := c.Save(ctx, "p1", "a.go", "v2")
	if apperrors.CodeOf(err) != apperrors.CodeFileSaveFailed {
		t.Fatalf("code = %s", apperrors.CodeOf(err))
	}
	tree, _ := c.Tree(ctx, "p1")
	if tree["a.go"] != "v1" {
		t.Fatal("failed save changed the snapshot")
	}
}

func TestEvictReseeds(t *testing.T) {
	store := &fakeStore{files: map[string]string{"a.go": "v1"}}
	c := newTestCache(t, store)
	ctx := context.Background()
	_, _ = c.Tree(ctx, "p1")
	if !c.Evict("p1") {
		t.Fatal("expected a cached snapshot to evict")
	}
	if c.cached("p1") || c.Evict("p1") {
		t.Fatal("expected snapshot evicted")
	}
	_, _ = c.Tree(ctx, "p1")
	if store.getCalls != 2 {
		t.Fatalf("store reads = %d, want 2", store.getCalls)
	}
}

// blockingStore holds GetProject after it has read the files until release
// is closed.
type blockingStore struct {
	*fakeStore
	reading chan struct{}
	release chan struct{}
}

func (b *blockingStore) GetProject(ctx context.Context, projectID string) (storage.Project, error) {
	project, err := b.fakeStore.GetProject(ctx, projectID)
	close(b.reading)
	<-b.release
	return project, err
}

func TestSaveDuringSeedIsKept(t *testing.T) {
	store := &blockingStore{
		fakeStore: &fakeStore{files: map[string]string{"a.go": "v1", "b.go": "b1"}},
		reading:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c, err := NewCache(store)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	type result struct {
		tree map[string]string
		err  error
	}
	seeded := make(chan result, 1)
	go func() {
		tree, err := c.Tree(ctx, "p1")
		seeded <- result{tree: tree, err: err}
	}()

	<-store.reading
	if _, err := c.Save(ctx, "p1", "a.go", "v2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	close(store.release)

	got := <-seeded
	if got.err != nil {
		t.Fatalf("tree: %v", got.err)
	}
	if got.tree["a.go"] != "v2" || got.tree["b.go"] != "b1" {
		t.Fatalf("seeded tree = %#v", got.tree)
	}
	again, _ := c.Tree(ctx, "p1")
	if again["a.go"] != "v2" {
		t.Fatalf("a.go = %q after seed, want v2", again["a.go"])
	}
	c.mu.Lock()
	pendingSeeds := len(c.seeds)
	c.mu.Unlock()
	if pendingSeeds != 0 {
		t.Fatalf("seeds in flight = %d, want 0", pendingSeeds)
	}
}

func (c *Cache) cached(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.trees[projectID]
	return ok
}

func TestNewCacheRequiresStore(t *testing.T) {
	if _, err := NewCache(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}
