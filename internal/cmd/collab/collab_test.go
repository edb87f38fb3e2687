package collab

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/codecollab/internal/services/collab/filetree"
	"github.com/louisbranch/codecollab/internal/services/collab/message"
	"github.com/louisbranch/codecollab/internal/services/collab/storage"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("collab", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.AssistantMarker != "@ai" {
		t.Fatalf("AssistantMarker = %q, want @ai", cfg.AssistantMarker)
	}
	if cfg.AssistantTimeout != 30*time.Second {
		t.Fatalf("AssistantTimeout = %v", cfg.AssistantTimeout)
	}
	if cfg.GenerationProvider != "echo" {
		t.Fatalf("GenerationProvider = %q, want echo", cfg.GenerationProvider)
	}
	if cfg.BroadcastFileSaves {
		t.Fatal("BroadcastFileSaves should default to false")
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("CODECOLLAB_HTTP_ADDR", "env-addr")
	t.Setenv("CODECOLLAB_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("CODECOLLAB_BROADCAST_FILE_SAVES", "true")

	fs := flag.NewFlagSet("collab", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-addr", "flag-addr", "-assistant-timeout", "5s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag-addr" {
		t.Fatalf("HTTPAddr = %q, want flag-addr", cfg.HTTPAddr)
	}
	if cfg.AssistantTimeout != 5*time.Second {
		t.Fatalf("AssistantTimeout = %v", cfg.AssistantTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	if !cfg.BroadcastFileSaves {
		t.Fatal("expected broadcast flag from env")
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		HTTPAddr:               "127.0.0.1:0",
		DBPath:                 filepath.Join(dir, "db", "collab.db"),
		RevocationPath:         filepath.Join(dir, "revocations.db"),
		JWTSecret:              "test-secret",
		AssistantMarker:        "@ai",
		AssistantTimeout:       time.Second,
		AssistantPolicy:        "emit",
		AssistantMaxConcurrent: 2,
		GenerationProvider:     "echo",
		MaxFileBytes:           1024,
	}
}

func TestNewRuntime(t *testing.T) {
	rt, err := newRuntime(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.close()
	if rt.server == nil {
		t.Fatal("expected server")
	}
	if len(rt.closers) != 2 {
		t.Fatalf("closers = %d, want store and revocation list", len(rt.closers))
	}
}

func TestNewRuntimeRequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = ""
	if _, err := newRuntime(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestNewRuntimeRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.AssistantPolicy = "shout"
	if _, err := newRuntime(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestOpenRevocationListDisabled(t *testing.T) {
	list, closer, err := openRevocationList(context.Background(), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if list != nil || closer != nil {
		t.Fatal("expected revocation checks disabled")
	}
}

type stubStore struct{}

func (stubStore) GetProject(_ context.Context, projectID string) (storage.Project, error) {
	return storage.Project{ID: projectID, Files: map[string]string{"a.go": "x"}}, nil
}

func (stubStore) SaveFile(context.Context, string, string, string) error {
	return nil
}

type stubMember struct{ id string }

func (m stubMember) ConnectionID() string       { return m.id }
func (m stubMember) Sender() message.Sender     { return message.Sender{ID: m.id} }
func (m stubMember) Deliver(message.Event) bool { return true }

func TestRegistryClosingRoomEvictsFileTree(t *testing.T) {
	files, err := filetree.NewCache(stubStore{})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	rooms := newRegistry(files, zerolog.Nop())
	member := stubMember{id: "c1"}
	rooms.Join("p1", member)
	if _, err := files.Tree(context.Background(), "p1"); err != nil {
		t.Fatalf("tree: %v", err)
	}

	rooms.Leave("p1", member)
	if files.Evict("p1") {
		t.Fatal("expected tree evicted when the room closed")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitList = %q", got)
	}
}
