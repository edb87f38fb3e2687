// Package collab parses collab command flags and composes the realtime
// collaboration service.
package collab

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	entrypoint "github.com/louisbranch/codecollab/internal/platform/cmd"
	"github.com/louisbranch/codecollab/internal/platform/logging"
	"github.com/louisbranch/codecollab/internal/platform/telemetry/metrics"
	server "github.com/louisbranch/codecollab/internal/services/collab/app"
	"github.com/louisbranch/codecollab/internal/services/collab/assistant"
	"github.com/louisbranch/codecollab/internal/services/collab/filetree"
	"github.com/louisbranch/codecollab/internal/services/collab/gatekeeper"
	"github.com/louisbranch/codecollab/internal/services/collab/generation"
	"github.com/louisbranch/codecollab/internal/services/collab/identity"
	"github.com/louisbranch/codecollab/internal/services/collab/room"
	"github.com/louisbranch/codecollab/internal/services/collab/storage/sqlite"
)

// Config holds collab command configuration.
type Config struct {
	HTTPAddr       string   `env:"CODECOLLAB_HTTP_ADDR"        envDefault:":8080"`
	DBPath         string   `env:"CODECOLLAB_DB_PATH"          envDefault:"data/collab.db"`
	AllowedOrigins []string `env:"CODECOLLAB_ALLOWED_ORIGINS"  envSeparator:","`

	JWTSecret      string `env:"CODECOLLAB_JWT_SECRET"`
	JWTIssuer      string `env:"CODECOLLAB_JWT_ISSUER"`
	RedisURL       string `env:"CODECOLLAB_REDIS_URL"`
	RevocationPath string `env:"CODECOLLAB_REVOCATION_DB_PATH" envDefault:"data/revocations.db"`

	AssistantMarker        string        `env:"CODECOLLAB_ASSISTANT_MARKER"          envDefault:"@ai"`
	AssistantTimeout       time.Duration `env:"CODECOLLAB_ASSISTANT_TIMEOUT"         envDefault:"30s"`
	AssistantPolicy        string        `env:"CODECOLLAB_ASSISTANT_FAILURE_POLICY"  envDefault:"emit"`
	AssistantMaxConcurrent int64         `env:"CODECOLLAB_ASSISTANT_MAX_CONCURRENT"  envDefault:"8"`

	GenerationProvider string `env:"CODECOLLAB_GENERATION_PROVIDER" envDefault:"echo"`
	GenerationModel    string `env:"CODECOLLAB_GENERATION_MODEL"`
	GenerationAPIKey   string `env:"CODECOLLAB_GENERATION_API_KEY"`
	GenerationBaseURL  string `env:"CODECOLLAB_GENERATION_BASE_URL"`

	BroadcastFileSaves bool `env:"CODECOLLAB_BROADCAST_FILE_SAVES" envDefault:"false"`
	MaxFileBytes       int  `env:"CODECOLLAB_MAX_FILE_BYTES"       envDefault:"524288"`

	Logging logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	origins := strings.Join(cfg.AllowedOrigins, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "collab HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "project store SQLite path")
	fs.StringVar(&origins, "allowed-origins", origins, "comma-separated browser origins allowed to connect")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the shared revocation list")
	fs.StringVar(&cfg.RevocationPath, "revocation-db-path", cfg.RevocationPath, "bbolt revocation list path, used without Redis")
	fs.StringVar(&cfg.GenerationProvider, "generation-provider", cfg.GenerationProvider, "assistant provider (openai, gemini, echo)")
	fs.StringVar(&cfg.GenerationModel, "generation-model", cfg.GenerationModel, "assistant model name")
	fs.DurationVar(&cfg.AssistantTimeout, "assistant-timeout", cfg.AssistantTimeout, "assistant invocation timeout")
	fs.StringVar(&cfg.AssistantPolicy, "assistant-failure-policy", cfg.AssistantPolicy, "assistant failure policy (emit, suppress)")
	fs.BoolVar(&cfg.BroadcastFileSaves, "broadcast-file-saves", cfg.BroadcastFileSaves, "relay file saves to the whole room")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = splitList(origins)
	return cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Run builds the collab service and serves until ctx is canceled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCollab, func(ctx context.Context) error {
		logger := logging.New(cfg.Logging, entrypoint.ServiceCollab)
		rt, err := newRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve collab: %w", err)
		}
		return nil
	})
}

// runtime owns the composed service and the resources it must release.
type runtime struct {
	server  *server.Server
	closers []io.Closer
	logger  zerolog.Logger
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("collab: close resource")
		}
	}
}

func newRuntime(ctx context.Context, cfg Config, logger zerolog.Logger) (_ *runtime, err error) {
	rt := &runtime{logger: logger}
	defer func() {
		if err != nil {
			rt.close()
		}
	}()

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("CODECOLLAB_JWT_SECRET is required")
	}
	validator, err := identity.NewValidator(identity.Config{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer})
	if err != nil {
		return nil, fmt.Errorf("credential validator: %w", err)
	}

	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}
	rt.closers = append(rt.closers, store)

	revocations, closer, err := openRevocationList(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	gate, err := gatekeeper.New(validator, revocations, store, gatekeeper.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("gatekeeper: %w", err)
	}

	files, err := filetree.NewCache(store, filetree.WithMaxFileBytes(cfg.MaxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("file tree cache: %w", err)
	}
	rooms := newRegistry(files, logger)

	completer, err := generation.New(ctx, generation.Config{
		Provider: cfg.GenerationProvider,
		Model:    cfg.GenerationModel,
		APIKey:   cfg.GenerationAPIKey,
		BaseURL:  cfg.GenerationBaseURL,
		Timeout:  cfg.AssistantTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	policy, err := assistant.ParsePolicy(cfg.AssistantPolicy)
	if err != nil {
		return nil, err
	}
	pipeline, err := assistant.NewPipeline(completer, rooms, assistant.Config{
		Marker:        cfg.AssistantMarker,
		Timeout:       cfg.AssistantTimeout,
		Policy:        policy,
		MaxConcurrent: cfg.AssistantMaxConcurrent,
	}, assistant.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("assistant pipeline: %w", err)
	}

	srv, err := server.NewServer(server.Config{HTTPAddr: cfg.HTTPAddr}, server.Deps{
		Admitter:           gate,
		Rooms:              rooms,
		Assistant:          pipeline,
		Files:              files,
		Logger:             logger,
		AllowedOrigins:     cfg.AllowedOrigins,
		BroadcastFileSaves: cfg.BroadcastFileSaves,
	})
	if err != nil {
		return nil, fmt.Errorf("collab server: %w", err)
	}
	rt.server = srv
	logger.Info().
		Str("generation_provider", cfg.GenerationProvider).
		Bool("broadcast_file_saves", cfg.BroadcastFileSaves).
		Msg("collab: runtime ready")
	return rt, nil
}

// revocationList is what the service needs from either backend.
type revocationList interface {
	identity.RevocationList
	io.Closer
}

// openRevocationList prefers Redis so several processes share one list and
// falls back to a local bbolt file. Both empty disables revocation checks.
func openRevocationList(ctx context.Context, cfg Config) (identity.RevocationList, io.Closer, error) {
	var list revocationList
	switch {
	case strings.TrimSpace(cfg.RedisURL) != "":
		redisList, err := identity.NewRedisRevocationList(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis revocation list: %w", err)
		}
		list = redisList
	case strings.TrimSpace(cfg.RevocationPath) != "":
		if err := ensureDir(cfg.RevocationPath); err != nil {
			return nil, nil, err
		}
		boltList, err := identity.OpenBoltRevocationList(cfg.RevocationPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt revocation list: %w", err)
		}
		list = boltList
	default:
		return nil, nil, nil
	}
	return list, list, nil
}

// newRegistry wires room lifecycle into the file tree cache and metrics.
func newRegistry(files *filetree.Cache, logger zerolog.Logger) *room.Registry {
	return room.NewRegistry(
		room.OnMembershipChange(
			func(roomID string, size int, opened bool) {
				if opened {
					metrics.RoomsOpen.Inc()
				}
				logger.Debug().Str("room_id", roomID).Int("size", size).Msg("collab: member joined")
			},
			func(roomID string, size int) {
				logger.Debug().Str("room_id", roomID).Int("size", size).Msg("collab: member left")
			},
		),
		room.OnRoomClosed(func(roomID string) {
			metrics.RoomsOpen.Dec()
			evicted := files != nil && files.Evict(roomID)
			logger.Info().Str("room_id", roomID).Bool("file_tree_evicted", evicted).Msg("collab: room closed")
		}),
		room.OnDeliveryDropped(func() {
			metrics.DeliveriesDropped.Inc()
		}),
	)
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return nil
}
