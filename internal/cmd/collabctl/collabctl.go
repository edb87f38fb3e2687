// Package collabctl implements the collab operator commands: seeding
// projects, minting development credentials and revoking credentials.
package collabctl

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

	entrypoint "github.com/louisbranch/codecollab/internal/platform/cmd"
	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	"github.com/louisbranch/codecollab/internal/services/collab/filetree"
	"github.com/louisbranch/codecollab/internal/services/collab/identity"
	"github.com/louisbranch/codecollab/internal/services/collab/storage"
	"github.com/louisbranch/codecollab/internal/services/collab/storage/sqlite"
)

// Config holds the settings shared by every subcommand.
type Config struct {
	DBPath         string `env:"CODECOLLAB_DB_PATH"            envDefault:"data/collab.db"`
	JWTSecret      string `env:"CODECOLLAB_JWT_SECRET"`
	JWTIssuer      string `env:"CODECOLLAB_JWT_ISSUER"`
	RedisURL       string `env:"CODECOLLAB_REDIS_URL"`
	RevocationPath string `env:"CODECOLLAB_REVOCATION_DB_PATH" envDefault:"data/revocations.db"`
}

const usage = `usage: collabctl <command> [flags]

commands:
  seed    -manifest projects.yaml   create projects, members and files
  token   -sub id -email addr -ttl  mint a development credential
  revoke  -token value              revoke a credential until it expires
`

// Run dispatches args[0] to a subcommand.
func Run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if len(args) == 0 {
		fmt.Fprint(errOut, usage)
		return errors.New("command is required")
	}

	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return err
	}

	command, rest := args[0], args[1:]
	fs := flag.NewFlagSet(entrypoint.ServiceCollabCtl+" "+command, flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "project store SQLite path")

	switch command {
	case "seed":
		manifestPath := fs.String("manifest", "", "seed manifest YAML path")
		if err := entrypoint.ParseArgs(fs, rest); err != nil {
			return err
		}
		return runSeed(ctx, cfg, *manifestPath, out)
	case "token":
		var req identity.IssueRequest
		fs.StringVar(&req.Subject, "sub", "", "credential subject (user id)")
		fs.StringVar(&req.Email, "email", "", "credential email")
		fs.DurationVar(&req.TTL, "ttl", 24*time.Hour, "credential lifetime")
		if err := entrypoint.ParseArgs(fs, rest); err != nil {
			return err
		}
		return runToken(cfg, req, out)
	case "revoke":
		token := fs.String("token", "", "credential to revoke")
		fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the shared revocation list")
		fs.StringVar(&cfg.RevocationPath, "revocation-db-path", cfg.RevocationPath, "bbolt revocation list path, used without Redis")
		if err := entrypoint.ParseArgs(fs, rest); err != nil {
			return err
		}
		return runRevoke(ctx, cfg, *token, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(errOut, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runSeed(ctx context.Context, cfg Config, manifestPath string, out io.Writer) error {
	if strings.TrimSpace(manifestPath) == "" {
		return errors.New("-manifest is required")
	}
	f, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	manifest, err := ParseManifest(f)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(filepath.Clean(cfg.DBPath)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	defer store.Close()
	return Seed(ctx, store, manifest, out)
}

// Seed writes every manifest project and its members to store and prints
// one line per project.
func Seed(ctx context.Context, store storage.ProjectStore, manifest Manifest, out io.Writer) error {
	for _, p := range manifest.Projects {
		files := make(map[string]string, len(p.Files))
		for raw, content := range p.Files {
			clean, err := filetree.NormalizePath(raw)
			if err != nil {
				return fmt.Errorf("project %q: file %q: %s", p.Name, raw, apperrors.MessageOf(err, err.Error()))
			}
			files[clean] = content
		}
		if err := store.PutProject(ctx, storage.Project{ID: p.ID, Name: p.Name, Files: files}); err != nil {
			return fmt.Errorf("put project %q: %w", p.Name, err)
		}
		for _, m := range p.Members {
			if err := store.AddMember(ctx, storage.Member{ProjectID: p.ID, UserID: m.UserID, Email: m.Email}); err != nil {
				return fmt.Errorf("add member %q to %q: %w", m.UserID, p.Name, err)
			}
		}
		fmt.Fprintf(out, "%s\t%s\tmembers=%d files=%d\n", p.ID, p.Name, len(p.Members), len(files))
	}
	return nil
}

func runToken(cfg Config, req identity.IssueRequest, out io.Writer) error {
	token, err := identity.Issue(identity.Config{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}, req)
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func runRevoke(ctx context.Context, cfg Config, token string, out io.Writer) error {
	validator, err := identity.NewValidator(identity.Config{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer})
	if err != nil {
		return err
	}
	list, err := openRevocationList(ctx, cfg)
	if err != nil {
		return err
	}
	defer list.Close()

	revoked, err := Revoke(ctx, validator, list, token, time.Now())
	if err != nil {
		return err
	}
	if !revoked {
		fmt.Fprintln(out, "credential already expired; nothing to revoke")
		return nil
	}
	fmt.Fprintf(out, "revoked %s\n", identity.Fingerprint(strings.TrimSpace(token))[:16])
	return nil
}

// closableRevocationList is a revocation backend the command owns.
type closableRevocationList interface {
	identity.RevocationList
	io.Closer
}

func openRevocationList(ctx context.Context, cfg Config) (closableRevocationList, error) {
	if strings.TrimSpace(cfg.RedisURL) != "" {
		list, err := identity.NewRedisRevocationList(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis revocation list: %w", err)
		}
		return list, nil
	}
	if strings.TrimSpace(cfg.RevocationPath) == "" {
		return nil, errors.New("a Redis URL or revocation db path is required")
	}
	// bbolt holds an exclusive file lock; stop the service or use Redis.
	list, err := identity.OpenBoltRevocationList(cfg.RevocationPath)
	if err != nil {
		return nil, fmt.Errorf("open bolt revocation list: %w", err)
	}
	return list, nil
}

// credentialValidator is the slice of identity.Validator Revoke needs.
type credentialValidator interface {
	Validate(token string) (identity.Identity, error)
}

// Revoke records token in list for the rest of its lifetime. It reports false
// when the token has already expired.
func Revoke(ctx context.Context, validator credentialValidator, list identity.RevocationList, token string, now time.Time) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, errors.New("-token is required")
	}
	ident, err := validator.Validate(token)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeCredentialExpired {
			return false, nil
		}
		return false, fmt.Errorf("validate credential: %w", err)
	}
	ttl := ident.ExpiresAt.Sub(now)
	if ident.ExpiresAt.IsZero() || ttl <= 0 {
		return false, nil
	}
	if err := list.Revoke(ctx, token, ttl); err != nil {
		return false, fmt.Errorf("revoke credential: %w", err)
	}
	return true, nil
}
