// Package sqlite provides a SQLite-backed project storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/codecollab/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/codecollab/internal/services/collab/storage"
	"github.com/louisbranch/codecollab/internal/services/collab/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists projects, memberships and file trees in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ storage.ProjectStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite project store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// PutProject upserts a project and replaces its file tree when Files is set.
func (s *Store) PutProject(ctx context.Context, project storage.Project) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	projectID := strings.TrimSpace(project.ID)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	now := s.now()
	if project.CreatedAt.IsZero() {
		project.CreatedAt = now
	}
	if project.UpdatedAt.IsZero() {
		project.UpdatedAt = now
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO projects (id, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   updated_at = excluded.updated_at`,
		projectID,
		strings.TrimSpace(project.Name),
		toMillis(project.CreatedAt),
		toMillis(project.UpdatedAt),
	); err != nil {
		return fmt.Errorf("put project: %w", err)
	}

	if project.Files != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_files WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("clear project files: %w", err)
		}
		for path, content := range project.Files {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO project_files (project_id, path, content, updated_at) VALUES (?, ?, ?, ?)`,
				projectID, path, content, toMillis(project.UpdatedAt),
			); err != nil {
				return fmt.Errorf("put project file %s: %w", path, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put project: %w", err)
	}
	return nil
}

// GetProject returns one project with its full file tree.
func (s *Store) GetProject(ctx context.Context, projectID string) (storage.Project, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Project{}, err
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return storage.Project{}, fmt.Errorf("project id is required")
	}

	var project storage.Project
	var createdAt, updatedAt int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, name, created_at, updated_at FROM projects WHERE id = ?`,
		projectID,
	).Scan(&project.ID, &project.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Project{}, storage.ErrNotFound
		}
		return storage.Project{}, fmt.Errorf("get project: %w", err)
	}
	project.CreatedAt = fromMillis(createdAt)
	project.UpdatedAt = fromMillis(updatedAt)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT path, content FROM project_files WHERE project_id = ? ORDER BY path`,
		projectID,
	)
	if err != nil {
		return storage.Project{}, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	project.Files = make(map[string]string)
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return storage.Project{}, fmt.Errorf("scan project file: %w", err)
		}
		project.Files[path] = content
	}
	if err := rows.Err(); err != nil {
		return storage.Project{}, fmt.Errorf("iterate project files: %w", err)
	}
	return project, nil
}

// AddMember grants an identity access to a project's room.
func (s *Store) AddMember(ctx context.Context, member storage.Member) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	projectID := strings.TrimSpace(member.ProjectID)
	userID := strings.TrimSpace(member.UserID)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = s.now()
	}
	if err := s.projectExists(ctx, projectID); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO project_members (project_id, user_id, email, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, user_id) DO UPDATE SET
		   email = excluded.email`,
		projectID,
		userID,
		strings.TrimSpace(member.Email),
		toMillis(member.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *Store) projectExists(ctx context.Context, projectID string) error {
	var found int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, projectID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	return nil
}

// IsMember reports whether userID may join projectID's room.
func (s *Store) IsMember(ctx context.Context, projectID string, userID string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	var found int
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1 FROM project_members WHERE project_id = ? AND user_id = ?`,
		strings.TrimSpace(projectID),
		strings.TrimSpace(userID),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return true, nil
}

// ListMembers returns a project's members ordered by user id.
func (s *Store) ListMembers(ctx context.Context, projectID string) ([]storage.Member, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT project_id, user_id, email, created_at
		 FROM project_members WHERE project_id = ? ORDER BY user_id`,
		strings.TrimSpace(projectID),
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []storage.Member
	for rows.Next() {
		var member storage.Member
		var createdAt int64
		if err := rows.Scan(&member.ProjectID, &member.UserID, &member.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.CreatedAt = fromMillis(createdAt)
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// SaveFile replaces one file of a project's tree.
func (s *Store) SaveFile(ctx context.Context, projectID string, path string, content string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	now := toMillis(s.now())

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save file: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO project_files (project_id, path, content, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, path) DO UPDATE SET
		   content = excluded.content,
		   updated_at = excluded.updated_at`,
		projectID, path, content, now,
	); err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save file: %w", err)
	}
	return nil
}
