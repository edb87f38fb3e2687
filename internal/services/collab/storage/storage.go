// Package storage defines persistence contracts for collaboration projects.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested project record is missing.
var ErrNotFound = errors.New("record not found")

// Project is one persisted project with its file tree.
type Project struct {
	ID        string
	Name      string
	Files     map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member is one identity allowed into a project's room.
type Member struct {
	ProjectID string
	UserID    string
	Email     string
	CreatedAt time.Time
}

// ProjectReader serves admission and file tree seeding.
type ProjectReader interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
	IsMember(ctx context.Context, projectID string, userID string) (bool, error)
}

// FileWriter persists one whole-file save.
type FileWriter interface {
	SaveFile(ctx context.Context, projectID string, path string, content string) error
}

// ProjectStore is the full project persistence contract.
type ProjectStore interface {
	ProjectReader
	FileWriter
	PutProject(ctx context.Context, project Project) error
	AddMember(ctx context.Context, member Member) error
	ListMembers(ctx context.Context, projectID string) ([]Member, error)
}
