// Package gatekeeper decides whether a connection may enter a project room.
package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
	"github.com/louisbranch/codecollab/internal/platform/timeouts"
	"github.com/louisbranch/codecollab/internal/services/collab/identity"
	"github.com/louisbranch/codecollab/internal/services/collab/message"
	"github.com/louisbranch/codecollab/internal/services/collab/storage"
)

// CredentialValidator decodes and verifies a bearer credential.
type CredentialValidator interface {
	Validate(token string) (identity.Identity, error)
}

// RevocationChecker reports whether a credential was revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Admission is the outcome of a successful admission check.
type Admission struct {
	Identity identity.Identity
	Project  storage.Project
}

// Gatekeeper runs admission checks in order, cheapest first.
type Gatekeeper struct {
	validator     CredentialValidator
	revocations   RevocationChecker
	projects      storage.ProjectReader
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// Option customizes a Gatekeeper.
type Option func(*Gatekeeper)

// WithLookupTimeout bounds each revocation and store lookup.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(g *Gatekeeper) {
		if timeout > 0 {
			g.lookupTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for refusal diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gatekeeper) {
		g.logger = logger
	}
}

// New builds a Gatekeeper. revocations may be nil when no revocation list is
// configured.
func New(validator CredentialValidator, revocations RevocationChecker, projects storage.ProjectReader, opts ...Option) (*Gatekeeper, error) {
	if validator == nil {
		return nil, errors.New("credential validator is required")
	}
	if projects == nil {
		return nil, errors.New("project reader is required")
	}
	g := &Gatekeeper{
		validator:     validator,
		revocations:   revocations,
		projects:      projects,
		lookupTimeout: timeouts.StoreLookup,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Admit validates credential and projectID. Refusals are *apperrors.Error
// values carrying an admission code; nothing is joined on refusal.
func (g *Gatekeeper) Admit(ctx context.Context, credential string, projectID string) (Admission, error) {
	projectID = strings.TrimSpace(projectID)
	if !primitive.IsValidObjectID(projectID) {
		return Admission{}, apperrors.WithMetadata(
			apperrors.CodeProjectIDInvalid,
			"project id is invalid",
			map[string]string{"ProjectID": projectID},
		)
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Admission{}, apperrors.New(apperrors.CodeCredentialMissing, "credential is required")
	}

	who, err := g.validator.Validate(credential)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			return Admission{}, apperrors.Wrap(apperrors.CodeCredentialInvalid, "credential is invalid", err)
		}
		return Admission{}, err
	}
	// Replies from the assistant identity must stay unforgeable.
	if (message.Sender{ID: who.ID}).IsAssistant() {
		return Admission{}, apperrors.New(apperrors.CodeCredentialInvalid, "credential subject is reserved")
	}

	if g.revocations != nil {
		revoked, err := g.lookup(ctx, func(ctx context.Context) (bool, error) {
			return g.revocations.IsRevoked(ctx, credential)
		})
		if err != nil {
			g.logger.Warn().Err(err).Str("user_id", who.ID).Msg("gatekeeper: revocation lookup failed")
			return Admission{}, apperrors.Wrap(apperrors.CodeAdmissionUnavailable, "admission is temporarily unavailable", err)
		}
		if revoked {
			return Admission{}, apperrors.New(apperrors.CodeCredentialRevoked, "credential has been revoked")
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	project, err := g.projects.GetProject(lookupCtx, projectID)
	cancel()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Admission{}, apperrors.WithMetadata(
				apperrors.CodeProjectNotFound,
				"project not found",
				map[string]string{"ProjectID": projectID},
			)
		}
		g.logger.Warn().Err(err).Str("project_id", projectID).Msg("gatekeeper: project lookup failed")
		return Admission{}, apperrors.Wrap(apperrors.CodeAdmissionUnavailable, "admission is temporarily unavailable", err)
	}

	member, err := g.lookup(ctx, func(ctx context.Context) (bool, error) {
		return g.projects.IsMember(ctx, projectID, who.ID)
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("project_id", projectID).Str("user_id", who.ID).Msg("gatekeeper: membership lookup failed")
		return Admission{}, apperrors.Wrap(apperrors.CodeAdmissionUnavailable, "admission is temporarily unavailable", err)
	}
	if !member {
		return Admission{}, apperrors.WithMetadata(
			apperrors.CodeProjectMembershipRequired,
			"project membership required",
			map[string]string{"ProjectID": projectID, "UserID": who.ID},
		)
	}

	return Admission{Identity: who, Project: project}, nil
}

func (g *Gatekeeper) lookup(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, g.lookupTimeout)
	defer cancel()
	return fn(lookupCtx)
}
