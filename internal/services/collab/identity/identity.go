// Package identity validates collaboration credentials and tracks revoked
// ones.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/codecollab/internal/platform/errors"
)

// Identity is the authenticated principal decoded from a credential.
type Identity struct {
	ID        string
	Email     string
	ExpiresAt time.Time
}

// Config defines how HS256 credentials are verified and issued.
type Config struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Validator verifies bearer credentials.
type Validator struct {
	cfg Config
}

// NewValidator builds a validator; the secret is required.
func NewValidator(cfg Config) (*Validator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("credential secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{cfg: cfg}, nil
}

// Validate checks signature, issuer and expiry and returns the identity.
// Tokens without a subject fall back to their email as the identity id.
func (v *Validator) Validate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperrors.New(apperrors.CodeCredentialMissing, "credential is required")
	}
	if v == nil || len(v.cfg.Secret) == 0 {
		return Identity{}, errors.New("credential validator is not configured")
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	if v.cfg.Issuer != "" && parsed.Issuer != v.cfg.Issuer {
		return Identity{}, apperrors.WithMetadata(
			apperrors.CodeCredentialInvalid,
			"credential issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if parsed.ExpiresAt == nil {
		return Identity{}, apperrors.New(apperrors.CodeCredentialInvalid, "credential exp is required")
	}
	now := v.cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Identity{}, apperrors.New(apperrors.CodeCredentialExpired, "credential is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Identity{}, apperrors.New(apperrors.CodeCredentialInvalid, "credential not active yet")
	}

	id := strings.TrimSpace(parsed.Subject)
	email := strings.TrimSpace(parsed.Email)
	if id == "" {
		id = email
	}
	if id == "" {
		return Identity{}, apperrors.New(apperrors.CodeCredentialInvalid, "credential subject is required")
	}
	return Identity{ID: id, Email: email, ExpiresAt: exp}, nil
}

// IssueRequest describes a credential to mint.
type IssueRequest struct {
	Subject string
	Email   string
	TTL     time.Duration
}

// Issue signs an HS256 credential for local tooling and tests.
func Issue(cfg Config, req IssueRequest) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("credential secret is required")
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Email) == "" {
		return "", errors.New("subject or email is required")
	}
	if req.TTL <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	issuedAt := now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   strings.TrimSpace(req.Subject),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(req.TTL)),
		},
		Email: strings.TrimSpace(req.Email),
	})
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeCredentialInvalid, "credential signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeCredentialInvalid, "credential alg is invalid", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperrors.Wrap(apperrors.CodeCredentialInvalid, "credential is malformed", err)
	default:
		return apperrors.Wrap(apperrors.CodeCredentialInvalid, "credential is invalid", err)
	}
}
