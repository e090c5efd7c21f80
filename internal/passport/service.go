// ABOUTME: Passport creation flow for delegated agent identities.
// ABOUTME: Validates delegation, derives chain attributes, persists, mints a token, audits.

package passport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glinthq/glint-gateway/internal/auth"
	"github.com/glinthq/glint-gateway/internal/delegation"
	"github.com/glinthq/glint-gateway/internal/store"
)

// ErrDelegationDenied indicates validation rejected the requested child
// passport. The wrapped message carries the reason string.
var ErrDelegationDenied = errors.New("delegation denied")

// ErrParentNotFound indicates the parent passport does not exist.
var ErrParentNotFound = errors.New("parent passport not found")

// TokenGenerator mints passport tokens. Satisfied by *auth.JWTVerifier.
type TokenGenerator interface {
	Generate(passportID string, scopes []string, expiresIn time.Duration) (string, error)
}

// Service owns the passport lifecycle.
type Service struct {
	store  store.Store
	tokens TokenGenerator // optional; no tokens are minted when nil
	logger *slog.Logger
}

// NewService creates a passport Service.
func NewService(s store.Store, tokens TokenGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		tokens: tokens,
		logger: logger.With("component", "passport"),
	}
}

// DelegateRequest describes the child passport an agent wants to create.
type DelegateRequest struct {
	ParentID string
	Name     string
	Scopes   []string
	Budget   delegation.Budget
}

// DelegateResult is a successfully created child passport with its token.
// Token is empty when the service has no token generator configured.
type DelegateResult struct {
	Passport *store.Passport
	Token    string
}

// Delegate creates a child passport under the given parent. The delegation
// validator runs first; a rejection is audited and returned as
// ErrDelegationDenied wrapping the reason, and nothing is persisted. On
// success the child's depth and root are derived from the parent, the
// passport is stored, and a scoped token is minted.
func (s *Service) Delegate(ctx context.Context, req DelegateRequest) (*DelegateResult, error) {
	parent, err := s.store.GetPassport(ctx, req.ParentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrParentNotFound
		}
		return nil, fmt.Errorf("loading parent passport: %w", err)
	}

	meta := parent.DelegationMetadata()
	result := delegation.Validate(meta, req.Scopes, req.Budget)
	if !result.Valid {
		s.audit(ctx, &store.AuditEntry{
			ActorID:  parent.ID,
			Action:   store.AuditDelegationDenied,
			TargetID: req.Name,
			Reason:   result.Reason,
		})
		s.logger.Warn("delegation denied",
			"parent_id", parent.ID,
			"child_name", req.Name,
			"reason", result.Reason,
		)
		return nil, fmt.Errorf("%w: %s", ErrDelegationDenied, result.Reason)
	}

	depth, rootID := delegation.DeriveChild(parent.ID, meta)
	child := &store.Passport{
		ID:        uuid.NewString(),
		Name:      req.Name,
		ParentID:  parent.ID,
		RootID:    rootID,
		Depth:     depth,
		Scopes:    req.Scopes,
		Budget:    req.Budget,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreatePassport(ctx, child); err != nil {
		return nil, fmt.Errorf("storing child passport: %w", err)
	}

	var token string
	if s.tokens != nil {
		token, err = s.tokens.Generate(child.ID, child.Scopes, tokenTTL(child.Budget))
		if err != nil {
			return nil, fmt.Errorf("minting passport token: %w", err)
		}
	}

	s.audit(ctx, &store.AuditEntry{
		ActorID:  parent.ID,
		Action:   store.AuditDelegationGrant,
		TargetID: child.ID,
	})
	s.logger.Info("passport delegated",
		"parent_id", parent.ID,
		"child_id", child.ID,
		"depth", depth,
		"scope_count", len(child.Scopes),
	)

	return &DelegateResult{Passport: child, Token: token}, nil
}

// CreateRoot creates a root passport with no parent. Used at bootstrap.
func (s *Service) CreateRoot(ctx context.Context, name string, scopes []string, budget delegation.Budget) (*DelegateResult, error) {
	p := &store.Passport{
		ID:        uuid.NewString(),
		Name:      name,
		Scopes:    scopes,
		Budget:    budget,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePassport(ctx, p); err != nil {
		return nil, fmt.Errorf("storing root passport: %w", err)
	}

	var token string
	var err error
	if s.tokens != nil {
		token, err = s.tokens.Generate(p.ID, p.Scopes, tokenTTL(p.Budget))
		if err != nil {
			return nil, fmt.Errorf("minting passport token: %w", err)
		}
	}

	s.audit(ctx, &store.AuditEntry{
		ActorID:  p.ID,
		Action:   store.AuditCreatePassport,
		TargetID: p.ID,
	})
	s.logger.Info("root passport created", "passport_id", p.ID, "name", name)

	return &DelegateResult{Passport: p, Token: token}, nil
}

// Get retrieves a passport by ID.
func (s *Service) Get(ctx context.Context, id string) (*store.Passport, error) {
	return s.store.GetPassport(ctx, id)
}

// audit appends an entry, logging instead of failing when the write breaks.
func (s *Service) audit(ctx context.Context, entry *store.AuditEntry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("audit write failed",
			"action", string(entry.Action),
			"error", err,
		)
	}
}

// tokenTTL converts a passport's TTL budget into a token lifetime.
func tokenTTL(b delegation.Budget) time.Duration {
	if b.TTLHours != nil {
		return time.Duration(*b.TTLHours * float64(time.Hour))
	}
	return auth.DefaultTokenTTL
}
