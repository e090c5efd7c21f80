// ABOUTME: Store interface and data types for glint-gateway persistence.
// ABOUTME: Defines Passport and AuditEntry structs and the Store interface.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/glinthq/glint-gateway/internal/delegation"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicatePassport is returned when creating a passport whose ID already exists.
var ErrDuplicatePassport = errors.New("passport already exists")

// Passport is a stored agent identity. Delegation chain attributes (depth,
// root, scopes, budget) are fixed at creation and never updated.
type Passport struct {
	ID        string
	Name      string
	ParentID  string // empty for root passports
	RootID    string // empty for root passports
	Depth     int
	Scopes    []string
	Budget    delegation.Budget
	CreatedAt time.Time
}

// DelegationMetadata returns the passport's view used by the delegation
// validator.
func (p *Passport) DelegationMetadata() delegation.Metadata {
	return delegation.Metadata{
		Scopes:          p.Scopes,
		Budget:          p.Budget,
		DelegationDepth: p.Depth,
		RootPassportID:  p.RootID,
	}
}

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditCreatePassport   AuditAction = "create_passport"
	AuditDelegationGrant  AuditAction = "delegation_granted"
	AuditDelegationDenied AuditAction = "delegation_denied"
	AuditBreakerReset     AuditAction = "breaker_reset"
)

// AuditEntry records who did what to which passport or backend.
type AuditEntry struct {
	ID        string // UUID v4
	ActorID   string // passport that performed the action
	Action    AuditAction
	TargetID  string // affected passport or backend ID
	Reason    string // denial reason, empty for grants
	Timestamp time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	ActorID *string
	Action  *AuditAction
	Since   *time.Time
	Limit   int // 0 means no limit
}

// Store is the persistence interface for passports and the audit log.
type Store interface {
	// CreatePassport stores a new passport. Returns ErrDuplicatePassport
	// if the ID is taken.
	CreatePassport(ctx context.Context, p *Passport) error

	// GetPassport retrieves a passport by ID. Returns ErrNotFound if it
	// does not exist.
	GetPassport(ctx context.Context, id string) (*Passport, error)

	// ListChildren returns the direct children of a passport, oldest first.
	ListChildren(ctx context.Context, parentID string) ([]*Passport, error)

	// AppendAudit records an audit entry.
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	// ListAudit returns audit entries matching the filter, newest first.
	ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)

	// Close releases the store's resources.
	Close() error
}
