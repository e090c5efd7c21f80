// ABOUTME: Tests for the passport delegation service.
// ABOUTME: Covers the grant path, denial auditing, chain derivation, and token minting.

package passport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinthq/glint-gateway/internal/auth"
	"github.com/glinthq/glint-gateway/internal/delegation"
	"github.com/glinthq/glint-gateway/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	return NewService(mock, auth.NewJWTVerifier([]byte("test-secret")), nil), mock
}

func seedRoot(t *testing.T, svc *Service) *store.Passport {
	t.Helper()
	res, err := svc.CreateRoot(context.Background(), "owner", []string{"github:*", "slack:read"},
		delegation.Budget{MaxCostUSD: floatPtr(100)})
	require.NoError(t, err)
	return res.Passport
}

func TestDelegate_Success(t *testing.T) {
	svc, _ := newTestService(t)
	root := seedRoot(t, svc)
	ctx := context.Background()

	res, err := svc.Delegate(ctx, DelegateRequest{
		ParentID: root.ID,
		Name:     "code-searcher",
		Scopes:   []string{"github:search_code"},
		Budget:   delegation.Budget{MaxCostUSD: floatPtr(10)},
	})
	require.NoError(t, err)

	child := res.Passport
	assert.Equal(t, root.ID, child.ParentID)
	assert.Equal(t, root.ID, child.RootID)
	assert.Equal(t, 1, child.Depth)
	assert.NotEmpty(t, res.Token)

	// The minted token carries the child's identity and scopes.
	claims, err := auth.NewJWTVerifier([]byte("test-secret")).Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, child.ID, claims.PassportID)
	assert.Equal(t, []string{"github:search_code"}, claims.Scopes)

	// The child was persisted.
	stored, err := svc.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "code-searcher", stored.Name)
}

func TestDelegate_GrantIsAudited(t *testing.T) {
	svc, mock := newTestService(t)
	root := seedRoot(t, svc)

	_, err := svc.Delegate(context.Background(), DelegateRequest{
		ParentID: root.ID,
		Name:     "child",
		Scopes:   []string{"github:search_code"},
	})
	require.NoError(t, err)

	action := store.AuditDelegationGrant
	entries, err := mock.ListAudit(context.Background(), store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, root.ID, entries[0].ActorID)
}

func TestDelegate_DeniedScopes(t *testing.T) {
	svc, mock := newTestService(t)
	root := seedRoot(t, svc)
	ctx := context.Background()

	_, err := svc.Delegate(ctx, DelegateRequest{
		ParentID: root.ID,
		Name:     "overreacher",
		Scopes:   []string{"aws:delete_bucket"},
	})
	require.ErrorIs(t, err, ErrDelegationDenied)
	assert.Contains(t, err.Error(), delegation.ReasonScopeExceeded)

	// Denial was audited with the reason; nothing was persisted.
	action := store.AuditDelegationDenied
	entries, err := mock.ListAudit(ctx, store.AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, delegation.ReasonScopeExceeded, entries[0].Reason)

	children, err := mock.ListChildren(ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestDelegate_DeniedBudget(t *testing.T) {
	svc, _ := newTestService(t)
	root := seedRoot(t, svc)

	_, err := svc.Delegate(context.Background(), DelegateRequest{
		ParentID: root.ID,
		Name:     "big-spender",
		Scopes:   []string{"github:search_code"},
		Budget:   delegation.Budget{MaxCostUSD: floatPtr(500)},
	})
	require.ErrorIs(t, err, ErrDelegationDenied)
	assert.Contains(t, err.Error(), "maxCostUsd")
}

func TestDelegate_DepthLimitAcrossChain(t *testing.T) {
	svc, _ := newTestService(t)
	root := seedRoot(t, svc)
	ctx := context.Background()

	// Walk the chain to the depth limit.
	parentID := root.ID
	for i := 0; i < delegation.MaxDelegationDepth; i++ {
		res, err := svc.Delegate(ctx, DelegateRequest{
			ParentID: parentID,
			Name:     "link",
			Scopes:   []string{"github:search_code"},
		})
		require.NoError(t, err)
		assert.Equal(t, root.ID, res.Passport.RootID)
		parentID = res.Passport.ID
	}

	// The passport at max depth cannot delegate further.
	_, err := svc.Delegate(ctx, DelegateRequest{
		ParentID: parentID,
		Name:     "too-deep",
		Scopes:   []string{"github:search_code"},
	})
	require.ErrorIs(t, err, ErrDelegationDenied)
	assert.Contains(t, err.Error(), delegation.ReasonDepthExceeded)
}

func TestDelegate_ParentNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Delegate(context.Background(), DelegateRequest{
		ParentID: "ghost",
		Name:     "orphan",
	})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestDelegate_NoTokenGenerator(t *testing.T) {
	svc := NewService(store.NewMockStore(), nil, nil)
	root, err := svc.CreateRoot(context.Background(), "owner", []string{"*"}, delegation.Budget{})
	require.NoError(t, err)
	assert.Empty(t, root.Token)

	res, err := svc.Delegate(context.Background(), DelegateRequest{
		ParentID: root.Passport.ID,
		Name:     "child",
		Scopes:   []string{"github:search_code"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Token)
}
