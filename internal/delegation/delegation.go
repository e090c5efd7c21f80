// ABOUTME: Validates delegated passport capabilities against the parent passport.
// ABOUTME: Enforces depth, scope, and budget containment at passport-creation time.

package delegation

import (
	"fmt"
	"strings"
)

// MaxDelegationDepth is the deepest delegation chain the gateway permits.
// A parent already at this depth may not delegate further.
const MaxDelegationDepth = 3

// Rejection reasons. These strings are part of the API contract: they are
// surfaced verbatim to the caller that attempted to create the passport.
const (
	ReasonDepthExceeded = "max delegation depth exceeded"
	ReasonScopeExceeded = "child scopes exceed parent scopes"
)

// Budget holds the optional spend limits of a passport. A nil field means
// the passport is unconstrained in that dimension.
type Budget struct {
	MaxToolCalls *int     `json:"maxToolCalls,omitempty"`
	MaxCostUSD   *float64 `json:"maxCostUsd,omitempty"`
	TTLHours     *float64 `json:"ttlHours,omitempty"`
}

// Metadata is the delegation-relevant view of a passport. It is computed
// once at creation and immutable thereafter.
type Metadata struct {
	Scopes          []string
	Budget          Budget
	DelegationDepth int
	RootPassportID  string // empty for root passports
}

// Result is the outcome of a delegation validation. Reason is set only when
// Valid is false and names the check that failed.
type Result struct {
	Valid  bool
	Reason string
}

// Validate checks that a requested child passport stays within its parent's
// capabilities. Checks run in order and short-circuit on the first failure:
// delegation depth, scope containment, then each budget limit. Validation is
// pure; the caller derives the child's depth and root separately.
func Validate(parent Metadata, childScopes []string, childBudget Budget) Result {
	if parent.DelegationDepth >= MaxDelegationDepth {
		return Result{Reason: ReasonDepthExceeded}
	}

	for _, child := range childScopes {
		if !scopeCovered(parent.Scopes, child) {
			return Result{Reason: ReasonScopeExceeded}
		}
	}

	if r := compareLimit("maxToolCalls", intPtrToFloat(parent.Budget.MaxToolCalls), intPtrToFloat(childBudget.MaxToolCalls)); r != "" {
		return Result{Reason: r}
	}
	if r := compareLimit("maxCostUsd", parent.Budget.MaxCostUSD, childBudget.MaxCostUSD); r != "" {
		return Result{Reason: r}
	}
	if r := compareLimit("ttlHours", parent.Budget.TTLHours, childBudget.TTLHours); r != "" {
		return Result{Reason: r}
	}

	return Result{Valid: true}
}

// DeriveChild computes the immutable chain attributes of a new child
// passport: depth is the parent's plus one, and the root is the parent's
// root, or the parent itself when the parent is a root passport. Callers
// validate first; DeriveChild itself performs no checks.
func DeriveChild(parentID string, parent Metadata) (depth int, rootID string) {
	rootID = parent.RootPassportID
	if rootID == "" {
		rootID = parentID
	}
	return parent.DelegationDepth + 1, rootID
}

// scopeCovered reports whether any parent scope covers the child scope.
// A parent scope covers a child scope if it is "*", an exact match, or a
// suffix wildcard ("github:*" covers "github:search_code").
func scopeCovered(parentScopes []string, child string) bool {
	for _, parent := range parentScopes {
		if parent == "*" || parent == child {
			return true
		}
		if strings.HasSuffix(parent, ":*") && strings.HasPrefix(child, strings.TrimSuffix(parent, "*")) {
			return true
		}
	}
	return false
}

// compareLimit rejects a child limit that exceeds the parent's. A missing
// limit on either side is unconstrained and never compared.
func compareLimit(name string, parent, child *float64) string {
	if parent == nil || child == nil {
		return ""
	}
	if *child > *parent {
		return fmt.Sprintf("child %s exceeds parent %s", name, name)
	}
	return ""
}

func intPtrToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
