// Package delegation enforces that a delegated passport never exceeds its
// parent's capabilities.
//
// Validation runs once, synchronously, when a child passport is created; it
// is never consulted per call. A child is rejected if the parent is already
// at the maximum delegation depth, if any requested scope is not covered by
// a parent scope (exact match, "*", or a "prefix:*" suffix wildcard), or if
// any numeric budget limit set on both sides is larger on the child.
//
// Rejections are values, not errors: the Result carries a stable reason
// string naming the failed check, which callers surface to whoever attempted
// the delegation.
package delegation
