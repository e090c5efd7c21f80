// Package passport manages agent identities and their delegation.
//
// A passport records an agent's scopes, budget, and position in its
// delegation chain. Delegation is validated exactly once, at creation time:
// the service loads the parent, runs the delegation checks, and either
// persists the child with derived depth and root plus a freshly minted
// scoped token, or records the denial in the audit log and reports the
// reason to the caller.
package passport
