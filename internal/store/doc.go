// Package store provides persistence for glint-gateway.
//
// It holds agent passports (identities with their delegation chain
// attributes) and the audit log of delegation grants, denials, and operator
// actions. The Store interface has two implementations: SQLiteStore for
// production and MockStore for tests.
package store
