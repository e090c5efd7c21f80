// Package auth provides passport token minting and verification.
//
// Tokens are HS256-signed JWTs whose subject is the passport ID and which
// carry the passport's scopes as a claim. The gateway mints a token when a
// delegated passport is created and verifies it on authenticated API
// requests.
package auth
