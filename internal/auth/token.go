// ABOUTME: JWT token minting and verification for passport authentication.
// ABOUTME: Uses HS256 signing with configurable secret; tokens carry passport scopes.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// DefaultTokenTTL is used when a passport has no TTL budget.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Claims is the verified content of a passport token.
type Claims struct {
	PassportID string
	Scopes     []string
}

// TokenVerifier defines the interface for token verification.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the passport ID and scopes.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	out := &Claims{PassportID: sub}
	if raw, ok := claims["scopes"].([]any); ok {
		for _, s := range raw {
			if scope, ok := s.(string); ok {
				out.Scopes = append(out.Scopes, scope)
			}
		}
	}
	return out, nil
}

// Generate creates a new JWT token for the given passport with expiration.
func (v *JWTVerifier) Generate(passportID string, scopes []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    passportID,
		"scopes": scopes,
		"iat":    now.Unix(),
		"exp":    now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
