package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims is the subset of an admin bearer token the console displays.
type OperatorClaims struct {
	UID   string
	Email string
	Admin bool
}

// ParseOperatorClaims decodes the claims of a bearer token without verifying
// its signature. Verification is the backend's responsibility; the console
// only needs the identity for display and audit logging.
func ParseOperatorClaims(token string) (*OperatorClaims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	out := &OperatorClaims{}
	if v, ok := claims["sub"].(string); ok {
		out.UID = v
	}
	if v, ok := claims["uid"].(string); ok && out.UID == "" {
		out.UID = v
	}
	if v, ok := claims["email"].(string); ok {
		out.Email = v
	}
	if v, ok := claims["admin"].(bool); ok {
		out.Admin = v
	}
	return out, nil
}
