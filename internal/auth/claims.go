package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// DisplayName is carried in the token because call invites present the
// caller by name without an extra profile lookup.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	DisplayName string    `json:"name"`
	TokenType   TokenType `json:"token_type"`
}
