package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/drawhub/canvas-relay/internal/types"
)

const (
	subjectClaim = "sub"
	emailClaim   = "email"
	nameClaim    = "name"
)

// TokenVerifier validates signed credentials minted by the external auth
// service. An invalid credential is terminal for the connection attempt.
type TokenVerifier struct {
	signingKey []byte
}

func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{signingKey: signingKey}
}

// Verify checks the token signature and expiry against the shared secret and
// extracts the identity claims. All three claims (subject id, email, display
// name) must be present.
func (v *TokenVerifier) Verify(tokenString string) (types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	sub, ok := claims[subjectClaim].(string)
	if !ok || sub == "" {
		return types.User{}, fmt.Errorf("missing subject claim")
	}

	email, ok := claims[emailClaim].(string)
	if !ok || email == "" {
		return types.User{}, fmt.Errorf("missing email claim")
	}

	name, ok := claims[nameClaim].(string)
	if !ok || name == "" {
		return types.User{}, fmt.Errorf("missing name claim")
	}

	return types.User{
		Id:   sub,
		Name: name,
	}, nil
}
