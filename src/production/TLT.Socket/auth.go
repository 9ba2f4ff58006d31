package socket

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var errNoIdentity = errors.New("token carries no email claim")

// handshakeClaims is the token shape issued by the account service: the
// user's email either in a dedicated claim or as the subject.
type handshakeClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// verifyToken validates an HMAC-signed handshake token and returns the
// user's email.
func verifyToken(secret, tokenString string) (string, error) {
	claims := &handshakeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	if claims.Email != "" {
		return claims.Email, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", errNoIdentity
}
