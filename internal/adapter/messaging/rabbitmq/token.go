package rabbitmq

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// internalTokenTTL is the lifetime of the inter-service token attached
// to every published message.
const internalTokenTTL = 5 * time.Minute

// TokenIssuer signs and verifies the short-lived HS256 token services
// use to authenticate messages to each other.
type TokenIssuer struct {
	secret   []byte
	clientID string
}

// NewTokenIssuer creates an issuer for the given service identity.
func NewTokenIssuer(secret, clientID string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), clientID: clientID}
}

// Sign issues a fresh token.
func (t *TokenIssuer) Sign() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    t.clientID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(internalTokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing internal token: %w", err)
	}
	return token, nil
}

// Verify checks signature and expiry. Only HS256 is accepted.
func (t *TokenIssuer) Verify(tokenString string) error {
	_, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("verifying internal token: %w", err)
	}
	return nil
}
