package secrets

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by admission tokens.
type Claims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies HS256 tokens against the rotator's key pair.
// A token signed with the previous secret verifies until the grace
// window closes, which is what makes rotation zero-downtime.
type TokenVerifier struct {
	rotator *Rotator
	expiry  time.Duration
}

// NewTokenVerifier wires the verifier to a rotator.
func NewTokenVerifier(rotator *Rotator, expiry time.Duration) *TokenVerifier {
	return &TokenVerifier{rotator: rotator, expiry: expiry}
}

// Issue signs a token for identity with the current secret.
func (v *TokenVerifier) Issue(identity string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.rotator.Current()))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, trying the current secret
// first and the previous one while its grace window is open.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	pair := v.rotator.Snapshot()

	claims, err := v.parse(tokenString, pair.Current)
	if err == nil {
		return claims, nil
	}

	if errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
		pair.Previous != "" && time.Now().Before(pair.PreviousExpiresAt) {
		return v.parse(tokenString, pair.Previous)
	}

	return nil, err
}

func (v *TokenVerifier) parse(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}

	return claims, nil
}
