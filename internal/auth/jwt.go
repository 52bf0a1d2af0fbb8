package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenSubject = errors.New("token issued for another subject")

type JWTAuthenticator struct {
	secret string
	aud    string
	iss    string
	ttl    time.Duration
}

func NewJWTAuthenticator(secret, aud, iss string, ttl time.Duration) *JWTAuthenticator {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &JWTAuthenticator{secret: secret, aud: aud, iss: iss, ttl: ttl}
}

// GenerateToken issues a token whose subject is the correlation id.
func (a *JWTAuthenticator) GenerateToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.iss,
		Audience:  jwt.ClaimStrings{a.aud},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(a.secret))
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

func (a *JWTAuthenticator) ValidateToken(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.secret), nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(a.iss),
		jwt.WithAudience(a.aud),
	)
}

// ValidateTokenFor checks the token and that it was issued for subject.
func (a *JWTAuthenticator) ValidateTokenFor(token, subject string) (*jwt.Token, error) {
	parsed, err := a.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return nil, err
	}
	if sub == "" || sub != subject {
		return nil, ErrTokenSubject
	}
	return parsed, nil
}
