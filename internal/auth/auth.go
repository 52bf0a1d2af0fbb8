package auth

import "github.com/golang-jwt/jwt/v5"

// Authenticator issues and checks short-lived tokens bound to one subject. The relay keeps two:
// one for stream tokens it hands to browsers, one for the storefront backend's calls.
type Authenticator interface {
	GenerateToken(subject string) (string, error)
	ValidateToken(token string) (*jwt.Token, error)
	ValidateTokenFor(token, subject string) (*jwt.Token, error)
}
